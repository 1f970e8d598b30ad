package events

import "sync"

// AllTypes lists every event type the kernel and runtime publish.
var AllTypes = []EventType{
	EnvCreated, EnvRunnable, EnvRunning, EnvDestroyed,
	PageFault, CowResolved, CowFatal,
	ForkCompleted, ForkFailed, PageDuplicated,
}

// Log keeps the most recent events in a fixed-size ring.
type Log struct {
	mu   sync.Mutex
	buf  []Event
	pos  int
	full bool
}

// NewLog creates a log holding up to size events.
func NewLog(size int) *Log {
	if size < 1 {
		size = 1
	}
	return &Log{buf: make([]Event, size)}
}

// Attach records every event published on bus.
func (l *Log) Attach(bus *Bus) {
	for _, t := range AllTypes {
		bus.Subscribe(t, l.Record)
	}
}

// Record appends e, overwriting the oldest event when full.
func (l *Log) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.pos] = e
	l.pos = (l.pos + 1) % len(l.buf)
	if l.pos == 0 {
		l.full = true
	}
}

// Recent returns up to n events, oldest first.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	available := l.pos
	if l.full {
		available = len(l.buf)
	}
	if n > available || n <= 0 {
		n = available
	}
	if n == 0 {
		return nil
	}

	out := make([]Event, n)
	start := l.pos - n
	if start < 0 {
		start += len(l.buf)
	}
	for i := range n {
		out[i] = l.buf[(start+i)%len(l.buf)]
	}
	return out
}

// Len returns the number of events stored.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.pos
}
