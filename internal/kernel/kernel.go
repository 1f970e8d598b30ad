// Package kernel is a simulated exokernel. It owns physical memory, page
// tables, and environments, and exposes them to user-space runtimes only
// through the system calls on Syscalls. Page faults raised by user memory
// accesses are reflected back to the faulting environment's upcall.
package kernel

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/pte"
)

// Defaults for Config fields left at zero.
const (
	DefaultNPages = 1024
	DefaultNEnv   = maxEnv
)

// Config configures a Kernel.
type Config struct {
	NPages int // physical pages, including the reserved page 0
	NEnv   int // environment table size, at most 1024
	Logger *slog.Logger
	Bus    *events.Bus
}

// Kernel is the simulated exokernel. It is safe for concurrent use; user
// code in upcalls and trapframes runs without the kernel lock held.
type Kernel struct {
	mu      sync.Mutex
	pm      *physmem
	envs    []*Env
	next    int // round-robin scheduling cursor
	pending []events.Event

	logger *slog.Logger
	bus    *events.Bus
}

// New creates a kernel with an empty environment table.
func New(cfg Config) (*Kernel, error) {
	if cfg.NPages == 0 {
		cfg.NPages = DefaultNPages
	}
	if cfg.NEnv == 0 {
		cfg.NEnv = DefaultNEnv
	}
	if cfg.NPages < 2 {
		return nil, fmt.Errorf("kernel: npages must be at least 2, got %d", cfg.NPages)
	}
	if cfg.NEnv < 1 || cfg.NEnv > maxEnv {
		return nil, fmt.Errorf("kernel: nenv must be between 1 and %d, got %d", maxEnv, cfg.NEnv)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Kernel{
		pm:     newPhysmem(cfg.NPages),
		envs:   make([]*Env, cfg.NEnv),
		logger: logger,
		bus:    cfg.Bus,
	}, nil
}

// queue records an event to publish once the kernel lock is released.
func (k *Kernel) queue(ev events.Event) {
	k.pending = append(k.pending, ev)
}

// unlock releases the kernel lock and publishes queued events, so that
// subscribers may call back into the kernel.
func (k *Kernel) unlock() {
	pending := k.pending
	k.pending = nil
	k.mu.Unlock()
	for _, ev := range pending {
		k.bus.Publish(ev)
	}
}

// Lookup returns the page-table entry mapping va in environment id.
func (k *Kernel) Lookup(id EnvID, va pte.VA) (pte.Entry, error) {
	k.mu.Lock()
	defer k.unlock()
	e, err := k.envid2env(nil, id, false)
	if err != nil {
		return 0, err
	}
	return e.pgdir.lookup(va), nil
}

// Peek copies n bytes at va out of environment id's memory without
// raising page faults. Every page touched must be mapped.
func (k *Kernel) Peek(id EnvID, va pte.VA, n int) ([]byte, error) {
	k.mu.Lock()
	defer k.unlock()
	e, err := k.envid2env(nil, id, false)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		ent := e.pgdir.lookup(va)
		if !ent.IsPresent() {
			return nil, fmt.Errorf("peek %#x: %w", va, EFAULT)
		}
		off := pte.PGOFF(va)
		chunk := min(n-len(out), pte.PGSIZE-int(off))
		out = append(out, k.pm.page(ent.PPN())[off:int(off)+chunk]...)
		va += pte.VA(chunk)
	}
	return out, nil
}

// Status returns the run status of environment id. Destroyed or unknown
// environments report EBADENV.
func (k *Kernel) Status(id EnvID) (Status, error) {
	k.mu.Lock()
	defer k.unlock()
	e, err := k.envid2env(nil, id, false)
	if err != nil {
		return Free, err
	}
	return e.status, nil
}

// Parent returns the id of the environment that created id.
func (k *Kernel) Parent(id EnvID) (EnvID, error) {
	k.mu.Lock()
	defer k.unlock()
	e, err := k.envid2env(nil, id, false)
	if err != nil {
		return 0, err
	}
	return e.parent, nil
}

// RefCount returns the number of mappings referring to physical page ppn.
func (k *Kernel) RefCount(ppn uint32) int {
	k.mu.Lock()
	defer k.unlock()
	if int(ppn) >= len(k.pm.frames) {
		return 0
	}
	return int(k.pm.refcount(ppn))
}

// FreePages returns the number of unallocated physical pages.
func (k *Kernel) FreePages() int {
	k.mu.Lock()
	defer k.unlock()
	return k.pm.nfree()
}

// EnvCount returns the number of live environments.
func (k *Kernel) EnvCount() int {
	k.mu.Lock()
	defer k.unlock()
	n := 0
	for _, e := range k.envs {
		if e != nil && e.status != Free {
			n++
		}
	}
	return n
}

func envEvent(typ events.EventType, e *Env) events.Event {
	return events.Event{
		Type: typ,
		Data: map[string]string{"env": e.id.String(), "parent": e.parent.String()},
	}
}

func envDestroyedEvent(e *Env, reason string) events.Event {
	ev := envEvent(events.EnvDestroyed, e)
	ev.Data["reason"] = reason
	return ev
}
