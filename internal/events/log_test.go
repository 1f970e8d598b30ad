package events

import "testing"

func TestLogKeepsOrder(t *testing.T) {
	l := NewLog(4)
	for _, et := range []EventType{EnvCreated, EnvRunnable, EnvRunning} {
		l.Record(Event{Type: et})
	}
	got := l.Recent(0)
	if len(got) != 3 || got[0].Type != EnvCreated || got[2].Type != EnvRunning {
		t.Fatalf("Recent = %+v", got)
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
}

func TestLogWrapsAround(t *testing.T) {
	l := NewLog(3)
	for i, et := range AllTypes[:5] {
		l.Record(Event{Type: et, Data: map[string]string{"i": string(rune('0' + i))}})
	}
	got := l.Recent(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range AllTypes[2:5] {
		if got[i].Type != want {
			t.Errorf("got[%d] = %s, want %s", i, got[i].Type, want)
		}
	}
	if last := l.Recent(1); len(last) != 1 || last[0].Type != AllTypes[4] {
		t.Errorf("Recent(1) = %+v", last)
	}
}

func TestLogEmpty(t *testing.T) {
	l := NewLog(0)
	if got := l.Recent(5); got != nil {
		t.Fatalf("Recent on empty log = %+v", got)
	}
}

func TestLogAttach(t *testing.T) {
	bus := NewBus(testLogger())
	l := NewLog(16)
	l.Attach(bus)

	bus.Publish(Event{Type: ForkCompleted})
	bus.Publish(Event{Type: CowFatal})

	got := l.Recent(0)
	if len(got) != 2 || got[0].Type != ForkCompleted || got[1].Type != CowFatal {
		t.Fatalf("Recent = %+v", got)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
