package events

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus(testLogger())
	var received Event
	bus.Subscribe(EnvRunning, func(e Event) {
		received = e
	})

	bus.Publish(Event{
		Type: EnvRunning,
		Data: map[string]string{"env": "00001000", "parent": "00000000"},
	})

	if received.Type != EnvRunning {
		t.Fatalf("expected %s, got %s", EnvRunning, received.Type)
	}
	if received.Data["env"] != "00001000" {
		t.Fatalf("expected env=00001000, got %s", received.Data["env"])
	}
	if received.Timestamp.IsZero() {
		t.Fatal("expected non-zero timestamp")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus(testLogger())
	var count int
	bus.Subscribe(CowFatal, func(e Event) { count++ })
	bus.Subscribe(CowFatal, func(e Event) { count++ })
	bus.Subscribe(CowFatal, func(e Event) { count++ })

	bus.Publish(Event{Type: CowFatal})

	if count != 3 {
		t.Fatalf("expected 3 notifications, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var count int
	id := bus.Subscribe(EnvDestroyed, func(e Event) { count++ })

	bus.Publish(Event{Type: EnvDestroyed})
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}

	bus.Unsubscribe(id)
	bus.Publish(Event{Type: EnvDestroyed})
	if count != 1 {
		t.Fatalf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestUnsubscribeNonexistent(t *testing.T) {
	bus := NewBus(testLogger())
	// Should not panic.
	bus.Unsubscribe(9999)
}

func TestPanicRecovery(t *testing.T) {
	bus := NewBus(testLogger())
	var afterPanic bool

	bus.Subscribe(CowFatal, func(e Event) {
		panic("test panic")
	})
	bus.Subscribe(CowFatal, func(e Event) {
		afterPanic = true
	})

	bus.Publish(Event{Type: CowFatal})

	if !afterPanic {
		t.Fatal("handler after panic was not called")
	}
}

func TestNoSubscribersNoAlloc(t *testing.T) {
	bus := NewBus(testLogger())

	// Publish to an event type with no subscribers.
	// Should return immediately without allocating.
	bus.Publish(Event{Type: EnvRunning})
	// If we get here without panic, the test passes.
}

func TestDifferentEventTypes(t *testing.T) {
	bus := NewBus(testLogger())
	var runningCount, createdCount int

	bus.Subscribe(EnvRunning, func(e Event) { runningCount++ })
	bus.Subscribe(EnvCreated, func(e Event) { createdCount++ })

	bus.Publish(Event{Type: EnvRunning})
	bus.Publish(Event{Type: EnvRunning})
	bus.Publish(Event{Type: EnvCreated})

	if runningCount != 2 {
		t.Fatalf("expected 2 running events, got %d", runningCount)
	}
	if createdCount != 1 {
		t.Fatalf("expected 1 created event, got %d", createdCount)
	}
}

func TestOrderedDelivery(t *testing.T) {
	bus := NewBus(testLogger())
	var order []int

	for i := range 1000 {
		bus.Subscribe(EnvRunning, func(e Event) {
			order = append(order, i)
		})
	}

	bus.Publish(Event{Type: EnvRunning})

	if len(order) != 1000 {
		t.Fatalf("expected 1000, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("out of order at index %d: got %d", i, v)
		}
	}
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var wg sync.WaitGroup

	// Concurrent subscribe/unsubscribe from multiple goroutines.
	for range 50 {
		wg.Go(func() {
			id := bus.Subscribe(EnvRunning, func(e Event) {})
			bus.Publish(Event{Type: EnvRunning})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus(testLogger())
	if bus.SubscriberCount(EnvRunning) != 0 {
		t.Fatal("expected 0 subscribers")
	}

	id1 := bus.Subscribe(EnvRunning, func(e Event) {})
	id2 := bus.Subscribe(EnvRunning, func(e Event) {})
	if bus.SubscriberCount(EnvRunning) != 2 {
		t.Fatalf("expected 2, got %d", bus.SubscriberCount(EnvRunning))
	}

	bus.Unsubscribe(id1)
	if bus.SubscriberCount(EnvRunning) != 1 {
		t.Fatalf("expected 1, got %d", bus.SubscriberCount(EnvRunning))
	}

	bus.Unsubscribe(id2)
	if bus.SubscriberCount(EnvRunning) != 0 {
		t.Fatalf("expected 0, got %d", bus.SubscriberCount(EnvRunning))
	}
}

func TestAllEventTypes(t *testing.T) {
	types := AllTypes
	if len(types) != 10 {
		t.Fatalf("AllTypes has %d entries, want 10", len(types))
	}

	bus := NewBus(testLogger())
	received := make(map[EventType]bool)
	var mu sync.Mutex

	for _, et := range types {
		bus.Subscribe(et, func(e Event) {
			mu.Lock()
			received[e.Type] = true
			mu.Unlock()
		})
	}

	for _, et := range types {
		bus.Publish(Event{Type: et, Data: map[string]string{"env": "00001000"}})
	}

	for _, et := range types {
		if !received[et] {
			t.Errorf("event type %s not received", et)
		}
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	// Should not panic.
	bus.Publish(Event{Type: PageFault})
}

func TestForkEventData(t *testing.T) {
	bus := NewBus(testLogger())
	var completed, failed bool

	bus.Subscribe(ForkCompleted, func(e Event) {
		completed = true
		if e.Data["child"] != "00001001" {
			t.Errorf("expected child=00001001, got %s", e.Data["child"])
		}
	})
	bus.Subscribe(ForkFailed, func(e Event) {
		failed = true
	})

	bus.Publish(Event{
		Type: ForkCompleted,
		Data: map[string]string{"child": "00001001"},
	})
	bus.Publish(Event{Type: ForkFailed})

	if !completed {
		t.Fatal("expected FORK_COMPLETED event")
	}
	if !failed {
		t.Fatal("expected FORK_FAILED event")
	}
}
func TestEventTimestampAutoSet(t *testing.T) {
	bus := NewBus(testLogger())
	var received Event
	bus.Subscribe(EnvRunning, func(e Event) { received = e })

	before := time.Now()
	bus.Publish(Event{Type: EnvRunning})

	if received.Timestamp.Before(before) {
		t.Fatal("timestamp should not be before publish time")
	}
}

func TestEventTimestampPreserved(t *testing.T) {
	bus := NewBus(testLogger())
	var received Event
	bus.Subscribe(EnvRunning, func(e Event) { received = e })

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: EnvRunning, Timestamp: ts})

	if !received.Timestamp.Equal(ts) {
		t.Fatalf("expected preserved timestamp, got %v", received.Timestamp)
	}
}
