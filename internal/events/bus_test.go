package events

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCausalOrderPerTask(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	got := make(map[string][]Kind)
	done := make(chan struct{})
	total := 0

	bus.Subscribe(nil, func(ev Event) {
		mu.Lock()
		got[ev.TaskID] = append(got[ev.TaskID], ev.Kind)
		total++
		if total == 20 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		taskID := fmt.Sprintf("t%d", i)
		bus.Publish(Event{Kind: KindTaskStarted, TaskID: taskID})
		bus.Publish(Event{Kind: KindTaskCompleted, TaskID: taskID})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for taskID, kinds := range got {
		if len(kinds) != 2 || kinds[0] != KindTaskStarted || kinds[1] != KindTaskCompleted {
			t.Fatalf("task %s delivered out of causal order: %v", taskID, kinds)
		}
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	delivered := make(chan Event, 2)
	bus.Subscribe(nil, func(ev Event) {
		if ev.TaskID == "boom" {
			panic("handler bug")
		}
		delivered <- ev
	})

	bus.Publish(Event{Kind: KindTaskStarted, TaskID: "boom"})
	bus.Publish(Event{Kind: KindTaskStarted, TaskID: "fine"})

	select {
	case ev := <-delivered:
		if ev.TaskID != "fine" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("panic in handler stopped delivery")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(nil, func(ev Event) {
		<-block
	})

	start := time.Now()
	for i := 0; i < subscriberBuffer*2; i++ {
		bus.Publish(Event{Kind: KindTaskStarted, TaskID: fmt.Sprintf("t%d", i)})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked on slow subscriber for %v", elapsed)
	}
	close(block)
}

func TestPredicateFiltersEvents(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	matched := make(chan Event, 4)
	bus.Subscribe(ForRun("run1"), func(ev Event) { matched <- ev })

	bus.Publish(Event{Kind: KindPhaseChanged, RunID: "run2"})
	bus.Publish(Event{Kind: KindPhaseChanged, RunID: "run1"})

	select {
	case ev := <-matched:
		if ev.RunID != "run1" {
			t.Fatalf("predicate leaked event for %s", ev.RunID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("matching event not delivered")
	}
	select {
	case ev := <-matched:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	received := make(chan Event, 4)
	unsubscribe := bus.Subscribe(nil, func(ev Event) { received <- ev })

	bus.Publish(Event{Kind: KindTaskStarted, TaskID: "t1"})
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered before unsubscribe")
	}

	unsubscribe()
	bus.Publish(Event{Kind: KindTaskStarted, TaskID: "t2"})
	select {
	case ev := <-received:
		t.Fatalf("event delivered after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishFillsIDAndTimestamp(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(nil, func(ev Event) { received <- ev })

	bus.Publish(Event{Kind: KindRunDone})
	select {
	case ev := <-received:
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Fatalf("publish must stamp id and timestamp: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}
