package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a lifecycle event emitted by the research engine.
type Kind string

const (
	KindPlanCreated   Kind = "plan_created"
	KindTaskStarted   Kind = "task_started"
	KindTaskCompleted Kind = "task_completed"
	KindTaskFailed    Kind = "task_failed"
	KindPhaseChanged  Kind = "phase_changed"
	KindRunDone       Kind = "run_done"
)

// Event is a fire-and-forget notification about a lifecycle milestone.
type Event struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	RunID     string                 `json:"run_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Handler consumes events. Handlers run detached from the publisher;
// a panicking handler is recovered and logged, never propagated.
type Handler func(Event)

// Predicate filters events for a subscription. A nil predicate matches
// every event.
type Predicate func(Event) bool

// subscriberBuffer bounds how far a slow subscriber may lag before
// events are dropped for it.
const subscriberBuffer = 256

type subscription struct {
	pred    Predicate
	handler Handler
	ch      chan Event
	done    chan struct{}
}

// Bus fans lifecycle events out to subscribers without blocking the
// publisher. Each subscription gets a single delivery goroutine, so
// events for one task are observed in publish (causal) order; no
// ordering is guaranteed across tasks.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
	logger *log.Logger
}

// NewBus creates an event bus. A nil logger falls back to the default
// log writer.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVENTS] ", log.LstdFlags)
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler for events matching pred. The returned
// function removes the subscription and stops its delivery goroutine.
func (b *Bus) Subscribe(pred Predicate, handler Handler) func() {
	sub := &subscription{
		pred:    pred,
		handler: handler,
		ch:      make(chan Event, subscriberBuffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.deliver(b.logger)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

func (s *subscription) deliver(logger *log.Logger) {
	for {
		select {
		case ev := <-s.ch:
			s.invoke(ev, logger)
		case <-s.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-s.ch:
					s.invoke(ev, logger)
				default:
					return
				}
			}
		}
	}
}

func (s *subscription) invoke(ev Event, logger *log.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("handler panic on %s: %v", ev.Kind, r)
		}
	}()
	s.handler(ev)
}

// Publish delivers ev to all matching subscribers. It never blocks: if
// a subscriber's buffer is full the event is dropped for that
// subscriber and the drop is logged.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.pred != nil && !sub.pred(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Printf("dropping %s event for slow subscriber", ev.Kind)
		}
	}
}

// Close stops all subscriptions. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.done)
	}
}

// ForRun returns a predicate matching events belonging to a run.
func ForRun(runID string) Predicate {
	return func(ev Event) bool { return ev.RunID == runID }
}

// ForKinds returns a predicate matching any of the given kinds.
func ForKinds(kinds ...Kind) Predicate {
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(ev Event) bool {
		_, ok := set[ev.Kind]
		return ok
	}
}
