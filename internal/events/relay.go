package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Relay forwards bus events onto a Redis Stream so external observers
// (dashboards, log shippers) can tail a run without linking the engine.
type Relay struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *log.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithMaxLenApprox caps the stream at an approximate max length.
func WithMaxLenApprox(maxLen int64) RelayOption {
	return func(r *Relay) { r.maxLen = maxLen }
}

// WithPublishTimeout bounds each XADD call.
func WithPublishTimeout(d time.Duration) RelayOption {
	return func(r *Relay) { r.timeout = d }
}

// NewRelay creates a relay writing to the given stream.
func NewRelay(client *redis.Client, stream string, opts ...RelayOption) (*Relay, error) {
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	r := &Relay{
		client:  client,
		stream:  stream,
		timeout: 2 * time.Second,
		logger:  log.New(log.Writer(), "[RELAY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Attach subscribes the relay to the bus and returns the unsubscribe
// function. Publish errors are logged, never surfaced to the engine.
func (r *Relay) Attach(bus *Bus) func() {
	return bus.Subscribe(nil, func(ev Event) {
		if err := r.Publish(context.Background(), ev); err != nil {
			r.logger.Printf("publish %s: %v", ev.Kind, err)
		}
	})
}

// Publish appends the event envelope to the Redis stream.
func (r *Relay) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// DecodeEnvelope parses an event out of a stream entry's values.
func DecodeEnvelope(values map[string]interface{}) (Event, error) {
	raw, ok := values["envelope"].(string)
	if !ok {
		return Event{}, fmt.Errorf("envelope field missing")
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return ev, nil
}
