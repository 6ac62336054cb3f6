package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/cinehub-booking/internal/events"
	"github.com/prohmpiriya/cinehub-booking/pkg/kafka"
	"github.com/prohmpiriya/cinehub-booking/pkg/retry"
	"github.com/prohmpiriya/cinehub-booking/pkg/telemetry"
)

// Publisher publishes domain events onto the bus
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Producer is satisfied by *kafka.Producer
type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// Config contains configuration for the Kafka publisher
type Config struct {
	ServiceName string
	// Retry bounds re-sends of a single message after the producer's own retries
	Retry *retry.Config
}

// KafkaPublisher wraps events in the envelope and produces them keyed by aggregate id
type KafkaPublisher struct {
	producer Producer
	cfg      Config
	now      func() time.Time
}

// NewKafkaPublisher creates a new Kafka event publisher
func NewKafkaPublisher(producer Producer, cfg Config) *KafkaPublisher {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "booking-service"
	}
	if cfg.Retry == nil {
		cfg.Retry = &retry.Config{
			MaxRetries:      2,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
		}
	}
	return &KafkaPublisher{producer: producer, cfg: cfg, now: time.Now}
}

// Publish publishes evt to its topic
func (p *KafkaPublisher) Publish(ctx context.Context, evt events.Event) error {
	env, err := events.Wrap(evt, p.now())
	if err != nil {
		return err
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	headers := map[string]string{
		"event_type":   env.EventType,
		"event_id":     env.EventID,
		"source":       p.cfg.ServiceName,
		"content_type": "application/json",
	}
	telemetry.InjectHeaders(ctx, headers)

	msg := &kafka.Message{
		Topic:     evt.Topic(),
		Key:       []byte(evt.Key()),
		Value:     value,
		Headers:   headers,
		Timestamp: env.OccurredAt,
	}

	res := retry.Do(ctx, p.cfg.Retry, func(ctx context.Context) error {
		return p.producer.Produce(ctx, msg)
	})
	if res.Err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", env.EventType, evt.Topic(), res.Err)
	}
	return nil
}

// Recorder keeps published events in memory. Used by tests and the local profile.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	// Err, when set, is returned from every Publish
	Err error
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish records evt
func (r *Recorder) Publish(ctx context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(eventType string) []events.Event {
	var out []events.Event
	for _, e := range r.Events() {
		if e.Type() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// NoOp drops every event
type NoOp struct{}

// Publish does nothing
func (NoOp) Publish(ctx context.Context, evt events.Event) error { return nil }
