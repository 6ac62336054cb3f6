package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DLQMessage is the envelope written to a dead letter topic
type DLQMessage struct {
	ID            string            `json:"id"`
	OriginalTopic string            `json:"original_topic"`
	OriginalKey   string            `json:"original_key"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	Error         string            `json:"error"`
	Attempts      int               `json:"attempts"`
	MovedToDLQAt  time.Time         `json:"moved_to_dlq_at"`
	Source        string            `json:"source"`
}

// DLQPublisher publishes failed messages to a dead letter queue
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
}

// JSONProducer is satisfied by *kafka.Producer
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// DLQTopicSuffix is appended to the original topic name
const DLQTopicSuffix = ".dlq"

// DLQTopic returns the dead letter topic for a topic
func DLQTopic(originalTopic string) string {
	return originalTopic + DLQTopicSuffix
}

// KafkaDLQPublisher writes DLQ messages to "<topic>.dlq"
type KafkaDLQPublisher struct {
	producer JSONProducer
	source   string
}

// NewKafkaDLQPublisher creates a DLQ publisher over a JSON producer
func NewKafkaDLQPublisher(producer JSONProducer, source string) *KafkaDLQPublisher {
	return &KafkaDLQPublisher{producer: producer, source: source}
}

// PublishToDLQ publishes msg to the dead letter topic of its original topic
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"attempts":       fmt.Sprintf("%d", msg.Attempts),
		"source":         msg.Source,
	}

	return p.producer.ProduceJSON(ctx, DLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// NoOpDLQPublisher drops DLQ messages
type NoOpDLQPublisher struct{}

// PublishToDLQ is a no-op
func (NoOpDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error { return nil }
