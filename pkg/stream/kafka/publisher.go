package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Publisher writes utterance envelopes to the stream topic. It is the
// producing counterpart of Stream and exists mainly for seeding and capture
// tooling; the retention worker itself never publishes.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a publisher for the given topic. Everything goes to
// partition 0 since ordering is only guaranteed within a single partition.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:     kafkago.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafkago.LeastBytes{},
		},
	}, nil
}

// Publish writes one utterance to the topic.
func (p *Publisher) Publish(ctx context.Context, event memory.RawEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	value, err := json.Marshal(envelope{
		Text:       event.Text,
		Timestamp:  ts,
		SessionTag: event.SessionTag,
		Metadata:   event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	msg := kafkago.Message{Value: value}
	if event.SessionTag != "" {
		msg.Key = []byte(event.SessionTag)
	}

	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
