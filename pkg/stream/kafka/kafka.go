// Package kafka provides a stream.Reader backed by a single-partition Kafka
// topic. The message offset is the event's position: event ID = offset + 1,
// so a cursor of N means the next unprocessed message lives at offset N.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/stream"
)

const (
	// DefaultBatchWait bounds how long Read waits for additional messages
	// after the first one arrives.
	DefaultBatchWait = 200 * time.Millisecond

	defaultMinBytes = 1
	defaultMaxBytes = 10 << 20
)

// Config holds configuration for the Kafka stream reader.
type Config struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// Topic is the utterance topic. Ordering is only guaranteed within a
	// single partition, so the capture layer writes to partition 0.
	Topic string

	// Partition to consume. Defaults to 0.
	Partition int

	// BatchWait bounds how long Read waits for messages beyond the first.
	// Defaults to DefaultBatchWait.
	BatchWait time.Duration
}

// envelope is the JSON payload the capture layer produces. Messages that are
// not valid JSON are treated as bare text utterances.
type envelope struct {
	Text       string            `json:"text"`
	Timestamp  time.Time         `json:"timestamp"`
	SessionTag string            `json:"session_tag,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Stream implements stream.Reader over a Kafka partition.
type Stream struct {
	config Config
	reader *kafkago.Reader
	logger *zap.Logger

	// next is the offset the underlying reader is positioned at, or -1
	// when the position is unknown and must be re-seeked.
	next int64
}

// New creates a Kafka-backed stream reader.
func New(config Config, logger *zap.Logger) (*Stream, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.BatchWait <= 0 {
		config.BatchWait = DefaultBatchWait
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   config.Brokers,
		Topic:     config.Topic,
		Partition: config.Partition,
		MinBytes:  defaultMinBytes,
		MaxBytes:  defaultMaxBytes,
	})

	logger.Info("kafka stream reader initialized",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic),
		zap.Int("partition", config.Partition),
	)

	return &Stream{
		config: config,
		reader: reader,
		logger: logger,
		next:   -1,
	}, nil
}

// Read fetches up to max messages starting at the cursor. The first message
// is awaited under the caller's context; subsequent messages are drained
// until BatchWait elapses so a slow producer yields small batches instead of
// blocking the worker loop.
func (s *Stream) Read(ctx context.Context, cursor stream.Cursor, max int) ([]memory.RawEvent, error) {
	if max <= 0 {
		max = 1
	}

	if s.next != int64(cursor) {
		if err := s.reader.SetOffset(int64(cursor)); err != nil {
			return nil, fmt.Errorf("seeking to offset %d: %w", cursor, err)
		}
		s.next = int64(cursor)
	}

	var events []memory.RawEvent
	for len(events) < max {
		msgCtx := ctx
		var cancel context.CancelFunc
		if len(events) > 0 {
			msgCtx, cancel = context.WithTimeout(ctx, s.config.BatchWait)
		}

		msg, err := s.reader.ReadMessage(msgCtx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			// Batch-wait expiry just ends the batch; real errors and
			// caller cancellation propagate.
			if len(events) > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return events, err
		}

		s.next = msg.Offset + 1
		ev, err := decode(msg)
		if err != nil {
			s.logger.Warn("skipping undecodable message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

// decode unmarshals the envelope, falling back to treating the payload as a
// bare text utterance so one malformed producer cannot wedge the stream. A
// payload with no text at all is undecodable.
func decode(msg kafkago.Message) (memory.RawEvent, error) {
	ev := memory.RawEvent{
		ID:        uint64(msg.Offset) + 1,
		Timestamp: msg.Time,
	}

	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err == nil && env.Text != "" {
		ev.Text = env.Text
		ev.SessionTag = env.SessionTag
		ev.Metadata = env.Metadata
		if !env.Timestamp.IsZero() {
			ev.Timestamp = env.Timestamp
		}
		return ev, nil
	}

	if len(msg.Value) == 0 {
		return memory.RawEvent{}, fmt.Errorf("%w: empty payload at offset %d", stream.ErrDecode, msg.Offset)
	}

	ev.Text = string(msg.Value)
	if len(msg.Key) > 0 {
		ev.SessionTag = string(msg.Key)
	}
	return ev, nil
}

// Ack is advisory for the Kafka backend: the reader consumes a fixed
// partition without a consumer group, and the durable journal cursor is the
// authoritative processing position.
func (s *Stream) Ack(_ context.Context, cursor stream.Cursor) error {
	s.logger.Debug("stream acknowledged", zap.Uint64("cursor", uint64(cursor)))
	return nil
}

// Close shuts down the underlying Kafka reader.
func (s *Stream) Close() error {
	return s.reader.Close()
}

var _ stream.Reader = (*Stream)(nil)
