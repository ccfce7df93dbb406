// Package inmemory provides an in-process stream.Reader backed by a slice.
// Used by tests and the local dev mode; Append stands in for the external
// capture layer.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/stream"
)

// Stream implements stream.Reader over an append-only in-process slice.
type Stream struct {
	mu     sync.RWMutex
	events []memory.RawEvent
	nextID uint64
	acked  stream.Cursor
	closed bool
}

// New creates an empty in-memory stream.
func New() *Stream {
	return &Stream{nextID: 1}
}

// Append adds an utterance to the stream and returns its assigned ID.
// Plays the role of the external capture layer.
func (s *Stream) Append(text, sessionTag string, metadata map[string]string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	s.events = append(s.events, memory.RawEvent{
		ID:         id,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		SessionTag: sessionTag,
		Metadata:   metadata,
	})

	return id
}

// Read returns up to max events with IDs greater than the cursor.
func (s *Stream) Read(_ context.Context, cursor stream.Cursor, max int) ([]memory.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, stream.ErrClosed
	}

	if max <= 0 {
		max = len(s.events)
	}

	var out []memory.RawEvent
	for _, ev := range s.events {
		if ev.ID <= uint64(cursor) {
			continue
		}
		out = append(out, ev)
		if len(out) == max {
			break
		}
	}

	return out, nil
}

// Ack records the acknowledged cursor. Entries are never deleted.
func (s *Stream) Ack(_ context.Context, cursor stream.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor > s.acked {
		s.acked = cursor
	}
	return nil
}

// Acked returns the highest acknowledged cursor.
func (s *Stream) Acked() stream.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acked
}

// Len returns the number of events appended so far.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close marks the stream closed; subsequent reads fail.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ stream.Reader = (*Stream)(nil)
