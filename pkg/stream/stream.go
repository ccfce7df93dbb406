// Package stream defines the input-stream contract consumed by the retention
// worker: an ordered, durable, append-only log of raw utterance events.
//
// The pipeline never deletes entries, it only acknowledges them. The durable
// journal cursor (pkg/journal) is the single source of truth for what has
// been processed; Ack lets backends that track their own commit position
// (e.g. kafka consumer offsets) mirror it on a best-effort basis.
package stream

import (
	"context"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Cursor identifies a position in the stream. Events carry monotonically
// increasing IDs; a cursor of N means every event with ID <= N is processed.
type Cursor uint64

// Reader reads raw events from an input stream backend.
type Reader interface {
	// Read returns up to max events with IDs greater than the cursor, in
	// ID order. An empty slice means nothing new is available yet.
	Read(ctx context.Context, cursor Cursor, max int) ([]memory.RawEvent, error)

	// Ack acknowledges all events up to and including the cursor.
	Ack(ctx context.Context, cursor Cursor) error

	// Close releases backend resources.
	Close() error
}
