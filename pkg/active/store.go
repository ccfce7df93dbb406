// Package active defines the hot-tier memory store: the similarity-indexed
// collection of recently admitted memories. It is both the novelty reference
// set for the surprise evaluator and the live recall source.
//
// The index is owned exclusively by the store; the retention worker and the
// recall path go through this interface, never the structure underneath.
package active

import (
	"context"
	"time"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Store holds the currently hot memory set.
//
// Insert must be safe to call concurrently with NearestNeighbor and Search;
// a query that started before an insert completed may or may not see the new
// memory. Read skew here is acceptable since novelty scoring is a heuristic.
type Store interface {
	// Insert adds a memory to the index. Inserting a memory whose SourceID
	// is already present is a no-op, which is what makes crash-and-replay
	// reprocessing idempotent. Embeddings of the wrong dimension fail the
	// insert with ErrDimensionMismatch, never the caller's loop.
	Insert(ctx context.Context, m memory.Memory) error

	// NearestNeighbor returns the single closest memory by cosine distance,
	// or (nil, 0, nil) when the store is empty.
	NearestNeighbor(ctx context.Context, embedding []float32) (*memory.Memory, float64, error)

	// Search returns up to topK memories ordered by ascending cosine
	// distance. Used by recall, not by the admission pipeline.
	Search(ctx context.Context, embedding []float32, topK int) ([]memory.SearchResult, error)

	// EvictCandidates returns memories older than maxAge plus, when the
	// store exceeds maxCount, the oldest excess entries. Oldest-first by
	// storage time, not access time: interestingness already gated entry,
	// so recency of storage is what ages an entry out. Does not remove.
	EvictCandidates(ctx context.Context, maxAge time.Duration, maxCount int) ([]memory.Memory, error)

	// Remove deletes memories by ID. Only the archival sweep calls this,
	// and only after the archive write is confirmed.
	Remove(ctx context.Context, ids []string) error

	// Get retrieves memories by ID.
	Get(ctx context.Context, ids []string) ([]memory.Memory, error)

	// Count returns the number of active memories.
	Count(ctx context.Context) (int, error)

	// Dimensions returns the fixed embedding dimension D for this store
	// generation.
	Dimensions() uint

	// Close releases any resources held by the store.
	Close() error
}
