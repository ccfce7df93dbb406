// Package archive defines the cold tier: durable, date-partitioned storage
// for memories evicted from the active store. Search here is a linear or
// partition-limited scan and is allowed to be slower than the active store;
// there is no index to maintain while idle.
//
// Once a memory is marked pending archival, the archive is the source of
// truth for it: the sweep writes here first and removes from the active
// store second, so a crash between the two duplicates across tiers rather
// than losing the memory.
package archive

import (
	"context"
	"time"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Store is the archival tier contract.
type Store interface {
	// Archive appends memories to cold storage, partitioned by their
	// CreatedAt date. Idempotent under retry: archiving the same memory ID
	// twice produces no duplicate entry.
	Archive(ctx context.Context, memories []memory.Memory) error

	// Search scans archived memories by ascending cosine distance. A
	// non-zero from/to restricts the scan to partitions in that range.
	Search(ctx context.Context, embedding []float32, topK int, from, to time.Time) ([]memory.SearchResult, error)

	// Has reports whether a memory ID is already archived. Used by the
	// restart reconciliation pass.
	Has(ctx context.Context, id string) (bool, error)

	// Count returns the number of archived memories.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// PartitionOf returns the date partition key for a creation time.
func PartitionOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
