// Package memory defines the core data model for the engram pipeline:
// raw utterance events consumed from the input stream, transient scored
// candidates, and the persisted Memory unit that moves between the active
// and archival tiers.
package memory

import (
	"time"
)

// Tier identifies which storage tier currently holds a Memory.
type Tier string

const (
	// TierActive marks a memory held in the fast, similarity-indexed store.
	TierActive Tier = "active"

	// TierArchived marks a memory moved to date-partitioned cold storage.
	TierArchived Tier = "archived"
)

// MetadataDegradedNovelty is set to "true" on memories whose novelty was
// replaced by the configured fallback because the nearest-neighbor lookup
// failed. Degraded scores must never be treated as fully-scored when tuning
// the admission threshold later.
const MetadataDegradedNovelty = "degraded_novelty"

// RawEvent is one captured utterance from the input stream. Immutable once
// appended upstream; the stream-assigned ID is monotonically ordered and
// doubles as the idempotency key for reprocessing after a crash.
type RawEvent struct {
	ID         uint64            `json:"id"`
	Text       string            `json:"text"`
	Timestamp  time.Time         `json:"timestamp"`
	SessionTag string            `json:"session_tag,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ScoredCandidate is the transient output of the surprise evaluator. It is
// discarded immediately after the admission decision unless admitted.
type ScoredCandidate struct {
	Event RawEvent

	// Embedding is the vector produced for Event.Text, carried forward so
	// an admitted candidate is not embedded twice.
	Embedding []float32

	// Perplexity is the raw oracle value (>= 1).
	Perplexity float64

	// Novelty is 1 - cosine similarity to the nearest active memory,
	// clamped to [0,1]. 1.0 when the active store is empty.
	Novelty float64

	// Surprise is the weighted combination of normalized perplexity and
	// novelty, in [0,1].
	Surprise float64

	// Degraded is true when Novelty is the configured fallback rather than
	// a measured value.
	Degraded bool
}

// Memory is the persisted unit. Write-once: after creation only the Tier
// field changes, and only from active to archived.
type Memory struct {
	ID         string            `json:"id"`
	SourceID   uint64            `json:"source_id"`
	Text       string            `json:"text"`
	Embedding  []float32         `json:"embedding"`
	Surprise   float64           `json:"surprise"`
	Perplexity float64           `json:"perplexity"`
	Novelty    float64           `json:"novelty"`
	CreatedAt  time.Time         `json:"created_at"`
	Tier       Tier              `json:"tier"`
	SessionTag string            `json:"session_tag,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchResult pairs a memory with its cosine distance to a query vector
// (lower = more similar).
type SearchResult struct {
	Memory   Memory  `json:"memory"`
	Distance float64 `json:"distance"`
}
