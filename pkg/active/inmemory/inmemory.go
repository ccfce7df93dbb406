// Package inmemory provides a brute-force cosine active.Store guarded by a
// read-write mutex. Used by tests and small local deployments; the sqlitevec
// store is the durable default.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/memory"
)

// Store implements active.Store with in-process data structures.
type Store struct {
	dimensions uint

	mu sync.RWMutex

	// byID owns the memories; order tracks insertion order for the
	// oldest-first eviction scan.
	byID     map[string]memory.Memory
	bySource map[uint64]string
	order    []string
	clockNow func() time.Time
}

// Config holds configuration for the in-memory store.
type Config struct {
	// Dimensions is the fixed embedding dimension D. Required.
	Dimensions uint
}

// New creates an empty in-memory active store.
func New(c Config) (*Store, error) {
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("embedding dimensions cannot be 0, must be configured")
	}

	return &Store{
		dimensions: c.Dimensions,
		byID:       make(map[string]memory.Memory),
		bySource:   make(map[uint64]string),
		clockNow:   time.Now,
	}, nil
}

// Insert adds a memory to the store. No-op when the SourceID is already
// present.
func (s *Store) Insert(_ context.Context, m memory.Memory) error {
	if uint(len(m.Embedding)) != s.dimensions {
		return fmt.Errorf("%w: got %d, store dimension is %d",
			active.ErrDimensionMismatch, len(m.Embedding), s.dimensions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.bySource[m.SourceID]; dup {
		return nil
	}
	if _, dup := s.byID[m.ID]; dup {
		return nil
	}

	s.byID[m.ID] = m
	s.bySource[m.SourceID] = m.ID
	s.order = append(s.order, m.ID)

	return nil
}

// NearestNeighbor returns the closest memory by cosine distance, or
// (nil, 0, nil) on an empty store.
func (s *Store) NearestNeighbor(_ context.Context, embedding []float32) (*memory.Memory, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *memory.Memory
	bestDist := 0.0

	for id := range s.byID {
		m := s.byID[id]
		dist := memory.CosineDistance(embedding, m.Embedding)
		if best == nil || dist < bestDist {
			cp := m
			best = &cp
			bestDist = dist
		}
	}

	if best == nil {
		return nil, 0, nil
	}
	return best, bestDist, nil
}

// Search returns up to topK memories by ascending cosine distance.
func (s *Store) Search(_ context.Context, embedding []float32, topK int) ([]memory.SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]memory.SearchResult, 0, len(s.byID))
	for id := range s.byID {
		m := s.byID[id]
		results = append(results, memory.SearchResult{
			Memory:   m,
			Distance: memory.CosineDistance(embedding, m.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// EvictCandidates returns memories older than maxAge plus the oldest excess
// entries beyond maxCount. A maxAge or maxCount of zero disables that rule.
func (s *Store) EvictCandidates(_ context.Context, maxAge time.Duration, maxCount int) ([]memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := make([]memory.Memory, 0, len(s.order))
	for _, id := range s.order {
		if m, ok := s.byID[id]; ok {
			ordered = append(ordered, m)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	selected := make(map[string]bool)
	var out []memory.Memory

	if maxAge > 0 {
		cutoff := s.clockNow().Add(-maxAge)
		for _, m := range ordered {
			if m.CreatedAt.Before(cutoff) {
				selected[m.ID] = true
				out = append(out, m)
			}
		}
	}

	if maxCount > 0 {
		excess := len(ordered) - maxCount
		for i := 0; i < len(ordered) && excess > 0; i++ {
			m := ordered[i]
			if selected[m.ID] {
				excess--
				continue
			}
			selected[m.ID] = true
			out = append(out, m)
			excess--
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// Remove deletes memories by ID. Unknown IDs are ignored.
func (s *Store) Remove(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok {
			continue
		}
		delete(s.byID, id)
		delete(s.bySource, m.SourceID)
	}

	// Compact the insertion order lazily.
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.byID[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept

	return nil
}

// Get retrieves memories by ID. Missing IDs are skipped.
func (s *Store) Get(_ context.Context, ids []string) ([]memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]memory.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Count returns the number of active memories.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// Dimensions returns the fixed embedding dimension.
func (s *Store) Dimensions() uint {
	return s.dimensions
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// SetClock overrides the eviction clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockNow = now
}

var _ active.Store = (*Store)(nil)
