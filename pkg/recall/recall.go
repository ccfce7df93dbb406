// Package recall serves similarity queries over both memory tiers and
// reports pipeline statistics.
package recall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/archive"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/oracle"
	"github.com/papercomputeco/engram/pkg/retention"
	"github.com/papercomputeco/engram/pkg/scoring"
)

// DefaultTopK is used when a query does not specify a result count.
const DefaultTopK = 10

var (
	// ErrEmptyQuery is returned when a query has neither text nor an
	// embedding.
	ErrEmptyQuery = errors.New("recall query requires text or an embedding")

	// ErrAllTiersFailed is returned when every queried tier fails.
	ErrAllTiersFailed = errors.New("all memory tiers failed")
)

// Query describes a recall request. Either Text or Embedding must be set;
// when both are present the embedding wins and no oracle call is made.
type Query struct {
	Text      string
	Embedding []float32

	// TopK caps the number of results. Zero means DefaultTopK.
	TopK int

	// IncludeArchived extends the search to the archival tier.
	IncludeArchived bool

	// From and To restrict the archival scan to date partitions in the
	// range. Ignored for the active tier, which is assumed small enough
	// to search whole.
	From time.Time
	To   time.Time
}

// Service answers recall queries by merging results from the active store
// and, on request, the archival tier. A single-tier failure degrades to
// partial results rather than failing the query.
type Service struct {
	embedder oracle.Embedder
	active   active.Store
	archive  archive.Store
	journal  *journal.Journal
	params   *scoring.ParamStore
	worker   *retention.Worker
	logger   *zap.Logger
}

// NewService creates a recall Service. The archive, journal, params, and
// worker are optional; stats fields backed by a missing dependency read as
// zero.
func NewService(
	embedder oracle.Embedder,
	activeStore active.Store,
	archiveStore archive.Store,
	jnl *journal.Journal,
	params *scoring.ParamStore,
	worker *retention.Worker,
	logger *zap.Logger,
) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("recall service requires an embedder")
	}
	if activeStore == nil {
		return nil, errors.New("recall service requires an active store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		embedder: embedder,
		active:   activeStore,
		archive:  archiveStore,
		journal:  jnl,
		params:   params,
		worker:   worker,
		logger:   logger,
	}, nil
}

// Recall returns up to TopK memories by ascending cosine distance to the
// query, merged across the requested tiers.
func (s *Service) Recall(ctx context.Context, query Query) ([]memory.SearchResult, error) {
	embedding := query.Embedding
	if len(embedding) == 0 {
		if query.Text == "" {
			return nil, ErrEmptyQuery
		}
		var err error
		embedding, err = s.embedder.Embed(ctx, query.Text)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
	}

	topK := query.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	results, activeErr := s.active.Search(ctx, embedding, topK)
	if activeErr != nil {
		s.logger.Warn("active tier search failed", zap.Error(activeErr))
	}

	var archiveErr error
	if query.IncludeArchived && s.archive != nil {
		archived, err := s.archive.Search(ctx, embedding, topK, query.From, query.To)
		if err != nil {
			archiveErr = err
			s.logger.Warn("archival tier search failed", zap.Error(err))
		} else {
			results = append(results, archived...)
		}
	}

	if activeErr != nil && (!query.IncludeArchived || archiveErr != nil) {
		return nil, fmt.Errorf("%w: %v", ErrAllTiersFailed, errors.Join(activeErr, archiveErr))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	ActiveCount   int     `json:"active_count"`
	ArchivedCount int     `json:"archived_count"`
	LastCursor    uint64  `json:"last_cursor"`
	Processed     uint64  `json:"processed"`
	Admitted      uint64  `json:"admitted"`
	Discarded     uint64  `json:"discarded"`
	Unscored      uint64  `json:"unscored"`
	Degraded      uint64  `json:"degraded"`
	AdmissionRate float64 `json:"admission_rate"`
	ParamsVersion uint64  `json:"params_version"`
}

// Stats reports tier counts, the persisted cursor, and the worker's
// admission counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{}

	count, err := s.active.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting active memories: %w", err)
	}
	stats.ActiveCount = count

	if s.archive != nil {
		archived, err := s.archive.Count(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("counting archived memories: %w", err)
		}
		stats.ArchivedCount = archived
	}

	if s.journal != nil {
		cursor, err := s.journal.Cursor()
		if err != nil {
			return Stats{}, fmt.Errorf("reading cursor: %w", err)
		}
		stats.LastCursor = cursor
	}

	if s.worker != nil {
		snap := s.worker.Stats()
		stats.Processed = snap.Processed
		stats.Admitted = snap.Admitted
		stats.Discarded = snap.Discarded
		stats.Unscored = snap.Unscored
		stats.Degraded = snap.Degraded
		stats.AdmissionRate = snap.AdmissionRate
	}

	if s.params != nil {
		stats.ParamsVersion = s.params.Version()
	}

	return stats, nil
}
