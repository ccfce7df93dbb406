package retention

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/archive"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
)

// SweeperConfig holds the eviction policy for the active store.
type SweeperConfig struct {
	// MaxActiveAge evicts memories older than this. Zero disables the
	// age rule. Seeds the tunable store when none is supplied.
	MaxActiveAge time.Duration

	// MaxActiveCount evicts the oldest memories above this count. Zero
	// disables the capacity rule. Seeds the tunable store when none is
	// supplied.
	MaxActiveCount int

	// Tunables carries the hot-reloadable eviction policy. When nil the
	// sweeper builds a private store from the fields above.
	Tunables *TunableStore
}

// Sweeper migrates cold memories from the active store to the archival
// tier. Each memory moves through a two-phase protocol so a crash at any
// point leaves it in exactly one tier after reconciliation.
type Sweeper struct {
	tunables *TunableStore
	active   active.Store
	archive  archive.Store
	journal  *journal.Journal
	metrics  *metrics.Metrics
	logger   *zap.Logger

	running atomic.Bool
}

// NewSweeper creates a Sweeper. The metrics handle may be nil.
func NewSweeper(
	config SweeperConfig,
	activeStore active.Store,
	archiveStore archive.Store,
	jnl *journal.Journal,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Sweeper, error) {
	if activeStore == nil || archiveStore == nil || jnl == nil {
		return nil, fmt.Errorf("%w: sweeper requires active store, archive store, and journal", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tunables := config.Tunables
	if tunables == nil {
		var err error
		tunables, err = NewTunableStore(Tunables{
			MaxActiveAge:   config.MaxActiveAge,
			MaxActiveCount: config.MaxActiveCount,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Sweeper{
		tunables: tunables,
		active:   activeStore,
		archive:  archiveStore,
		journal:  jnl,
		metrics:  m,
		logger:   logger,
	}, nil
}

// OverCapacity reports whether the active store has grown past the capacity
// rule. Errors read as not-over; the periodic sweep catches up later.
func (s *Sweeper) OverCapacity(ctx context.Context) bool {
	limit := s.tunables.Load().MaxActiveCount
	if limit <= 0 {
		return false
	}

	count, err := s.active.Count(ctx)
	if err != nil {
		s.logger.Warn("active count failed", zap.Error(err))
		return false
	}
	return count > limit
}

// Sweep selects eviction candidates and migrates each one. At most one
// sweep runs at a time; a concurrent call returns ErrSweepInProgress.
// Cancellation is honored between memories, never mid-migration.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()

	policy := s.tunables.Load()
	candidates, err := s.active.EvictCandidates(ctx, policy.MaxActiveAge, policy.MaxActiveCount)
	if err != nil {
		return 0, fmt.Errorf("selecting eviction candidates: %w", err)
	}

	moved := 0
	for _, mem := range candidates {
		if ctx.Err() != nil {
			break
		}

		if err := s.migrate(ctx, mem); err != nil {
			// The memory stays active and is retried on the
			// next sweep.
			s.logger.Warn("archival migration failed",
				zap.String("memory_id", mem.ID),
				zap.Error(err),
			)
			continue
		}
		moved++
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep(time.Since(start).Seconds(), moved)
	}

	s.logger.Info("sweep complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("moved", moved),
		zap.Duration("elapsed", time.Since(start)),
	)

	return moved, ctx.Err()
}

// migrate moves a single memory to the archival tier. The pending mark in
// the journal brackets the copy so reconciliation can finish or revert a
// half-completed move after a crash.
func (s *Sweeper) migrate(ctx context.Context, mem memory.Memory) error {
	if err := s.journal.MarkPending([]string{mem.ID}); err != nil {
		return fmt.Errorf("marking pending: %w", err)
	}

	mem.Tier = memory.TierArchived
	if err := s.archive.Archive(ctx, []memory.Memory{mem}); err != nil {
		// The archive never confirmed the write, so the memory is
		// still authoritative in the active tier.
		if cerr := s.journal.ClearPending([]string{mem.ID}); cerr != nil {
			s.logger.Error("failed to clear pending mark after archive failure",
				zap.String("memory_id", mem.ID),
				zap.Error(cerr),
			)
		}
		return fmt.Errorf("archiving: %w", err)
	}

	if err := s.active.Remove(ctx, []string{mem.ID}); err != nil {
		// The archive copy is durable and the pending mark survives,
		// so reconciliation removes the stale active copy on restart.
		return fmt.Errorf("removing from active store: %w", err)
	}

	return s.journal.ClearPending([]string{mem.ID})
}

// Reconcile resolves pending archival marks left by a crash. A memory
// confirmed in the archive is removed from the active store; one that
// never reached the archive simply stays active. Either way the mark is
// cleared.
func (s *Sweeper) Reconcile(ctx context.Context) error {
	pending, err := s.journal.Pending()
	if err != nil {
		return fmt.Errorf("reading pending marks: %w", err)
	}

	for _, id := range pending {
		archived, err := s.archive.Has(ctx, id)
		if err != nil {
			return fmt.Errorf("checking archive for %s: %w", id, err)
		}

		if archived {
			if err := s.active.Remove(ctx, []string{id}); err != nil {
				return fmt.Errorf("removing reconciled memory %s: %w", id, err)
			}
			s.logger.Info("reconciled half-migrated memory to archive", zap.String("memory_id", id))
		} else {
			s.logger.Info("reverted interrupted migration to active tier", zap.String("memory_id", id))
		}

		if err := s.journal.ClearPending([]string{id}); err != nil {
			return fmt.Errorf("clearing pending mark for %s: %w", id, err)
		}
	}

	return nil
}
