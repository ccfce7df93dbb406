package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/oracle"
	"github.com/papercomputeco/engram/pkg/scoring"
	"github.com/papercomputeco/engram/pkg/stream"
)

const (
	DefaultBatchSize      = 32
	DefaultWorkers        = 4
	DefaultRetryLimit     = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultOracleTimeout  = 10 * time.Second
	DefaultPollInterval   = time.Second
	DefaultSweepInterval  = 24 * time.Hour
)

// Config holds tunables for the retention worker loop.
type Config struct {
	// BatchSize is the maximum number of events read per iteration.
	BatchSize int

	// Workers bounds concurrent scoring within a batch. Events sharing a
	// session tag are always scored sequentially relative to each other.
	Workers int

	// RetryLimit is the number of additional attempts after a retryable
	// oracle failure before the event is skipped as unscored. Seeds the
	// tunable store when none is supplied.
	RetryLimit int

	// RetryBaseDelay is the first retry delay; each retry doubles it.
	RetryBaseDelay time.Duration

	// OracleTimeout bounds a single scoring attempt. Seeds the tunable
	// store when none is supplied.
	OracleTimeout time.Duration

	// PollInterval is how long to wait when the stream has no new events.
	PollInterval time.Duration

	// SweepInterval is how often the periodic archival sweep runs.
	SweepInterval time.Duration

	// Tunables carries the hot-reloadable knobs. When nil the worker
	// builds a private store from RetryLimit and OracleTimeout; serve
	// passes a store shared with the sweeper and the config watcher.
	Tunables *TunableStore
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = DefaultOracleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Worker consumes raw events from the stream, scores them, and admits the
// surprising ones into the active store. The journal cursor only advances
// after every event in a batch has reached a terminal outcome, so a crash
// replays the batch and source-ID dedup in the store absorbs the repeats.
type Worker struct {
	config    Config
	tunables  *TunableStore
	stream    stream.Reader
	journal   *journal.Journal
	evaluator *scoring.Evaluator
	store     active.Store
	sweeper   *Sweeper
	metrics   *metrics.Metrics
	logger    *zap.Logger
	stats     Stats
}

// NewWorker creates a Worker. The sweeper and metrics handle may be nil;
// without a sweeper the periodic archival sweep is disabled.
func NewWorker(
	config Config,
	reader stream.Reader,
	jnl *journal.Journal,
	evaluator *scoring.Evaluator,
	store active.Store,
	sweeper *Sweeper,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Worker, error) {
	if reader == nil || jnl == nil || evaluator == nil || store == nil {
		return nil, fmt.Errorf("%w: worker requires stream reader, journal, evaluator, and active store", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()

	tunables := config.Tunables
	if tunables == nil {
		var err error
		tunables, err = NewTunableStore(Tunables{
			OracleTimeout: config.OracleTimeout,
			RetryLimit:    config.RetryLimit,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Worker{
		config:    config,
		tunables:  tunables,
		stream:    reader,
		journal:   jnl,
		evaluator: evaluator,
		store:     store,
		sweeper:   sweeper,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Stats returns the worker's admission counters.
func (w *Worker) Stats() Snapshot {
	return w.stats.Snapshot()
}

// Run reconciles interrupted migrations, then consumes the stream until the
// context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.sweeper != nil {
		if err := w.sweeper.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconciling journal: %w", err)
		}
	}

	cursor, err := w.journal.Cursor()
	if err != nil {
		return fmt.Errorf("loading cursor: %w", err)
	}
	w.logger.Info("retention worker starting", zap.Uint64("cursor", cursor))

	// The scheduled sweep runs on its own goroutine: a quiet stream can
	// park the read for hours, and archival must not wait for traffic.
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	var sweeps sync.WaitGroup
	sweeps.Add(1)
	go func() {
		defer sweeps.Done()
		ticker := time.NewTicker(w.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				w.runSweep(sweepCtx)
			}
		}
	}()
	defer sweeps.Wait()
	defer stopSweeps()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, err := w.stream.Read(ctx, stream.Cursor(cursor), w.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("stream read failed", zap.Error(err))
			if !w.sleep(ctx, w.config.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		if len(events) == 0 {
			if !w.sleep(ctx, w.config.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		w.processBatch(ctx, events)
		if ctx.Err() != nil {
			// The batch may be partially processed; leave the
			// cursor behind it so a restart replays the whole
			// batch.
			return ctx.Err()
		}

		cursor = events[len(events)-1].ID
		if err := w.journal.SetCursor(cursor); err != nil {
			return fmt.Errorf("persisting cursor: %w", err)
		}
		if err := w.stream.Ack(ctx, stream.Cursor(cursor)); err != nil {
			w.logger.Warn("stream ack failed", zap.Uint64("cursor", cursor), zap.Error(err))
		}

		// Admissions can push the active store past its capacity rule
		// long before the next scheduled sweep.
		if w.sweeper != nil && w.sweeper.OverCapacity(ctx) {
			w.runSweep(ctx)
		}
	}
}

// runSweep triggers the archival sweep, tolerating overlap with a manual
// sweep already in flight.
func (w *Worker) runSweep(ctx context.Context) {
	if w.sweeper == nil {
		return
	}
	if _, err := w.sweeper.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) && ctx.Err() == nil {
		w.logger.Error("archival sweep failed", zap.Error(err))
	}
}

// processBatch scores a batch of events. Events are grouped by session tag;
// groups run concurrently under a bounded pool while events within a group
// run in stream order, so admissions within a session preserve ordering.
func (w *Worker) processBatch(ctx context.Context, events []memory.RawEvent) {
	groups := groupBySession(events)

	sem := make(chan struct{}, w.config.Workers)
	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(group []memory.RawEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, event := range group {
				if ctx.Err() != nil {
					return
				}
				w.processEvent(ctx, event)
			}
		}(group)
	}
	wg.Wait()
}

// processEvent drives a single event to a terminal outcome: admitted,
// discarded, or unscored.
func (w *Worker) processEvent(ctx context.Context, event memory.RawEvent) {
	candidate, err := w.score(ctx, event)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.stats.processed.Add(1)
		w.stats.unscored.Add(1)
		w.observeOutcome(metrics.OutcomeUnscored)
		w.logger.Warn("event skipped unscored",
			zap.Uint64("event_id", event.ID),
			zap.Error(err),
		)
		return
	}

	w.stats.processed.Add(1)
	if candidate.Degraded {
		w.stats.degraded.Add(1)
		if w.metrics != nil {
			w.metrics.ObserveDegraded()
		}
	}

	if !w.evaluator.Admit(candidate) {
		w.stats.discarded.Add(1)
		w.observeOutcome(metrics.OutcomeDiscarded)
		w.logger.Debug("event discarded",
			zap.Uint64("event_id", event.ID),
			zap.Float64("surprise", candidate.Surprise),
		)
		return
	}

	mem := newMemory(candidate)
	if err := w.store.Insert(ctx, mem); err != nil {
		w.stats.unscored.Add(1)
		w.observeOutcome(metrics.OutcomeUnscored)
		if errors.Is(err, active.ErrDimensionMismatch) {
			w.logger.Error("embedding dimension mismatch, memory dropped",
				zap.Uint64("event_id", event.ID),
				zap.Int("dimensions", len(candidate.Embedding)),
				zap.Error(err),
			)
			return
		}
		w.logger.Error("active store insert failed",
			zap.Uint64("event_id", event.ID),
			zap.Error(err),
		)
		return
	}

	w.stats.admitted.Add(1)
	w.observeOutcome(metrics.OutcomeAdmitted)
	w.logger.Debug("memory admitted",
		zap.Uint64("event_id", event.ID),
		zap.String("memory_id", mem.ID),
		zap.Float64("surprise", candidate.Surprise),
	)
}

// score evaluates an event, retrying transient oracle failures with
// exponential backoff.
func (w *Worker) score(ctx context.Context, event memory.RawEvent) (memory.ScoredCandidate, error) {
	// One snapshot per event: a reload mid-retry-loop never mixes limits.
	tun := w.tunables.Load()
	timeout := tun.OracleTimeout
	if timeout <= 0 {
		timeout = w.config.OracleTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= tun.RetryLimit; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.ObserveRetry()
			}
			if !w.sleep(ctx, backoffDelay(w.config.RetryBaseDelay, attempt)) {
				return memory.ScoredCandidate{}, ctx.Err()
			}
		}

		scoreCtx, cancel := context.WithTimeout(ctx, timeout)
		candidate, err := w.evaluator.Evaluate(scoreCtx, event)
		cancel()
		if err == nil {
			return candidate, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return memory.ScoredCandidate{}, ctx.Err()
		}
		if !errors.Is(err, oracle.ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return memory.ScoredCandidate{}, lastErr
}

// sleep waits for d or until the context is cancelled, reporting whether the
// full duration elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) observeOutcome(outcome string) {
	if w.metrics != nil {
		w.metrics.ObserveOutcome(outcome)
	}
}

// backoffDelay returns base doubled per attempt: attempt 1 waits base,
// attempt 2 waits 2*base, and so on.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// newMemory converts an admitted candidate into a stored memory.
func newMemory(candidate memory.ScoredCandidate) memory.Memory {
	metadata := make(map[string]string, len(candidate.Event.Metadata)+1)
	for k, v := range candidate.Event.Metadata {
		metadata[k] = v
	}
	if candidate.Degraded {
		metadata[memory.MetadataDegradedNovelty] = "true"
	}

	return memory.Memory{
		ID:         uuid.NewString(),
		SourceID:   candidate.Event.ID,
		Text:       candidate.Event.Text,
		Embedding:  candidate.Embedding,
		Surprise:   candidate.Surprise,
		Perplexity: candidate.Perplexity,
		Novelty:    candidate.Novelty,
		CreatedAt:  time.Now().UTC(),
		Tier:       memory.TierActive,
		SessionTag: candidate.Event.SessionTag,
		Metadata:   metadata,
	}
}

// groupBySession splits a batch into per-session groups, preserving stream
// order within each group and first-seen order across groups.
func groupBySession(events []memory.RawEvent) [][]memory.RawEvent {
	index := make(map[string]int)
	var groups [][]memory.RawEvent
	for _, event := range events {
		i, ok := index[event.SessionTag]
		if !ok {
			i = len(groups)
			index[event.SessionTag] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], event)
	}
	return groups
}
