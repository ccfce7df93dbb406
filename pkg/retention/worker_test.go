package retention_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	activemem "github.com/papercomputeco/engram/pkg/active/inmemory"
	archivesqlite "github.com/papercomputeco/engram/pkg/archive/sqlite"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/oracle"
	"github.com/papercomputeco/engram/pkg/retention"
	"github.com/papercomputeco/engram/pkg/scoring"
	streammem "github.com/papercomputeco/engram/pkg/stream/inmemory"
)

var _ = Describe("Worker", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		src        *streammem.Stream
		jnl        *journal.Journal
		store      *activemem.Store
		perplexity *mapPerplexity
		embedder   *mapEmbedder
		done       chan struct{}
	)

	config := retention.Config{
		BatchSize:      8,
		Workers:        2,
		RetryLimit:     2,
		RetryBaseDelay: time.Millisecond,
		OracleTimeout:  time.Second,
		PollInterval:   5 * time.Millisecond,
		SweepInterval:  time.Hour,
	}

	startWorker := func() *retention.Worker {
		evaluator, err := scoring.NewEvaluator(perplexity, embedder, store, mustParams(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		worker, err := retention.NewWorker(config, src, jnl, evaluator, store, nil, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = worker.Run(ctx)
		}()
		return worker
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		src = streammem.New()
		perplexity = &mapPerplexity{scores: map[string]float64{}}
		embedder = &mapEmbedder{vectors: map[string][]float32{}}

		var err error
		jnl, err = journal.OpenInMemory()
		Expect(err).NotTo(HaveOccurred())

		store, err = activemem.New(activemem.Config{Dimensions: 3})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(BeClosed())
		Expect(jnl.Close()).To(Succeed())
	})

	It("admits surprising events and discards mundane ones", func() {
		perplexity.scores["the database password is in vault"] = 50
		perplexity.scores["ok sounds good"] = 1.2
		embedder.vectors["the database password is in vault"] = []float32{1, 0, 0}
		embedder.vectors["ok sounds good"] = []float32{0, 1, 0}

		src.Append("the database password is in vault", "s1", nil)
		src.Append("ok sounds good", "s1", nil)

		worker := startWorker()

		Eventually(func() uint64 { return worker.Stats().Processed }).Should(Equal(uint64(2)))
		Expect(worker.Stats().Admitted).To(Equal(uint64(1)))
		Expect(worker.Stats().Discarded).To(Equal(uint64(1)))

		count, err := store.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})

	It("advances the journal cursor only after the batch completes", func() {
		perplexity.scores["a"] = 50
		perplexity.scores["b"] = 50
		embedder.vectors["a"] = []float32{1, 0, 0}
		embedder.vectors["b"] = []float32{0, 1, 0}

		src.Append("a", "s1", nil)
		src.Append("b", "s1", nil)

		worker := startWorker()

		Eventually(func() uint64 { return worker.Stats().Processed }).Should(Equal(uint64(2)))
		Eventually(func() uint64 {
			cursor, err := jnl.Cursor()
			Expect(err).NotTo(HaveOccurred())
			return cursor
		}).Should(Equal(uint64(2)))
	})

	It("stores admitted memories with their scores and source ID", func() {
		perplexity.scores["novel fact"] = 50
		embedder.vectors["novel fact"] = []float32{1, 0, 0}

		src.Append("novel fact", "sess-9", map[string]string{"speaker": "ana"})

		worker := startWorker()
		Eventually(func() uint64 { return worker.Stats().Admitted }).Should(Equal(uint64(1)))

		results, err := store.Search(ctx, []float32{1, 0, 0}, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))

		m := results[0].Memory
		Expect(m.ID).NotTo(BeEmpty())
		Expect(m.SourceID).To(Equal(uint64(1)))
		Expect(m.Text).To(Equal("novel fact"))
		Expect(m.Tier).To(Equal(memory.TierActive))
		Expect(m.SessionTag).To(Equal("sess-9"))
		Expect(m.Metadata).To(HaveKeyWithValue("speaker", "ana"))
		Expect(m.Perplexity).To(Equal(50.0))
		Expect(m.Novelty).To(Equal(1.0))
		Expect(m.Surprise).To(BeNumerically(">", 0.7))
	})

	It("skips an unscorable event and keeps consuming", func() {
		perplexity.errs = map[string]error{"broken": oracle.ErrPerplexity}
		perplexity.scores["fine"] = 50
		embedder.vectors["fine"] = []float32{1, 0, 0}

		src.Append("broken", "s1", nil)
		src.Append("fine", "s1", nil)

		worker := startWorker()

		Eventually(func() uint64 { return worker.Stats().Processed }).Should(Equal(uint64(2)))
		Expect(worker.Stats().Unscored).To(Equal(uint64(1)))
		Expect(worker.Stats().Admitted).To(Equal(uint64(1)))

		cursor, err := jnl.Cursor()
		Expect(err).NotTo(HaveOccurred())
		Expect(cursor).To(Equal(uint64(2)))
	})

	It("retries transient oracle failures with backoff", func() {
		perplexity.errs = map[string]error{"flaky": oracle.ErrUnavailable}
		perplexity.failures = map[string]int{"flaky": 2}
		perplexity.scores["flaky"] = 50
		embedder.vectors["flaky"] = []float32{1, 0, 0}

		src.Append("flaky", "s1", nil)

		worker := startWorker()

		Eventually(func() uint64 { return worker.Stats().Admitted }).Should(Equal(uint64(1)))
		Expect(worker.Stats().Unscored).To(Equal(uint64(0)))
	})

	It("gives up after the retry limit and marks the event unscored", func() {
		perplexity.errs = map[string]error{"dead": oracle.ErrUnavailable}
		perplexity.failures = map[string]int{"dead": 100}

		src.Append("dead", "s1", nil)

		worker := startWorker()

		Eventually(func() uint64 { return worker.Stats().Unscored }).Should(Equal(uint64(1)))
	})

	It("absorbs replayed events through source-ID dedup", func() {
		perplexity.scores["replay me"] = 50
		embedder.vectors["replay me"] = []float32{1, 0, 0}

		src.Append("replay me", "s1", nil)

		worker := startWorker()
		Eventually(func() uint64 { return worker.Stats().Admitted }).Should(Equal(uint64(1)))

		// Simulate a crash replay by rewinding the journal view: a second
		// insert with the same source ID is a no-op.
		Expect(store.Insert(ctx, memory.Memory{
			ID:        "dup",
			SourceID:  1,
			Text:      "replay me",
			Embedding: []float32{1, 0, 0},
		})).To(Succeed())

		count, err := store.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})

	It("runs the scheduled sweep while the stream is quiet", func() {
		Expect(store.Insert(ctx, memory.Memory{
			ID:        "stale",
			SourceID:  7,
			Text:      "stale memory",
			Embedding: []float32{1, 0, 0},
			CreatedAt: time.Now().UTC().Add(-72 * time.Hour),
			Tier:      memory.TierActive,
		})).To(Succeed())

		cold, err := archivesqlite.New(archivesqlite.Config{DBPath: ":memory:"}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(cold.Close()).To(Succeed()) })

		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveAge: 48 * time.Hour}, store, cold, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		evaluator, err := scoring.NewEvaluator(perplexity, embedder, store, mustParams(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		cfg := config
		cfg.SweepInterval = 20 * time.Millisecond
		worker, err := retention.NewWorker(cfg, idleStream{}, jnl, evaluator, store, sweeper, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = worker.Run(ctx)
		}()

		Eventually(func() (bool, error) {
			return cold.Has(ctx, "stale")
		}).Should(BeTrue())
	})

	It("honors a reloaded retry limit without restarting", func() {
		const text = "the cache invalidation bug is back"
		perplexity.scores[text] = 50
		perplexity.errs = map[string]error{text: oracle.ErrUnavailable}
		perplexity.failures = map[string]int{text: 1}
		embedder.vectors[text] = []float32{1, 0, 0}

		ts, err := retention.NewTunableStore(retention.Tunables{OracleTimeout: time.Second})
		Expect(err).NotTo(HaveOccurred())

		evaluator, err := scoring.NewEvaluator(perplexity, embedder, store, mustParams(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		cfg := config
		cfg.Tunables = ts
		worker, err := retention.NewWorker(cfg, src, jnl, evaluator, store, nil, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = worker.Run(ctx)
		}()

		// Zero retries: the single transient failure makes the event
		// unscored.
		src.Append(text, "s1", nil)
		Eventually(func() uint64 { return worker.Stats().Unscored }).Should(Equal(uint64(1)))

		// Raise the limit in place and replay the utterance.
		_, err = ts.Swap(retention.Tunables{OracleTimeout: time.Second, RetryLimit: 2})
		Expect(err).NotTo(HaveOccurred())
		perplexity.failures[text] = 1

		src.Append(text, "s1", nil)
		Eventually(func() uint64 { return worker.Stats().Admitted }).Should(Equal(uint64(1)))
	})
})

func mustParams() *scoring.ParamStore {
	params, err := scoring.NewParamStore(scoring.DefaultParams())
	Expect(err).NotTo(HaveOccurred())
	return params
}
