package retention_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	activemem "github.com/papercomputeco/engram/pkg/active/inmemory"
	"github.com/papercomputeco/engram/pkg/archive"
	archivesqlite "github.com/papercomputeco/engram/pkg/archive/sqlite"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/retention"
)

// brokenArchive fails every Archive call; reads pass through.
type brokenArchive struct {
	archive.Store
}

func (b *brokenArchive) Archive(context.Context, []memory.Memory) error {
	return errors.New("archive tier down")
}

// stuckActive fails Remove, simulating a crash between the archive write and
// the active delete.
type stuckActive struct {
	active.Store
}

func (s *stuckActive) Remove(context.Context, []string) error {
	return errors.New("remove failed")
}

var _ = Describe("Sweeper", func() {
	var (
		ctx        context.Context
		jnl        *journal.Journal
		store      *activemem.Store
		cold       *archivesqlite.Store
		now        time.Time
		nextSource uint64
	)

	seed := func(s active.Store, id string, age time.Duration) memory.Memory {
		nextSource++
		m := memory.Memory{
			ID:        id,
			SourceID:  nextSource,
			Text:      "memory " + id,
			Embedding: []float32{1, 0, 0},
			Surprise:  0.9,
			CreatedAt: now.Add(-age),
			Tier:      memory.TierActive,
		}
		Expect(s.Insert(ctx, m)).To(Succeed())
		return m
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

		var err error
		jnl, err = journal.OpenInMemory()
		Expect(err).NotTo(HaveOccurred())

		store, err = activemem.New(activemem.Config{Dimensions: 3})
		Expect(err).NotTo(HaveOccurred())
		store.SetClock(func() time.Time { return now })

		cold, err = archivesqlite.New(archivesqlite.Config{DBPath: ":memory:"}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(cold.Close()).To(Succeed())
		Expect(jnl.Close()).To(Succeed())
	})

	It("migrates aged memories and conserves the total across tiers", func() {
		seed(store, "old-1", 48*time.Hour)
		seed(store, "old-2", 36*time.Hour)
		seed(store, "fresh", time.Hour)

		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveAge: 24 * time.Hour}, store, cold, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		moved, err := sweeper.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(moved).To(Equal(2))

		activeCount, err := store.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		archivedCount, err := cold.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(activeCount).To(Equal(1))
		Expect(archivedCount).To(Equal(2))

		has, err := cold.Has(ctx, "old-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())

		pending, err := jnl.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("stamps the archived tier on migrated memories", func() {
		seed(store, "old-1", 48*time.Hour)

		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveAge: 24 * time.Hour}, store, cold, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		_, err = sweeper.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())

		results, err := cold.Search(ctx, []float32{1, 0, 0}, 1, time.Time{}, time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Memory.Tier).To(Equal(memory.TierArchived))
	})

	It("evicts the oldest overflow above the capacity limit", func() {
		seed(store, "a", 3*time.Hour)
		seed(store, "b", 2*time.Hour)
		seed(store, "c", time.Hour)

		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveCount: 2}, store, cold, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		moved, err := sweeper.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(moved).To(Equal(1))

		has, err := cold.Has(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())
	})

	It("reports over-capacity only past the configured limit", func() {
		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveCount: 2}, store, cold, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		seed(store, "a", 3*time.Hour)
		seed(store, "b", 2*time.Hour)
		Expect(sweeper.OverCapacity(ctx)).To(BeFalse())

		seed(store, "c", time.Hour)
		Expect(sweeper.OverCapacity(ctx)).To(BeTrue())
	})

	It("applies reloaded eviction tunables to the next sweep", func() {
		seed(store, "elder", 72*time.Hour)

		ts, err := retention.NewTunableStore(retention.Tunables{})
		Expect(err).NotTo(HaveOccurred())
		sweeper, err := retention.NewSweeper(retention.SweeperConfig{Tunables: ts}, store, cold, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		// Both rules disabled: nothing qualifies.
		moved, err := sweeper.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(moved).To(BeZero())

		_, err = ts.Swap(retention.Tunables{MaxActiveAge: 48 * time.Hour})
		Expect(err).NotTo(HaveOccurred())

		moved, err = sweeper.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(moved).To(Equal(1))

		has, err := cold.Has(ctx, "elder")
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())
	})

	It("leaves memories active when the archive write fails", func() {
		seed(store, "old-1", 48*time.Hour)

		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveAge: 24 * time.Hour}, store, &brokenArchive{Store: cold}, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		moved, err := sweeper.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(moved).To(Equal(0))

		activeCount, err := store.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(activeCount).To(Equal(1))

		pending, err := jnl.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("keeps the pending mark when the active delete fails", func() {
		seed(store, "old-1", 48*time.Hour)

		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveAge: 24 * time.Hour}, &stuckActive{Store: store}, cold, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		moved, err := sweeper.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(moved).To(Equal(0))

		// The archive copy is durable and the mark survives for the
		// reconciliation pass.
		has, err := cold.Has(ctx, "old-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())

		pending, err := jnl.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(ConsistOf("old-1"))
	})

	It("rejects a concurrent sweep", func() {
		seed(store, "old-1", 48*time.Hour)

		slow := &slowArchive{
			Store:   cold,
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		sweeper, err := retention.NewSweeper(retention.SweeperConfig{MaxActiveAge: 24 * time.Hour}, store, slow, jnl, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)
			_, err := sweeper.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
		}()

		Eventually(slow.entered).Should(BeClosed())
		_, err = sweeper.Sweep(ctx)
		Expect(err).To(MatchError(retention.ErrSweepInProgress))

		close(slow.release)
		Eventually(done).Should(BeClosed())
	})

	Describe("Reconcile", func() {
		It("finishes a migration that reached the archive", func() {
			m := seed(store, "half-done", 48*time.Hour)

			m.Tier = memory.TierArchived
			Expect(cold.Archive(ctx, []memory.Memory{m})).To(Succeed())
			Expect(jnl.MarkPending([]string{m.ID})).To(Succeed())

			sweeper, err := retention.NewSweeper(retention.SweeperConfig{}, store, cold, jnl, nil, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			Expect(sweeper.Reconcile(ctx)).To(Succeed())

			activeCount, err := store.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(activeCount).To(Equal(0))

			pending, err := jnl.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})

		It("reverts a migration that never reached the archive", func() {
			m := seed(store, "never-copied", 48*time.Hour)
			Expect(jnl.MarkPending([]string{m.ID})).To(Succeed())

			sweeper, err := retention.NewSweeper(retention.SweeperConfig{}, store, cold, jnl, nil, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			Expect(sweeper.Reconcile(ctx)).To(Succeed())

			activeCount, err := store.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(activeCount).To(Equal(1))

			pending, err := jnl.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})
})

// slowArchive blocks its first Archive call until released, to hold a sweep
// open while another one is attempted.
type slowArchive struct {
	archive.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowArchive) Archive(ctx context.Context, memories []memory.Memory) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.Archive(ctx, memories)
}
