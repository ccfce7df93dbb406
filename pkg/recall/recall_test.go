package recall_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	activemem "github.com/papercomputeco/engram/pkg/active/inmemory"
	"github.com/papercomputeco/engram/pkg/archive"
	archivesqlite "github.com/papercomputeco/engram/pkg/archive/sqlite"
	"github.com/papercomputeco/engram/pkg/journal"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/recall"
	"github.com/papercomputeco/engram/pkg/scoring"
)

// downArchive fails every read.
type downArchive struct {
	archive.Store
}

func (d *downArchive) Search(context.Context, []float32, int, time.Time, time.Time) ([]memory.SearchResult, error) {
	return nil, errors.New("archive tier down")
}

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		store    *activemem.Store
		cold     *archivesqlite.Store
		embedder *fixedEmbedder
	)

	day := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	activeMem := func(id string, source uint64, embedding []float32) {
		Expect(store.Insert(ctx, memory.Memory{
			ID:        id,
			SourceID:  source,
			Text:      "active " + id,
			Embedding: embedding,
			CreatedAt: day,
			Tier:      memory.TierActive,
		})).To(Succeed())
	}

	archivedMem := func(id string, embedding []float32, createdAt time.Time) {
		Expect(cold.Archive(ctx, []memory.Memory{{
			ID:        id,
			SourceID:  uint64(len(id)) + 100,
			Text:      "archived " + id,
			Embedding: embedding,
			CreatedAt: createdAt,
			Tier:      memory.TierArchived,
		}})).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		embedder = &fixedEmbedder{vector: []float32{1, 0, 0}}

		var err error
		store, err = activemem.New(activemem.Config{Dimensions: 3})
		Expect(err).NotTo(HaveOccurred())

		cold, err = archivesqlite.New(archivesqlite.Config{DBPath: ":memory:"}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(cold.Close()).To(Succeed())
	})

	newService := func(archiveStore archive.Store) *recall.Service {
		svc, err := recall.NewService(embedder, store, archiveStore, nil, nil, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return svc
	}

	It("rejects a query with neither text nor embedding", func() {
		svc := newService(cold)
		_, err := svc.Recall(ctx, recall.Query{})
		Expect(err).To(MatchError(recall.ErrEmptyQuery))
	})

	It("embeds the query text when no embedding is supplied", func() {
		activeMem("m1", 1, []float32{1, 0, 0})

		svc := newService(cold)
		results, err := svc.Recall(ctx, recall.Query{Text: "what was that fact"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(embedder.calls).To(Equal(1))
	})

	It("uses a supplied embedding without calling the oracle", func() {
		activeMem("m1", 1, []float32{1, 0, 0})

		svc := newService(cold)
		results, err := svc.Recall(ctx, recall.Query{Embedding: []float32{1, 0, 0}})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(embedder.calls).To(Equal(0))
	})

	It("searches only the active tier by default", func() {
		activeMem("hot", 1, []float32{1, 0, 0})
		archivedMem("cold", []float32{1, 0, 0}, day)

		svc := newService(cold)
		results, err := svc.Recall(ctx, recall.Query{Text: "q"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Memory.ID).To(Equal("hot"))
	})

	It("merges tiers by ascending distance", func() {
		activeMem("far-active", 1, []float32{0, 1, 0})
		archivedMem("near-archived", []float32{1, 0, 0}, day)

		svc := newService(cold)
		results, err := svc.Recall(ctx, recall.Query{Text: "q", IncludeArchived: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Memory.ID).To(Equal("near-archived"))
		Expect(results[1].Memory.ID).To(Equal("far-active"))
	})

	It("truncates the merged set to top-k", func() {
		activeMem("a", 1, []float32{1, 0, 0})
		activeMem("b", 2, []float32{0.9, 0.1, 0})
		archivedMem("c", []float32{0.8, 0.2, 0}, day)

		svc := newService(cold)
		results, err := svc.Recall(ctx, recall.Query{Text: "q", TopK: 2, IncludeArchived: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Memory.ID).To(Equal("a"))
	})

	It("restricts the archival scan to the requested date range", func() {
		archivedMem("january", []float32{1, 0, 0}, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
		archivedMem("february", []float32{1, 0, 0}, time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC))

		svc := newService(cold)
		results, err := svc.Recall(ctx, recall.Query{
			Text:            "q",
			IncludeArchived: true,
			From:            time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Memory.ID).To(Equal("february"))
	})

	It("degrades to active-only results when the archive fails", func() {
		activeMem("hot", 1, []float32{1, 0, 0})

		svc := newService(&downArchive{Store: cold})
		results, err := svc.Recall(ctx, recall.Query{Text: "q", IncludeArchived: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Memory.ID).To(Equal("hot"))
	})

	Describe("Stats", func() {
		It("reports tier counts and the persisted cursor", func() {
			activeMem("hot", 1, []float32{1, 0, 0})
			archivedMem("cold", []float32{1, 0, 0}, day)

			jnl, err := journal.OpenInMemory()
			Expect(err).NotTo(HaveOccurred())
			defer jnl.Close()
			Expect(jnl.SetCursor(42)).To(Succeed())

			params, err := scoring.NewParamStore(scoring.DefaultParams())
			Expect(err).NotTo(HaveOccurred())

			svc, err := recall.NewService(embedder, store, cold, jnl, params, nil, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())

			stats, err := svc.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.ActiveCount).To(Equal(1))
			Expect(stats.ArchivedCount).To(Equal(1))
			Expect(stats.LastCursor).To(Equal(uint64(42)))
			Expect(stats.ParamsVersion).To(Equal(uint64(1)))
		})

		It("reads missing dependencies as zero", func() {
			svc := newService(nil)

			stats, err := svc.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats).To(Equal(recall.Stats{}))
		})
	})
})
