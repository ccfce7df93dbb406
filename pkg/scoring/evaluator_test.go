package scoring_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/active/inmemory"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/scoring"
)

// stubPerplexity returns a fixed score or error.
type stubPerplexity struct {
	score float64
	err   error
}

func (s *stubPerplexity) Score(context.Context, string) (float64, error) { return s.score, s.err }
func (s *stubPerplexity) Close() error                                   { return nil }

// stubEmbedder returns a fixed vector or error.
type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) { return s.vector, s.err }
func (s *stubEmbedder) Close() error                                     { return nil }

// brokenNNStore wraps a store and fails nearest-neighbor lookups.
type brokenNNStore struct {
	active.Store
}

func (b *brokenNNStore) NearestNeighbor(context.Context, []float32) (*memory.Memory, float64, error) {
	return nil, 0, errors.New("index offline")
}

var _ = Describe("Combine", func() {
	params := scoring.DefaultParams()

	It("scores a mundane utterance below the default threshold", func() {
		// p=5.0, novelty=0.1: 0.6*ln(6)/5 + 0.4*0.1
		score := scoring.Combine(5.0, 0.1, params)
		Expect(score).To(BeNumerically("~", 0.255, 0.001))
		Expect(score).To(BeNumerically("<", params.AdmissionThreshold))
	})

	It("scores a surprising utterance above the default threshold", func() {
		// p=50, novelty=0.9: 0.6*ln(51)/5 + 0.4*0.9
		score := scoring.Combine(50.0, 0.9, params)
		Expect(score).To(BeNumerically("~", 0.832, 0.001))
		Expect(score).To(BeNumerically(">=", params.AdmissionThreshold))
	})

	It("is deterministic for fixed inputs", func() {
		for range 10 {
			Expect(scoring.Combine(12.5, 0.33, params)).To(Equal(scoring.Combine(12.5, 0.33, params)))
		}
	})

	It("is monotonic in novelty", func() {
		low := scoring.Combine(10, 0.2, params)
		high := scoring.Combine(10, 0.8, params)
		Expect(high).To(BeNumerically(">", low))
	})

	It("clamps novelty into [0,1]", func() {
		Expect(scoring.Combine(10, 1.7, params)).To(Equal(scoring.Combine(10, 1.0, params)))
		Expect(scoring.Combine(10, -0.5, params)).To(Equal(scoring.Combine(10, 0.0, params)))
	})
})

var _ = Describe("NormalizePerplexity", func() {
	It("saturates at 1 for extreme perplexity", func() {
		Expect(scoring.NormalizePerplexity(1e9, scoring.DefaultPerplexityScale)).To(Equal(1.0))
	})

	It("treats sub-1 perplexity as 1", func() {
		Expect(scoring.NormalizePerplexity(0.2, 5.0)).To(Equal(math.Log(2) / 5.0))
	})

	It("grows with perplexity below saturation", func() {
		Expect(scoring.NormalizePerplexity(20, 5.0)).To(BeNumerically(">", scoring.NormalizePerplexity(5, 5.0)))
	})
})

var _ = Describe("Evaluator", func() {
	var (
		ctx    context.Context
		store  *inmemory.Store
		params *scoring.ParamStore
	)

	newEvaluator := func(ppl *stubPerplexity, emb *stubEmbedder, s active.Store) *scoring.Evaluator {
		ev, err := scoring.NewEvaluator(ppl, emb, s, params, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return ev
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		store, err = inmemory.New(inmemory.Config{Dimensions: 3})
		Expect(err).NotTo(HaveOccurred())

		params, err = scoring.NewParamStore(scoring.DefaultParams())
		Expect(err).NotTo(HaveOccurred())
	})

	Context("with an empty active store", func() {
		It("assigns maximum novelty", func() {
			ev := newEvaluator(&stubPerplexity{score: 5}, &stubEmbedder{vector: []float32{1, 0, 0}}, store)

			candidate, err := ev.Evaluate(ctx, memory.RawEvent{ID: 1, Text: "first"})
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Novelty).To(Equal(1.0))
			Expect(candidate.Degraded).To(BeFalse())
		})
	})

	Context("with a near-duplicate already stored", func() {
		BeforeEach(func() {
			Expect(store.Insert(ctx, memory.Memory{
				ID:        "m1",
				SourceID:  1,
				Embedding: []float32{1, 0, 0},
			})).To(Succeed())
		})

		It("assigns near-zero novelty", func() {
			ev := newEvaluator(&stubPerplexity{score: 5}, &stubEmbedder{vector: []float32{1, 0, 0}}, store)

			candidate, err := ev.Evaluate(ctx, memory.RawEvent{ID: 2, Text: "again"})
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Novelty).To(BeNumerically("~", 0.0, 1e-6))
		})

		It("assigns high novelty to an orthogonal embedding", func() {
			ev := newEvaluator(&stubPerplexity{score: 5}, &stubEmbedder{vector: []float32{0, 1, 0}}, store)

			candidate, err := ev.Evaluate(ctx, memory.RawEvent{ID: 3, Text: "different"})
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Novelty).To(BeNumerically("~", 1.0, 1e-6))
		})
	})

	Context("when the perplexity oracle fails", func() {
		It("returns an error and no candidate", func() {
			ev := newEvaluator(&stubPerplexity{err: errors.New("down")}, &stubEmbedder{vector: []float32{1, 0, 0}}, store)

			_, err := ev.Evaluate(ctx, memory.RawEvent{ID: 4, Text: "x"})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when the embedder fails", func() {
		It("returns an error and no candidate", func() {
			ev := newEvaluator(&stubPerplexity{score: 5}, &stubEmbedder{err: errors.New("down")}, store)

			_, err := ev.Evaluate(ctx, memory.RawEvent{ID: 5, Text: "x"})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when the nearest-neighbor lookup fails", func() {
		It("falls back to the configured novelty and flags the candidate", func() {
			ev := newEvaluator(&stubPerplexity{score: 5}, &stubEmbedder{vector: []float32{1, 0, 0}}, &brokenNNStore{Store: store})

			candidate, err := ev.Evaluate(ctx, memory.RawEvent{ID: 6, Text: "x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Degraded).To(BeTrue())
			Expect(candidate.Novelty).To(Equal(scoring.DefaultFallbackNovelty))
		})
	})

	Describe("Admit", func() {
		It("applies the threshold inclusively", func() {
			ev := newEvaluator(&stubPerplexity{score: 5}, &stubEmbedder{vector: []float32{1, 0, 0}}, store)

			Expect(ev.Admit(memory.ScoredCandidate{Surprise: 0.7})).To(BeTrue())
			Expect(ev.Admit(memory.ScoredCandidate{Surprise: 0.699})).To(BeFalse())
		})

		It("honors a hot-swapped threshold", func() {
			ev := newEvaluator(&stubPerplexity{score: 5}, &stubEmbedder{vector: []float32{1, 0, 0}}, store)

			p := scoring.DefaultParams()
			p.AdmissionThreshold = 0.5
			_, err := params.Swap(p)
			Expect(err).NotTo(HaveOccurred())

			Expect(ev.Admit(memory.ScoredCandidate{Surprise: 0.6})).To(BeTrue())
		})
	})
})
