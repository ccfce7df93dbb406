package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/memory"
)

var _ = Describe("CosineSimilarity", func() {
	It("scores identical directions as 1", func() {
		Expect(memory.CosineSimilarity([]float32{1, 0, 0}, []float32{3, 0, 0})).
			To(BeNumerically("~", 1.0, 1e-9))
	})

	It("scores orthogonal vectors as 0", func() {
		Expect(memory.CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0})).
			To(BeNumerically("~", 0.0, 1e-9))
	})

	It("scores opposite directions as -1", func() {
		Expect(memory.CosineSimilarity([]float32{1, 0}, []float32{-2, 0})).
			To(BeNumerically("~", -1.0, 1e-9))
	})

	It("is invariant to magnitude", func() {
		a := []float32{0.3, 0.7, 0.2}
		b := []float32{0.6, 1.4, 0.4}
		Expect(memory.CosineSimilarity(a, b)).To(BeNumerically("~", 1.0, 1e-6))
	})

	It("yields 0 for mismatched lengths", func() {
		Expect(memory.CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})).To(BeZero())
	})

	It("yields 0 for zero-magnitude vectors", func() {
		Expect(memory.CosineSimilarity([]float32{0, 0, 0}, []float32{1, 0, 0})).To(BeZero())
	})

	It("yields 0 for empty vectors", func() {
		Expect(memory.CosineSimilarity(nil, nil)).To(BeZero())
	})
})

var _ = Describe("CosineDistance", func() {
	It("is 0 for identical directions", func() {
		Expect(memory.CosineDistance([]float32{1, 2, 3}, []float32{2, 4, 6})).
			To(BeNumerically("~", 0.0, 1e-6))
	})

	It("is 1 for orthogonal vectors", func() {
		Expect(memory.CosineDistance([]float32{1, 0}, []float32{0, 1})).
			To(BeNumerically("~", 1.0, 1e-9))
	})

	It("ranks degenerate embeddings as maximally distant", func() {
		Expect(memory.CosineDistance([]float32{0, 0}, []float32{1, 0})).To(Equal(1.0))
	})
})
