// Package oracle defines the contracts for the two remote scoring models the
// pipeline depends on: a perplexity oracle scoring linguistic surprise and an
// embedding oracle producing fixed-dimension dense vectors.
//
// Both are remote, fallible, and may be slow. Implementations are swappable
// (remote HTTP, in-process, test stub) without touching the evaluator; the
// retention worker applies timeouts via the context it passes in.
package oracle

import "context"

// Perplexity scores how unexpected a piece of text is to a language model.
type Perplexity interface {
	// Score returns the raw perplexity of the text, always >= 1.
	Score(ctx context.Context, text string) (float64, error)

	// Close releases any resources held by the oracle.
	Close() error
}

// Embedder converts text into a dense vector of fixed dimension.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
