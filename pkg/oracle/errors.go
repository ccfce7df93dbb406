package oracle

import "errors"

var (
	// ErrUnavailable is returned when an oracle call fails transiently
	// (timeout, connection error, non-2xx status). Retryable.
	ErrUnavailable = errors.New("oracle unavailable")

	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrPerplexity is returned when perplexity scoring fails.
	ErrPerplexity = errors.New("perplexity scoring failed")
)
