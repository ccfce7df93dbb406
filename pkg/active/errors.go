package active

import "errors"

var (
	// ErrDimensionMismatch is returned when an embedding's dimension does
	// not match the store's fixed dimension. Fatal for that single insert;
	// changing the embedding oracle requires a new store generation, never
	// silent dimension mixing.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrConnection is returned when the store's backing database cannot
	// be opened or probed.
	ErrConnection = errors.New("active store connection failed")
)
