package stream

import "errors"

var (
	// ErrClosed is returned when reading from a closed stream.
	ErrClosed = errors.New("stream closed")

	// ErrDecode is returned when a stream payload cannot be decoded into a
	// raw event.
	ErrDecode = errors.New("decoding stream event failed")
)
