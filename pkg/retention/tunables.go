package retention

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Tunables is one immutable version of the runtime knobs that may change
// while the pipeline runs. The worker reads a snapshot per scoring attempt
// and the sweeper per sweep, so a config reload never needs a restart.
type Tunables struct {
	// OracleTimeout bounds a single scoring attempt.
	OracleTimeout time.Duration

	// RetryLimit is the number of additional attempts after a retryable
	// oracle failure before the event is skipped as unscored.
	RetryLimit int

	// MaxActiveAge evicts memories older than this. Zero disables the
	// age rule.
	MaxActiveAge time.Duration

	// MaxActiveCount evicts the oldest memories above this count. Zero
	// disables the capacity rule.
	MaxActiveCount int
}

// Validate checks a tunable set before it is swapped in. Zero values are
// legal throughout: they mean "rule disabled" or "use the default".
func (t Tunables) Validate() error {
	if t.OracleTimeout < 0 {
		return fmt.Errorf("oracle timeout must be non-negative, got %s", t.OracleTimeout)
	}
	if t.RetryLimit < 0 {
		return fmt.Errorf("retry limit must be non-negative, got %d", t.RetryLimit)
	}
	if t.MaxActiveAge < 0 {
		return fmt.Errorf("max active age must be non-negative, got %s", t.MaxActiveAge)
	}
	if t.MaxActiveCount < 0 {
		return fmt.Errorf("max active count must be non-negative, got %d", t.MaxActiveCount)
	}
	return nil
}

// TunableStore holds the live tunable set behind an atomic pointer. A
// single store is shared between the worker and the sweeper so one config
// reload updates both.
type TunableStore struct {
	current atomic.Pointer[Tunables]
	version atomic.Uint64
}

// NewTunableStore creates a store seeded with the given tunables.
func NewTunableStore(t Tunables) (*TunableStore, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retention tunables: %w", err)
	}

	s := &TunableStore{}
	s.version.Store(1)
	s.current.Store(&t)
	return s, nil
}

// Load returns the current tunable snapshot.
func (s *TunableStore) Load() Tunables {
	return *s.current.Load()
}

// Swap validates and installs a new tunable set, returning its assigned
// version. Invalid tunables are rejected and the previous set stays live.
func (s *TunableStore) Swap(t Tunables) (uint64, error) {
	if err := t.Validate(); err != nil {
		return s.version.Load(), fmt.Errorf("invalid retention tunables: %w", err)
	}

	s.current.Store(&t)
	return s.version.Add(1), nil
}

// Version returns the current tunable version.
func (s *TunableStore) Version() uint64 {
	return s.version.Load()
}
