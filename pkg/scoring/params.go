package scoring

import (
	"fmt"
	"sync/atomic"
)

// Default scoring parameters. These are starting points for empirical
// tuning, not constants: every value is hot-reloadable through ParamStore.
const (
	DefaultPerplexityWeight   = 0.6
	DefaultNoveltyWeight      = 0.4
	DefaultAdmissionThreshold = 0.7
	DefaultPerplexityScale    = 5.0
	DefaultFallbackNovelty    = 0.5
)

// Params is one immutable version of the scoring configuration. The
// evaluator reads a snapshot per call, so a reload mid-stream never mixes
// old and new weights within a single score.
type Params struct {
	// PerplexityWeight and NoveltyWeight combine the two signals; they
	// should sum to 1.0.
	PerplexityWeight float64
	NoveltyWeight    float64

	// AdmissionThreshold is the minimum surprise score that persists a
	// memory.
	AdmissionThreshold float64

	// PerplexityScale is K in norm = min(1, ln(p+1)/K), chosen so typical
	// conversational perplexity (1-150) maps into a usable [0,1] range
	// without extreme values saturating everything to 1.
	PerplexityScale float64

	// FallbackNovelty is used when the nearest-neighbor lookup fails:
	// assume medium novelty rather than blocking, and flag the result
	// degraded.
	FallbackNovelty float64

	// Version increases on every reload.
	Version uint64
}

// DefaultParams returns the default parameter set at version 1.
func DefaultParams() Params {
	return Params{
		PerplexityWeight:   DefaultPerplexityWeight,
		NoveltyWeight:      DefaultNoveltyWeight,
		AdmissionThreshold: DefaultAdmissionThreshold,
		PerplexityScale:    DefaultPerplexityScale,
		FallbackNovelty:    DefaultFallbackNovelty,
		Version:            1,
	}
}

// Validate checks a parameter set before it is swapped in.
func (p Params) Validate() error {
	if p.PerplexityWeight < 0 || p.NoveltyWeight < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	if sum := p.PerplexityWeight + p.NoveltyWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("weights must sum to 1.0, got %g", sum)
	}
	if p.AdmissionThreshold < 0 || p.AdmissionThreshold > 1 {
		return fmt.Errorf("admission threshold must be in [0,1], got %g", p.AdmissionThreshold)
	}
	if p.PerplexityScale <= 0 {
		return fmt.Errorf("perplexity scale must be positive, got %g", p.PerplexityScale)
	}
	if p.FallbackNovelty < 0 || p.FallbackNovelty > 1 {
		return fmt.Errorf("fallback novelty must be in [0,1], got %g", p.FallbackNovelty)
	}
	return nil
}

// ParamStore holds the live parameter set behind an atomic pointer so the
// worker loop picks up config reloads without restarting.
type ParamStore struct {
	current atomic.Pointer[Params]
	version atomic.Uint64
}

// NewParamStore creates a store seeded with the given parameters.
func NewParamStore(p Params) (*ParamStore, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring params: %w", err)
	}

	s := &ParamStore{}
	p.Version = 1
	s.version.Store(1)
	s.current.Store(&p)
	return s, nil
}

// Load returns the current parameter snapshot.
func (s *ParamStore) Load() Params {
	return *s.current.Load()
}

// Swap validates and installs a new parameter set, returning its assigned
// version. Invalid parameters are rejected and the previous set stays live.
func (s *ParamStore) Swap(p Params) (uint64, error) {
	if err := p.Validate(); err != nil {
		return s.version.Load(), fmt.Errorf("invalid scoring params: %w", err)
	}

	p.Version = s.version.Add(1)
	s.current.Store(&p)
	return p.Version, nil
}

// Version returns the current parameter version.
func (s *ParamStore) Version() uint64 {
	return s.version.Load()
}
