package retention

import "sync/atomic"

// Stats tracks per-process admission counters. Durable state (cursor, tier
// counts) lives in the journal and the stores; these reset on restart.
type Stats struct {
	processed atomic.Uint64
	admitted  atomic.Uint64
	discarded atomic.Uint64
	unscored  atomic.Uint64
	degraded  atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Processed uint64 `json:"processed"`
	Admitted  uint64 `json:"admitted"`
	Discarded uint64 `json:"discarded"`
	Unscored  uint64 `json:"unscored"`
	Degraded  uint64 `json:"degraded"`

	// AdmissionRate is admitted / processed, 0 when nothing processed.
	AdmissionRate float64 `json:"admission_rate"`
}

// Snapshot returns a consistent-enough copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Processed: s.processed.Load(),
		Admitted:  s.admitted.Load(),
		Discarded: s.discarded.Load(),
		Unscored:  s.unscored.Load(),
		Degraded:  s.degraded.Load(),
	}
	if snap.Processed > 0 {
		snap.AdmissionRate = float64(snap.Admitted) / float64(snap.Processed)
	}
	return snap
}
