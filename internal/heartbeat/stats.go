package heartbeat

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// emaAlpha weights the exponential moving average of tick durations.
const emaAlpha = 0.2

// durationWindow is how many recent tick durations feed the
// mean/stddev diagnostics.
const durationWindow = 64

// Stats tracks rolling heartbeat statistics.
type Stats struct {
	mu          sync.Mutex
	ticks       int64
	skips       int64
	withActions int64
	errors      int64
	emaMs       float64
	durations   []float64 // Recent tick durations in ms, ring
	durIdx      int
	durFull     bool
}

// StatsSnapshot is a read-only view of heartbeat statistics.
type StatsSnapshot struct {
	Ticks       int64   `json:"ticks"`
	Skips       int64   `json:"skips"`
	WithActions int64   `json:"with_actions"`
	Errors      int64   `json:"errors"`
	EMAMs       float64 `json:"ema_ms"`
	MeanMs      float64 `json:"mean_ms"`
	StddevMs    float64 `json:"stddev_ms"`
}

func newStats() *Stats {
	return &Stats{durations: make([]float64, durationWindow)}
}

func (s *Stats) recordSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.skips++
}

func (s *Stats) recordTick(d time.Duration, actions int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	if actions > 0 {
		s.withActions++
	}
	if err != nil {
		s.errors++
	}

	ms := float64(d.Microseconds()) / 1000
	if s.emaMs == 0 {
		s.emaMs = ms
	} else {
		s.emaMs = emaAlpha*ms + (1-emaAlpha)*s.emaMs
	}

	s.durations[s.durIdx] = ms
	s.durIdx++
	if s.durIdx == len(s.durations) {
		s.durIdx = 0
		s.durFull = true
	}
}

// Snapshot returns the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.durations[:s.durIdx]
	if s.durFull {
		window = s.durations
	}
	snap := StatsSnapshot{
		Ticks:       s.ticks,
		Skips:       s.skips,
		WithActions: s.withActions,
		Errors:      s.errors,
		EMAMs:       s.emaMs,
	}
	if len(window) > 0 {
		snap.MeanMs = stat.Mean(window, nil)
	}
	if len(window) > 1 {
		snap.StddevMs = stat.StdDev(window, nil)
	}
	return snap
}
