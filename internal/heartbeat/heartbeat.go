// Package heartbeat provides the periodic tick loop that reads the
// change journal, consults the evaluator, and feeds the resulting jobs
// into the dispatcher. In steady state almost every tick is a skip:
// nothing changed, nothing queued, nothing reserved.
package heartbeat

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/dispatch"
	"github.com/aristath/overseer/internal/evaluate"
	"github.com/aristath/overseer/internal/journal"
)

// Tick skip reasons.
const (
	SkipInProgress = "tick-in-progress"
	SkipNoChange   = "no-change"
)

// Config holds heartbeat tunables.
type Config struct {
	Interval     time.Duration // Base tick interval
	Jitter       time.Duration // Random jitter added per interval
	EvalDeadline time.Duration // Advisory soft deadline for the evaluator
	WakeDelay    time.Duration // Debounce for external wake signals
}

// TickResult reports what one tick did.
type TickResult struct {
	Skipped        bool     `json:"skipped"`
	Reason         string   `json:"reason,omitempty"`
	ChangedDomains []string `json:"changed_domains,omitempty"`
	JobsEnqueued   int      `json:"jobs_enqueued"`
	Observations   []string `json:"observations,omitempty"`
}

// Heartbeat drives the tick loop.
type Heartbeat struct {
	cfg        Config
	journal    *journal.Journal
	dispatcher *dispatch.Dispatcher
	budget     *budget.Guard
	evaluator  evaluate.Evaluator
	log        zerolog.Logger
	stats      *Stats

	tickMu sync.Mutex // Held for the duration of a tick; TryLock is the re-entrancy guard

	mu           sync.Mutex // Guards the fields below
	lastVersions map[string]int64
	lastSeq      int64
	wakePending  bool

	stop    chan struct{}
	stopped chan struct{}
	started bool
	rng     *rand.Rand
}

// New creates a heartbeat. The evaluator may be nil-safe composite; a
// nil evaluator makes every non-skip tick a no-op.
func New(cfg Config, j *journal.Journal, d *dispatch.Dispatcher, b *budget.Guard, e evaluate.Evaluator, log zerolog.Logger) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.EvalDeadline <= 0 {
		cfg.EvalDeadline = 10 * time.Second
	}
	if cfg.WakeDelay <= 0 {
		cfg.WakeDelay = 250 * time.Millisecond
	}
	return &Heartbeat{
		cfg:          cfg,
		journal:      j,
		dispatcher:   d,
		budget:       b,
		evaluator:    e,
		log:          log.With().Str("component", "heartbeat").Logger(),
		stats:        newStats(),
		lastVersions: make(map[string]int64),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the timer loop. Jitter desynchronizes ticks across
// processes sharing a wall clock.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		h.log.Warn().Msg("Heartbeat already started, ignoring")
		return
	}
	h.started = true
	h.mu.Unlock()

	h.log.Info().
		Dur("interval", h.cfg.Interval).
		Dur("jitter", h.cfg.Jitter).
		Msg("Heartbeat started")

	go func() {
		defer close(h.stopped)
		timer := time.NewTimer(h.nextInterval())
		defer timer.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-timer.C:
				if _, err := h.Tick("interval"); err != nil {
					h.log.Error().Err(err).Msg("Tick failed")
				}
				timer.Reset(h.nextInterval())
			}
		}
	}()
}

// Stop halts the timer loop. In-progress ticks run to completion.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.mu.Unlock()

	close(h.stop)
	<-h.stopped
	h.log.Info().Msg("Heartbeat stopped")
}

func (h *Heartbeat) nextInterval() time.Duration {
	d := h.cfg.Interval
	if h.cfg.Jitter > 0 {
		h.mu.Lock()
		d += time.Duration(h.rng.Int63n(int64(h.cfg.Jitter)))
		h.mu.Unlock()
	}
	return d
}

// Wake requests an out-of-band tick, debounced to WakeDelay. A wake
// already pending absorbs later ones.
func (h *Heartbeat) Wake(reason string) {
	h.mu.Lock()
	if h.wakePending {
		h.mu.Unlock()
		return
	}
	h.wakePending = true
	h.mu.Unlock()

	time.AfterFunc(h.cfg.WakeDelay, func() {
		h.mu.Lock()
		h.wakePending = false
		h.mu.Unlock()
		if _, err := h.Tick(reason); err != nil {
			h.log.Error().Err(err).Str("reason", reason).Msg("Wake tick failed")
		}
	})
}

// Tick runs one scheduling pass. Evaluator errors propagate to the
// caller after being counted; they never stop the next scheduled tick.
func (h *Heartbeat) Tick(reason string) (*TickResult, error) {
	if !h.tickMu.TryLock() {
		return &TickResult{Skipped: true, Reason: SkipInProgress}, nil
	}
	defer h.tickMu.Unlock()
	start := time.Now()

	h.mu.Lock()
	lastVersions := h.lastVersions
	lastSeq := h.lastSeq
	h.mu.Unlock()

	changed := h.journal.DiffVersions(lastVersions)
	observedVersions := h.journal.Versions()
	observedSeq := h.journal.Seq()

	var recent []*journal.ChangeEvent
	if observedSeq > lastSeq {
		recent = h.journal.EventsSinceSeq(lastSeq, 0)
	}

	userQ, bgQ := h.dispatcher.QueueLengths()
	reservations := h.budget.OpenReservations()

	// Skip law: nothing changed, nothing queued, nothing reserved.
	if len(changed) == 0 && len(recent) == 0 && userQ == 0 && bgQ == 0 && reservations == 0 {
		h.stats.recordSkip()
		return &TickResult{Skipped: true, Reason: SkipNoChange}, nil
	}

	result := &TickResult{ChangedDomains: changed}
	var evalErr error

	if h.evaluator != nil {
		ec := &evaluate.Context{
			Reason:         reason,
			ChangedDomains: changed,
			RecentEvents:   recent,
			Snapshot:       h.journal.GetSnapshot(),
			Journal:        h.journal,
			Dispatcher:     h.dispatcher,
			Budget:         h.budget,
			Deadline:       start.Add(h.cfg.EvalDeadline),
		}
		res, err := h.evaluator.Evaluate(context.Background(), ec)
		evalErr = err
		if res != nil {
			result.Observations = res.Observations
			for _, job := range res.Jobs {
				if job == nil {
					continue
				}
				if enq := h.dispatcher.Enqueue(job); enq.Accepted {
					result.JobsEnqueued++
				}
			}
		}
	}

	// Advance to the values observed before evaluation, not to anything
	// newer, so events produced concurrently with the evaluator are seen
	// by the next tick.
	h.mu.Lock()
	h.lastVersions = observedVersions
	h.lastSeq = observedSeq
	h.mu.Unlock()

	h.stats.recordTick(time.Since(start), result.JobsEnqueued, evalErr)

	if evalErr != nil {
		return result, fmt.Errorf("evaluator failed: %w", evalErr)
	}

	h.log.Debug().
		Str("reason", reason).
		Strs("changed", changed).
		Int("events", len(recent)).
		Int("jobs", result.JobsEnqueued).
		Msg("Tick completed")
	return result, nil
}

// GetStats returns a snapshot of the rolling statistics.
func (h *Heartbeat) GetStats() StatsSnapshot {
	return h.stats.Snapshot()
}

// LastSeenSeq returns the sequence the heartbeat has caught up to.
func (h *Heartbeat) LastSeenSeq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeq
}
