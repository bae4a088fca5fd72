package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/journal"
)

// DefaultUserHold is the trailing hold window applied after user
// activity when no explicit duration is given.
const DefaultUserHold = 15 * time.Second

// Status is a read-only snapshot of the dispatcher.
type Status struct {
	UserQueue         int       `json:"user_queue"`
	BackgroundQueue   int       `json:"background_queue"`
	UserRunning       string    `json:"user_running,omitempty"`
	BackgroundRunning string    `json:"background_running,omitempty"`
	WindowActive      bool      `json:"window_active"`
	WindowDepth       int       `json:"window_depth"`
	HoldUntil         time.Time `json:"hold_until"`
	InflightKeys      int       `json:"inflight_keys"`
}

// Dispatcher owns the two job lanes and the cooperative job runner.
type Dispatcher struct {
	registry *Registry
	budget   *budget.Guard
	journal  *journal.Journal
	log      zerolog.Logger

	userHold time.Duration
	window   *priorityWindow

	mu              sync.Mutex
	userQueue       []*Job
	backgroundQueue []*Job
	userRunning     *Job
	bgRunning       *Job
	inflightKeys    map[string]bool
	orderSeq        int64
	draining        bool
	redrain         bool
	wg              sync.WaitGroup
}

// Config holds dispatcher construction parameters.
type Config struct {
	Registry *Registry
	Budget   *budget.Guard
	Journal  *journal.Journal
	UserHold time.Duration
	Log      zerolog.Logger
}

// New creates a dispatcher. Registry, Budget, and Journal are required.
func New(cfg Config) *Dispatcher {
	if cfg.UserHold <= 0 {
		cfg.UserHold = DefaultUserHold
	}
	d := &Dispatcher{
		registry:     cfg.Registry,
		budget:       cfg.Budget,
		journal:      cfg.Journal,
		log:          cfg.Log.With().Str("component", "dispatcher").Logger(),
		userHold:     cfg.UserHold,
		inflightKeys: make(map[string]bool),
	}
	d.window = newPriorityWindow(d.drain)
	return d
}

// Enqueue accepts a job into its lane. Jobs with a DedupeKey matching a
// queued or running job are rejected as duplicates. Defaults are
// normalized here: class background, priority 1 (user) / 5 (background).
func (d *Dispatcher) Enqueue(job *Job) EnqueueResult {
	if job == nil {
		return EnqueueResult{}
	}

	d.mu.Lock()
	if job.DedupeKey != "" && d.inflightKeys[job.DedupeKey] {
		d.mu.Unlock()
		d.log.Debug().Str("kind", job.Kind).Str("dedupe_key", job.DedupeKey).Msg("Duplicate job rejected")
		return EnqueueResult{Duplicate: true}
	}

	d.normalize(job)
	if job.DedupeKey != "" {
		d.inflightKeys[job.DedupeKey] = true
	}
	d.insertLocked(job)
	d.mu.Unlock()

	d.log.Debug().
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Str("class", job.Class).
		Int("priority", job.Priority).
		Msg("Job enqueued")

	d.drain()
	return EnqueueResult{Accepted: true, JobID: job.ID}
}

// normalize fills job defaults. Caller holds d.mu.
func (d *Dispatcher) normalize(job *Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Class != budget.ClassUser {
		job.Class = budget.ClassBackground
	}
	if job.Priority <= 0 {
		if job.Class == budget.ClassUser {
			job.Priority = DefaultUserPriority
		} else {
			job.Priority = DefaultBackgroundPriority
		}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.State = StateQueued
	d.orderSeq++
	job.order = d.orderSeq
}

// insertLocked places a job into its lane sorted by (priority asc,
// enqueue order asc). Caller holds d.mu.
func (d *Dispatcher) insertLocked(job *Job) {
	lane := &d.backgroundQueue
	if job.Class == budget.ClassUser {
		lane = &d.userQueue
	}
	q := append(*lane, job)
	sort.SliceStable(q, func(i, k int) bool {
		if q[i].Priority != q[k].Priority {
			return q[i].Priority < q[k].Priority
		}
		return q[i].order < q[k].order
	})
	*lane = q
}

// NoteUserActivity extends the trailing hold window: a passive signal
// that interactive activity occurred, discouraging background launches
// for a short trailing period.
func (d *Dispatcher) NoteUserActivity(reason string, hold time.Duration) {
	if hold <= 0 {
		hold = d.userHold
	}
	d.window.Extend(hold)
	d.log.Debug().Str("reason", reason).Dur("hold", hold).Msg("User activity noted")
}

// WithUserPriority runs fn inside a scoped active priority window. The
// depth is decremented (and the trailing hold re-extended) on every
// exit path of fn, including panics.
func (d *Dispatcher) WithUserPriority(label string, fn func() error) error {
	d.window.Enter()
	defer d.window.Exit(d.userHold)
	d.log.Debug().Str("label", label).Msg("User priority window opened")
	return fn()
}

// PriorityWindowActive reports whether background launches are deferred.
func (d *Dispatcher) PriorityWindowActive() bool {
	return d.window.IsActive()
}

// QueueLengths returns the queued (not running) job counts per lane.
func (d *Dispatcher) QueueLengths() (user, background int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.userQueue), len(d.backgroundQueue)
}

// QueuedJobs returns snapshots of all queued jobs, user lane first.
func (d *Dispatcher) QueuedJobs() []JobView {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]JobView, 0, len(d.userQueue)+len(d.backgroundQueue))
	for _, j := range d.userQueue {
		out = append(out, viewOf(j))
	}
	for _, j := range d.backgroundQueue {
		out = append(out, viewOf(j))
	}
	return out
}

// GetStatus returns a snapshot of the dispatcher state.
func (d *Dispatcher) GetStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Status{
		UserQueue:       len(d.userQueue),
		BackgroundQueue: len(d.backgroundQueue),
		WindowActive:    d.window.IsActive(),
		WindowDepth:     d.window.Depth(),
		HoldUntil:       d.window.HoldUntil(),
		InflightKeys:    len(d.inflightKeys),
	}
	if d.userRunning != nil {
		s.UserRunning = d.userRunning.ID
	}
	if d.bgRunning != nil {
		s.BackgroundRunning = d.bgRunning.ID
	}
	return s
}

// Wait blocks until all currently running jobs have finished. Used
// during shutdown; it does not stop new launches.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// drain starts eligible jobs until both lanes are saturated or blocked.
// Coalesced: concurrent callers fold into one pass.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	if d.draining {
		d.redrain = true
		d.mu.Unlock()
		return
	}
	d.draining = true
	for {
		d.redrain = false
		d.drainLocked()
		if !d.redrain {
			break
		}
	}
	d.draining = false
	d.mu.Unlock()
}

// drainLocked performs one drain pass. Caller holds d.mu.
func (d *Dispatcher) drainLocked() {
	for {
		started := false
		if d.userRunning == nil && len(d.userQueue) > 0 {
			job := d.userQueue[0]
			d.userQueue = d.userQueue[1:]
			d.startLocked(job)
			started = true
		}
		if d.bgRunning == nil && !d.window.IsActive() && len(d.backgroundQueue) > 0 {
			job := d.backgroundQueue[0]
			d.backgroundQueue = d.backgroundQueue[1:]
			d.startLocked(job)
			started = true
		}
		if !started {
			return
		}
	}
}

// startLocked marks a job running in its lane and launches the runner.
// Caller holds d.mu.
func (d *Dispatcher) startLocked(job *Job) {
	job.State = StateRunning
	if job.Class == budget.ClassUser {
		d.userRunning = job
	} else {
		d.bgRunning = job
	}
	d.wg.Add(1)
	go d.runJob(job)
}

// runJob executes a single job through its full lifecycle: budget
// reservation, handler invocation, outcome classification, usage
// reconciliation, lifecycle record, and dedupe release.
func (d *Dispatcher) runJob(job *Job) {
	defer d.wg.Done()

	dec := d.budget.Reserve(job.ID, job.Class, job.EstimatedTokens)
	if !dec.OK {
		d.log.Info().
			Str("job_id", job.ID).
			Str("kind", job.Kind).
			Str("reason", dec.Reason).
			Int("hourly_remaining", dec.HourlyRemaining).
			Int("daily_remaining", dec.DailyRemaining).
			Msg("Job skipped, budget exceeded")
		d.finish(job, StateSkippedBudget, budget.Usage{})
		return
	}

	res, err := d.invoke(job)

	switch {
	case err != nil:
		d.log.Warn().Err(err).Str("job_id", job.ID).Str("kind", job.Kind).Msg("Job failed")
		zero := 0
		d.finish(job, StateFailed, budget.Usage{TotalTokens: &zero})

	case res.Yielded && !job.Preemptible:
		// Yielding without being preemptible is a contract violation.
		d.log.Error().Str("job_id", job.ID).Str("kind", job.Kind).
			Msg("Non-preemptible job yielded, forcing failure")
		d.finish(job, StateFailed, res.Usage)

	case res.Yielded:
		job.Attempts++
		if job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts {
			d.log.Warn().Str("job_id", job.ID).Str("kind", job.Kind).
				Int("attempts", job.Attempts).
				Msg("Yielded job exceeded max attempts, failing")
			d.finish(job, StateFailed, res.Usage)
			return
		}
		job.ResumeToken = res.ResumeToken
		d.pause(job, res.Usage)

	default:
		d.finish(job, StateDone, res.Usage)
	}
}

// invoke runs the handler, converting panics into errors.
func (d *Dispatcher) invoke(job *Job) (res *Result, err error) {
	handler := d.registry.Get(job.Kind)
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for kind %q", job.Kind)
	}

	rc := &RunContext{
		job:    job,
		window: d.window,
		log:    d.log.With().Str("job_id", job.ID).Str("kind", job.Kind).Logger(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	res, err = handler(context.Background(), rc)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

// finish moves a job to a terminal state and cleans up after it.
func (d *Dispatcher) finish(job *Job, state State, usage budget.Usage) {
	job.State = state
	d.budget.RecordUsage(job.ID, usage)

	d.mu.Lock()
	d.clearRunningLocked(job)
	if job.DedupeKey != "" {
		delete(d.inflightKeys, job.DedupeKey)
	}
	d.mu.Unlock()

	d.emitLifecycle(job)
	d.drain()
}

// pause re-queues a yielded preemptible job in place, keeping its
// dedupe key so an identical job cannot slip in while it waits.
func (d *Dispatcher) pause(job *Job, usage budget.Usage) {
	d.budget.RecordUsage(job.ID, usage)

	d.mu.Lock()
	d.clearRunningLocked(job)
	job.State = StatePaused
	d.orderSeq++
	job.order = d.orderSeq
	d.insertLocked(job)
	d.mu.Unlock()

	d.log.Info().
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Int("attempts", job.Attempts).
		Msg("Job yielded, re-queued")
	d.emitLifecycle(job)
	d.drain()
}

func (d *Dispatcher) clearRunningLocked(job *Job) {
	if d.userRunning == job {
		d.userRunning = nil
	}
	if d.bgRunning == job {
		d.bgRunning = nil
	}
}

// emitLifecycle records a job state transition in the journal's
// reserved runtime domain.
func (d *Dispatcher) emitLifecycle(job *Job) {
	if d.journal == nil {
		return
	}
	_, err := d.journal.Emit(journal.DomainRuntime, "job_"+string(job.State), map[string]any{
		"id":             job.ID,
		"kind":           job.Kind,
		"domain":         job.Domain,
		"state":          string(job.State),
		"priority_class": job.Class,
	}, journal.EmitOptions{Source: "dispatcher"})
	if err != nil {
		d.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to emit lifecycle event")
	}
}
