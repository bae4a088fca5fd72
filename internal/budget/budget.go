// Package budget provides time-bucketed token-spend accounting with
// reservation/commit semantics. Background work reserves its estimated
// cost at admission; the actual cost reconciles the counters when the
// job completes.
package budget

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job classes admitted by the guard.
const (
	ClassUser       = "user"
	ClassBackground = "background"
)

// Refusal reason tags.
const (
	ReasonBackgroundHourly = "background_hourly_budget_exceeded"
	ReasonBackgroundDaily  = "background_daily_budget_exceeded"
	ReasonUserDaily        = "user_daily_budget_exceeded"
)

// Limits holds the configured ceilings. A zero background ceiling means
// that bucket is unlimited.
type Limits struct {
	BackgroundHourlyTokens int  `json:"background_hourly_tokens" msgpack:"background_hourly_tokens"`
	BackgroundDailyTokens  int  `json:"background_daily_tokens" msgpack:"background_daily_tokens"`
	EnforceUserCaps        bool `json:"enforce_user_caps" msgpack:"enforce_user_caps"`
	UserDailyTokens        int  `json:"user_daily_tokens" msgpack:"user_daily_tokens"`
}

// ClassUsage tracks spend for one job class within the current buckets.
type ClassUsage struct {
	HourlyTokens int `json:"hourly_tokens" msgpack:"hourly_tokens"`
	DailyTokens  int `json:"daily_tokens" msgpack:"daily_tokens"`
	LaunchesHour int `json:"launches_hour" msgpack:"launches_hour"`
	LaunchesDay  int `json:"launches_day" msgpack:"launches_day"`
}

// Reservation is an open estimate awaiting reconciliation. The bucket
// keys are snapshotted at reservation time so a correction whose bucket
// has since rolled over can be discarded instead of landing in the new
// bucket.
type Reservation struct {
	JobClass        string    `json:"job_class" msgpack:"job_class"`
	EstimatedTokens int       `json:"estimated_tokens" msgpack:"estimated_tokens"`
	ReservedAt      time.Time `json:"reserved_at" msgpack:"reserved_at"`
	HourKey         string    `json:"hour_key" msgpack:"hour_key"`
	DayKey          string    `json:"day_key" msgpack:"day_key"`
}

// State is the persisted budget state.
type State struct {
	Limits       Limits                 `json:"limits" msgpack:"limits"`
	HourKey      string                 `json:"hour_key" msgpack:"hour_key"`
	DayKey       string                 `json:"day_key" msgpack:"day_key"`
	Background   ClassUsage             `json:"background" msgpack:"background"`
	User         ClassUsage             `json:"user" msgpack:"user"`
	Reservations map[string]Reservation `json:"reservations" msgpack:"reservations"`
	LastUpdated  time.Time              `json:"last_updated" msgpack:"last_updated"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	OK              bool   `json:"ok"`
	Reason          string `json:"reason,omitempty"`
	HourlyRemaining int    `json:"hourly_remaining"`
	DailyRemaining  int    `json:"daily_remaining"`
}

// Usage reports the actual cost of a completed job. The first non-nil
// field in (TotalTokens, Tokens, EstimatedTokens) order wins.
type Usage struct {
	TotalTokens     *int `json:"total_tokens,omitempty"`
	Tokens          *int `json:"tokens,omitempty"`
	EstimatedTokens *int `json:"estimated_tokens,omitempty"`
}

// ActualTokens resolves the reported token count, defaulting to fallback.
func (u Usage) ActualTokens(fallback int) int {
	switch {
	case u.TotalTokens != nil:
		return *u.TotalTokens
	case u.Tokens != nil:
		return *u.Tokens
	case u.EstimatedTokens != nil:
		return *u.EstimatedTokens
	}
	return fallback
}

// Store persists budget state.
type Store interface {
	Save(state *State) error
	Load() (*State, error) // nil state when nothing persisted
}

// Guard enforces the token budget. Safe for concurrent use.
type Guard struct {
	mu    sync.Mutex
	state State
	store Store // May be nil (memory-only)
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a guard with the given limits. Pass a nil store for
// memory-only operation.
func New(limits Limits, store Store, log zerolog.Logger) *Guard {
	g := &Guard{
		state: State{
			Limits:       limits,
			Reservations: make(map[string]Reservation),
		},
		store: store,
		log:   log.With().Str("component", "budget").Logger(),
		now:   time.Now,
	}
	now := g.now()
	g.state.HourKey = hourKey(now)
	g.state.DayKey = dayKey(now)
	return g
}

// Load hydrates persisted state. Configured limits win over persisted
// ones so a restart picks up new ceilings.
func (g *Guard) Load() error {
	if g.store == nil {
		return nil
	}
	state, err := g.store.Load()
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	limits := g.state.Limits
	g.state = *state
	g.state.Limits = limits
	if g.state.Reservations == nil {
		g.state.Reservations = make(map[string]Reservation)
	}
	g.rolloverLocked()
	g.log.Info().
		Int("open_reservations", len(g.state.Reservations)).
		Msg("Budget state loaded")
	return nil
}

// CanLaunch checks whether a job of the given class and estimated cost
// fits within the current buckets. Read-only.
func (g *Guard) CanLaunch(jobClass string, estimateTokens int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.canLaunchLocked(jobClass, estimateTokens)
}

func (g *Guard) canLaunchLocked(jobClass string, estimateTokens int) Decision {
	lim := g.state.Limits

	if jobClass == ClassUser {
		d := Decision{OK: true, HourlyRemaining: -1, DailyRemaining: -1}
		if lim.EnforceUserCaps && lim.UserDailyTokens > 0 {
			d.DailyRemaining = lim.UserDailyTokens - g.state.User.DailyTokens
			if g.state.User.DailyTokens+estimateTokens > lim.UserDailyTokens {
				d.OK = false
				d.Reason = ReasonUserDaily
			}
		}
		return d
	}

	d := Decision{OK: true, HourlyRemaining: -1, DailyRemaining: -1}
	if lim.BackgroundHourlyTokens > 0 {
		d.HourlyRemaining = lim.BackgroundHourlyTokens - g.state.Background.HourlyTokens
		if g.state.Background.HourlyTokens+estimateTokens > lim.BackgroundHourlyTokens {
			return Decision{
				Reason:          ReasonBackgroundHourly,
				HourlyRemaining: d.HourlyRemaining,
				DailyRemaining:  dailyRemaining(lim, g.state.Background),
			}
		}
	}
	if lim.BackgroundDailyTokens > 0 {
		d.DailyRemaining = lim.BackgroundDailyTokens - g.state.Background.DailyTokens
		if g.state.Background.DailyTokens+estimateTokens > lim.BackgroundDailyTokens {
			return Decision{
				Reason:          ReasonBackgroundDaily,
				HourlyRemaining: d.HourlyRemaining,
				DailyRemaining:  d.DailyRemaining,
			}
		}
	}
	return d
}

func dailyRemaining(lim Limits, u ClassUsage) int {
	if lim.BackgroundDailyTokens <= 0 {
		return -1
	}
	return lim.BackgroundDailyTokens - u.DailyTokens
}

// Reserve admits a job and, if allowed, charges its estimate to the
// current buckets and records an open reservation keyed by jobID.
// Refusal mutates nothing.
func (g *Guard) Reserve(jobID, jobClass string, estimateTokens int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	d := g.canLaunchLocked(jobClass, estimateTokens)
	if !d.OK {
		g.log.Debug().
			Str("job_id", jobID).
			Str("reason", d.Reason).
			Int("estimate", estimateTokens).
			Msg("Budget reservation refused")
		return d
	}

	usage := g.usageFor(jobClass)
	usage.HourlyTokens += estimateTokens
	usage.DailyTokens += estimateTokens
	usage.LaunchesHour++
	usage.LaunchesDay++

	g.state.Reservations[jobID] = Reservation{
		JobClass:        jobClass,
		EstimatedTokens: estimateTokens,
		ReservedAt:      g.now(),
		HourKey:         g.state.HourKey,
		DayKey:          g.state.DayKey,
	}
	g.persistLocked()
	return d
}

// RecordUsage reconciles a reservation against the actual cost. The
// estimate/actual delta is applied to the bucket the reservation was
// taken in; a granularity that has since rolled over discards its share
// of the correction. Unknown job IDs are a zero-delta no-op; the
// reservation (if any) is always removed.
func (g *Guard) RecordUsage(jobID string, usage Usage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	res, ok := g.state.Reservations[jobID]
	if !ok {
		return
	}
	delete(g.state.Reservations, jobID)

	actual := usage.ActualTokens(res.EstimatedTokens)
	delta := actual - res.EstimatedTokens
	u := g.usageFor(res.JobClass)
	if res.HourKey == g.state.HourKey {
		u.HourlyTokens = clampZero(u.HourlyTokens + delta)
	}
	if res.DayKey == g.state.DayKey {
		u.DailyTokens = clampZero(u.DailyTokens + delta)
	}
	g.persistLocked()
}

// ReleaseReservation drops a reservation and refunds its estimate from
// any bucket that has not rolled over. Used when a job never ran.
func (g *Guard) ReleaseReservation(jobID string) {
	zero := 0
	g.RecordUsage(jobID, Usage{TotalTokens: &zero})
}

// OpenReservations returns the number of open reservations.
func (g *Guard) OpenReservations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.state.Reservations)
}

// GetSnapshot returns a copy of the current state for read-only use.
func (g *Guard) GetSnapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	out := g.state
	out.Reservations = make(map[string]Reservation, len(g.state.Reservations))
	for k, v := range g.state.Reservations {
		out.Reservations[k] = v
	}
	return out
}

func (g *Guard) usageFor(jobClass string) *ClassUsage {
	if jobClass == ClassUser {
		return &g.state.User
	}
	return &g.state.Background
}

// rolloverLocked recomputes the bucket keys from wall-clock time and
// resets the counters of any granularity that crossed a boundary. Runs
// lazily before every read or mutation; there is no separate timer.
func (g *Guard) rolloverLocked() {
	now := g.now()
	hk, dk := hourKey(now), dayKey(now)

	if hk != g.state.HourKey {
		g.state.HourKey = hk
		g.state.Background.HourlyTokens = 0
		g.state.Background.LaunchesHour = 0
		g.state.User.HourlyTokens = 0
		g.state.User.LaunchesHour = 0
	}
	if dk != g.state.DayKey {
		g.state.DayKey = dk
		g.state.Background.DailyTokens = 0
		g.state.Background.LaunchesDay = 0
		g.state.User.DailyTokens = 0
		g.state.User.LaunchesDay = 0
	}
}

func (g *Guard) persistLocked() {
	g.state.LastUpdated = g.now()
	if g.store == nil {
		return
	}
	if err := g.store.Save(&g.state); err != nil {
		g.log.Error().Err(err).Msg("Failed to persist budget state, in-memory state remains authoritative")
	}
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func hourKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
