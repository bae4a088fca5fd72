package journal

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Default tunables, overridable via Config.
const (
	DefaultMaxEvents  = 500
	DefaultSummaryCap = 512
)

// Config holds journal tunables.
type Config struct {
	MaxEvents  int // Bounded ring size; oldest events evicted first
	SummaryCap int // Max bytes retained from a payload summary
}

// Journal is the versioned change log. Safe for concurrent use.
type Journal struct {
	mu         sync.Mutex
	versions   map[string]int64
	seq        int64
	events     []*ChangeEvent // Oldest first
	maxEvents  int
	summaryCap int
	updatedAt  time.Time

	observers       map[string][]*subscription
	globalObservers []*subscription

	store Store // May be nil (memory-only)
	log   zerolog.Logger
}

// New creates a journal. Pass a nil store for memory-only operation.
func New(cfg Config, store Store, log zerolog.Logger) *Journal {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.SummaryCap <= 0 {
		cfg.SummaryCap = DefaultSummaryCap
	}
	return &Journal{
		versions:   make(map[string]int64),
		events:     make([]*ChangeEvent, 0, cfg.MaxEvents),
		maxEvents:  cfg.MaxEvents,
		summaryCap: cfg.SummaryCap,
		observers:  make(map[string][]*subscription),
		store:      store,
		log:        log.With().Str("component", "journal").Logger(),
	}
}

// Load hydrates the journal from its store. Call once at startup,
// before any Emit.
func (j *Journal) Load() error {
	if j.store == nil {
		return nil
	}
	state, err := j.store.Load(j.maxEvents)
	if err != nil {
		return fmt.Errorf("failed to load journal state: %w", err)
	}
	if state == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.versions = state.Versions
	if j.versions == nil {
		j.versions = make(map[string]int64)
	}
	j.seq = state.Seq
	j.events = state.Events
	if len(j.events) > 0 {
		j.updatedAt = j.events[len(j.events)-1].Timestamp
	}

	j.log.Info().
		Int64("seq", j.seq).
		Int("events", len(j.events)).
		Int("domains", len(j.versions)).
		Msg("Journal state loaded")
	return nil
}

// Emit appends a change event for a domain, bumping the domain's version
// and the global sequence exactly once. The event is persisted
// synchronously before Emit returns; persistence failures are logged and
// swallowed (the in-memory state stays authoritative for the life of the
// process). Returns an error only when domain is empty.
func (j *Journal) Emit(domain, eventType string, payload any, opts EmitOptions) (*ChangeEvent, error) {
	if domain == "" {
		return nil, fmt.Errorf("emit requires a non-empty domain")
	}

	j.mu.Lock()
	j.seq++
	j.versions[domain]++

	ev := &ChangeEvent{
		ID:        uuid.New().String(),
		Seq:       j.seq,
		Timestamp: time.Now().UTC(),
		Domain:    domain,
		Type:      eventType,
		Version:   j.versions[domain],
		Summary:   summarize(payload, j.summaryCap),
		Source:    opts.Source,
	}
	if opts.StorePayload {
		ev.Payload = payload
	}

	j.events = append(j.events, ev)
	evicted := false
	if len(j.events) > j.maxEvents {
		j.events = j.events[len(j.events)-j.maxEvents:]
		evicted = true
	}
	minSeq := j.events[0].Seq
	j.updatedAt = ev.Timestamp

	if j.store != nil {
		if err := j.store.Append(ev); err != nil {
			j.log.Error().Err(err).Str("domain", domain).Str("type", eventType).
				Msg("Failed to persist journal event, in-memory state remains authoritative")
		} else if evicted {
			if err := j.store.Trim(minSeq); err != nil {
				j.log.Warn().Err(err).Int64("min_seq", minSeq).Msg("Failed to trim persisted events")
			}
		}
	}

	domainObs := append([]*subscription(nil), j.observers[domain]...)
	globalObs := append([]*subscription(nil), j.globalObservers...)
	j.mu.Unlock()

	// Observers are notified outside the lock so they can safely call
	// back into the journal.
	for _, s := range domainObs {
		s.observer.HandleChange(ev)
	}
	for _, s := range globalObs {
		s.observer.HandleChange(ev)
	}

	return ev, nil
}

// subscription ties an observer to its registration so it can be
// removed by identity.
type subscription struct {
	domain   string // "" for global
	observer Observer
}

// Subscribe registers an observer for a single domain and returns a
// function that removes it.
func (j *Journal) Subscribe(domain string, o Observer) func() {
	sub := &subscription{domain: domain, observer: o}
	j.mu.Lock()
	j.observers[domain] = append(j.observers[domain], sub)
	j.mu.Unlock()
	return func() { j.unsubscribe(sub) }
}

// SubscribeAll registers an observer for every domain and returns a
// function that removes it.
func (j *Journal) SubscribeAll(o Observer) func() {
	sub := &subscription{observer: o}
	j.mu.Lock()
	j.globalObservers = append(j.globalObservers, sub)
	j.mu.Unlock()
	return func() { j.unsubscribe(sub) }
}

func (j *Journal) unsubscribe(sub *subscription) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if sub.domain != "" {
		j.observers[sub.domain] = removeSub(j.observers[sub.domain], sub)
		return
	}
	j.globalObservers = removeSub(j.globalObservers, sub)
}

func removeSub(subs []*subscription, target *subscription) []*subscription {
	for i, s := range subs {
		if s == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// DiffVersions returns the sorted set of domains whose current version
// differs from prev. Missing entries are treated as version 0. Pure with
// respect to journal state.
func (j *Journal) DiffVersions(prev map[string]int64) []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var changed []string
	for domain, v := range j.versions {
		if prev[domain] != v {
			changed = append(changed, domain)
		}
	}
	// Domains present before but absent now cannot happen (versions only
	// grow), so the current map is the full candidate set.
	sort.Strings(changed)
	return changed
}

// EventsSinceSeq returns events with seq > after, most-recent-first,
// truncated to limit (limit <= 0 means no cap).
func (j *Journal) EventsSinceSeq(after int64, limit int) []*ChangeEvent {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*ChangeEvent
	for i := len(j.events) - 1; i >= 0; i-- {
		if j.events[i].Seq <= after {
			break
		}
		out = append(out, j.events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// RecentEvents returns the most recent events, newest first.
func (j *Journal) RecentEvents(limit int) []*ChangeEvent {
	return j.EventsSinceSeq(0, limit)
}

// Seq returns the current global sequence number.
func (j *Journal) Seq() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Versions returns a copy of the current domain version vector.
func (j *Journal) Versions() map[string]int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]int64, len(j.versions))
	for k, v := range j.versions {
		out[k] = v
	}
	return out
}

// GetSnapshot returns a read-only view of the journal state.
func (j *Journal) GetSnapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	versions := make(map[string]int64, len(j.versions))
	for k, v := range j.versions {
		versions[k] = v
	}
	return Snapshot{
		Versions:    versions,
		Seq:         j.seq,
		EventCount:  len(j.events),
		LastUpdated: j.updatedAt,
	}
}
