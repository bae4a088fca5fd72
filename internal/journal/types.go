// Package journal provides the append-only, versioned change journal.
// Domain producers record "something changed" facts here; the heartbeat
// and evaluators read version diffs and recent events to decide whether
// autonomous work is worth launching.
package journal

import (
	"encoding/json"
	"time"
)

// DomainRuntime is the reserved domain that receives dispatcher
// lifecycle records. Producers should not emit into it directly.
const DomainRuntime = "runtime"

// ChangeEvent is a single immutable entry in the journal.
type ChangeEvent struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Domain    string    `json:"domain"`
	Type      string    `json:"type"`
	Version   int64     `json:"version"`
	Summary   string    `json:"summary,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// EmitOptions tunes a single Emit call.
type EmitOptions struct {
	Source       string
	StorePayload bool // Keep the raw payload on the event, not just its summary
}

// Snapshot is a read-only view of the journal's current state.
type Snapshot struct {
	Versions    map[string]int64 `json:"versions"`
	Seq         int64            `json:"seq"`
	EventCount  int              `json:"event_count"`
	LastUpdated time.Time        `json:"last_updated"`
}

// Observer receives change events. Notification order is FIFO per
// emitting goroutine; there is no cross-process delivery guarantee.
type Observer interface {
	HandleChange(ev *ChangeEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev *ChangeEvent)

// HandleChange calls the wrapped function.
func (f ObserverFunc) HandleChange(ev *ChangeEvent) { f(ev) }

// Store persists journal state. Implementations must keep the event
// append, version bump, and sequence advance in one transaction.
type Store interface {
	Append(ev *ChangeEvent) error
	Trim(minSeq int64) error
	Load(maxEvents int) (*PersistedState, error)
}

// PersistedState is the journal state hydrated from a Store at startup.
type PersistedState struct {
	Versions map[string]int64
	Seq      int64
	Events   []*ChangeEvent // Oldest first
}

// summarize renders a size-capped structural summary of a payload.
// The raw payload is not retained unless EmitOptions.StorePayload is set.
func summarize(payload any, cap int) string {
	if payload == nil {
		return ""
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "<unserializable>"
	}
	s := string(b)
	if cap > 0 && len(s) > cap {
		return s[:cap] + "…"
	}
	return s
}
