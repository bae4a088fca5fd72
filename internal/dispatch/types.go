// Package dispatch provides the two-lane priority job dispatcher. User
// work always runs before background work, background work is admitted
// through the budget guard, and preemptible jobs cooperate through a
// checkpoint/yield protocol.
package dispatch

import (
	"time"

	"github.com/aristath/overseer/internal/budget"
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued        State = "queued"
	StateRunning       State = "running"
	StateDone          State = "done"
	StateFailed        State = "failed"
	StatePaused        State = "paused"
	StateSkippedBudget State = "skipped_budget"
)

// Terminal reports whether a state drops the job from the dispatcher.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkippedBudget
}

// Default priorities per class; lower is more urgent.
const (
	DefaultUserPriority       = 1
	DefaultBackgroundPriority = 5
)

// Job is a unit of work owned by the dispatcher once enqueued. The body
// is not a closure: Kind selects a named handler from the registry, and
// Payload carries plain data, so job descriptors survive serialization.
type Job struct {
	ID              string            `json:"id"`
	Kind            string            `json:"kind"`
	Domain          string            `json:"domain,omitempty"`
	Source          string            `json:"source,omitempty"`
	Class           string            `json:"class"`    // budget.ClassUser or budget.ClassBackground
	Priority        int               `json:"priority"` // Lower = more urgent; <=0 means "use class default"
	Preemptible     bool              `json:"preemptible"`
	Checkpointable  bool              `json:"checkpointable"`
	EstimatedTokens int               `json:"estimated_tokens"`
	DedupeKey       string            `json:"dedupe_key,omitempty"`
	Payload         map[string]any    `json:"payload,omitempty"`
	State           State             `json:"state"`
	Attempts        int               `json:"attempts"`
	MaxAttempts     int               `json:"max_attempts,omitempty"`
	ResumeToken     any               `json:"resume_token,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`

	order int64 // Enqueue sequence, FIFO tie-break within a priority
}

// Result is what a handler returns on a non-error exit.
type Result struct {
	Output      string
	Yielded     bool // Job chose to yield at a checkpoint
	ResumeToken any  // Reattached to the re-queued job when yielded
	Usage       budget.Usage
}

// EnqueueResult reports the outcome of an Enqueue call.
type EnqueueResult struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	JobID     string `json:"job_id,omitempty"`
}

// JobView is a read-only snapshot of a queued or running job.
type JobView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Domain    string    `json:"domain,omitempty"`
	Class     string    `json:"class"`
	Priority  int       `json:"priority"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

func viewOf(j *Job) JobView {
	return JobView{
		ID:        j.ID,
		Kind:      j.Kind,
		Domain:    j.Domain,
		Class:     j.Class,
		Priority:  j.Priority,
		State:     j.State,
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
	}
}
