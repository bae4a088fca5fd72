package dispatch

import (
	"github.com/rs/zerolog"
)

// RunContext is passed to a job handler. It exposes the cooperative
// preemption protocol and the job's own descriptor.
type RunContext struct {
	job    *Job
	window *priorityWindow
	log    zerolog.Logger
}

// Job returns the descriptor of the running job. Handlers read Payload
// and ResumeToken from it; they must not mutate scheduling fields.
func (rc *RunContext) Job() *Job {
	return rc.job
}

// ShouldYield reports whether the job should hand control back. True
// only for preemptible jobs while a user priority window is active.
func (rc *RunContext) ShouldYield() bool {
	return rc.job.Preemptible && rc.window.IsActive()
}

// Checkpoint is a self-chosen suspension point. It records the label
// for diagnostics and returns whether the caller should yield there.
func (rc *RunContext) Checkpoint(label string) bool {
	yield := rc.ShouldYield()
	rc.log.Debug().
		Str("job_id", rc.job.ID).
		Str("checkpoint", label).
		Bool("yield", yield).
		Msg("Job checkpoint")
	return yield
}

// Logger returns a logger scoped to the running job.
func (rc *RunContext) Logger() zerolog.Logger {
	return rc.log
}
