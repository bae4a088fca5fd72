package dispatch

import (
	"sync"
	"time"
)

// priorityWindow is the advisory hold that defers background launches
// around interactive activity. Active while any scoped section is open
// (depth > 0) or a trailing hold deadline has not lapsed.
type priorityWindow struct {
	mu        sync.Mutex
	depth     int
	holdUntil time.Time
	timer     *time.Timer
	onLapse   func() // Fired once when holdUntil passes with depth == 0
}

func newPriorityWindow(onLapse func()) *priorityWindow {
	return &priorityWindow{onLapse: onLapse}
}

// IsActive reports whether background launches should be deferred.
func (w *priorityWindow) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.depth > 0 || time.Now().Before(w.holdUntil)
}

// Enter opens a scoped active section.
func (w *priorityWindow) Enter() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.depth++
}

// Exit closes a scoped section and extends the trailing hold.
func (w *priorityWindow) Exit(hold time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.depth > 0 {
		w.depth--
	}
	w.extendLocked(hold)
}

// Extend pushes the trailing hold deadline to at least now+hold.
func (w *priorityWindow) Extend(hold time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.extendLocked(hold)
}

// extendLocked reschedules the lapse callback exactly at the new
// deadline rather than polling.
func (w *priorityWindow) extendLocked(hold time.Duration) {
	until := time.Now().Add(hold)
	if until.Before(w.holdUntil) {
		return
	}
	w.holdUntil = until

	if w.onLapse == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(hold+time.Millisecond, w.onLapse)
}

// Depth returns the current scoped-section depth.
func (w *priorityWindow) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.depth
}

// HoldUntil returns the current trailing deadline.
func (w *priorityWindow) HoldUntil() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.holdUntil
}
