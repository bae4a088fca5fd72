package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_DepthKeepsActive(t *testing.T) {
	w := newPriorityWindow(nil)
	assert.False(t, w.IsActive())

	w.Enter()
	assert.True(t, w.IsActive())
	w.Enter()
	assert.Equal(t, 2, w.Depth())

	// Still active while any nested section remains open.
	w.Exit(0)
	assert.True(t, w.IsActive())
	w.Exit(0)
	assert.Equal(t, 0, w.Depth())
	assert.False(t, w.IsActive())
}

func TestWindow_TrailingHold(t *testing.T) {
	w := newPriorityWindow(nil)

	w.Extend(40 * time.Millisecond)
	assert.True(t, w.IsActive())

	require.Eventually(t, func() bool { return !w.IsActive() },
		2*time.Second, 5*time.Millisecond)
}

func TestWindow_ShorterExtendDoesNotShrink(t *testing.T) {
	w := newPriorityWindow(nil)

	w.Extend(time.Minute)
	deadline := w.HoldUntil()

	w.Extend(time.Millisecond)
	assert.Equal(t, deadline, w.HoldUntil())
	assert.True(t, w.IsActive())
}

func TestWindow_LapseCallbackFiresOnce(t *testing.T) {
	var lapses atomic.Int32
	w := newPriorityWindow(func() { lapses.Add(1) })

	// Re-extension replaces the pending timer instead of stacking one
	// callback per extend.
	w.Extend(20 * time.Millisecond)
	w.Extend(40 * time.Millisecond)

	require.Eventually(t, func() bool { return lapses.Load() == 1 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), lapses.Load())
}

func TestWindow_ExitSchedulesLapse(t *testing.T) {
	var lapses atomic.Int32
	w := newPriorityWindow(func() { lapses.Add(1) })

	w.Enter()
	w.Exit(20 * time.Millisecond)

	require.Eventually(t, func() bool { return lapses.Load() >= 1 },
		2*time.Second, 5*time.Millisecond)
	assert.False(t, w.IsActive())
}
