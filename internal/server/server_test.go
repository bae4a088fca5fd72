package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/dispatch"
	"github.com/aristath/overseer/internal/heartbeat"
	"github.com/aristath/overseer/internal/journal"
)

func newTestServer(t *testing.T) (*Server, *journal.Journal) {
	t.Helper()
	j := journal.New(journal.Config{MaxEvents: 100}, nil, zerolog.Nop())
	guard := budget.New(budget.Limits{BackgroundHourlyTokens: 10000}, nil, zerolog.Nop())
	reg := dispatch.NewRegistry()
	d := dispatch.New(dispatch.Config{Registry: reg, Budget: guard, Journal: j, Log: zerolog.Nop()})
	hb := heartbeat.New(heartbeat.Config{Interval: time.Hour, WakeDelay: 10 * time.Millisecond},
		j, d, guard, nil, zerolog.Nop())
	return New(Config{Port: 0, Journal: j, Dispatcher: d, Budget: guard, Heartbeat: hb, Log: zerolog.Nop()}), j
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHandleStatus(t *testing.T) {
	s, j := newTestServer(t)
	_, err := j.Emit("market", "tick", nil, journal.EmitOptions{})
	require.NoError(t, err)

	rec, out := doJSON(t, s, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out, "heartbeat")
	assert.Contains(t, out, "queue")
	assert.Contains(t, out, "journal")
	assert.Contains(t, out, "budget")

	jr := out["journal"].(map[string]any)
	assert.Equal(t, float64(1), jr["seq"])
}

func TestHandleEvents(t *testing.T) {
	s, j := newTestServer(t)
	for i := 0; i < 5; i++ {
		_, err := j.Emit("market", "tick", nil, journal.EmitOptions{})
		require.NoError(t, err)
	}

	rec, out := doJSON(t, s, http.MethodGet, "/api/journal/events?limit=2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	events := out["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, float64(5), events[0].(map[string]any)["seq"])

	_, out = doJSON(t, s, http.MethodGet, "/api/journal/events?after_seq=3", nil)
	events = out["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, float64(4), events[1].(map[string]any)["seq"])
}

func TestHandleVersions(t *testing.T) {
	s, j := newTestServer(t)
	_, err := j.Emit("market", "tick", nil, journal.EmitOptions{})
	require.NoError(t, err)
	_, err = j.Emit("market", "tick", nil, journal.EmitOptions{})
	require.NoError(t, err)

	rec, out := doJSON(t, s, http.MethodGet, "/api/journal/versions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["seq"])
	versions := out["versions"].(map[string]any)
	assert.Equal(t, float64(2), versions["market"])
}

func TestHandleBudget(t *testing.T) {
	s, _ := newTestServer(t)

	rec, out := doJSON(t, s, http.MethodGet, "/api/budget", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	limits := out["limits"].(map[string]any)
	assert.Equal(t, float64(10000), limits["background_hourly_tokens"])
}

func TestHandleQueue(t *testing.T) {
	s, _ := newTestServer(t)

	rec, out := doJSON(t, s, http.MethodGet, "/api/queue", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out, "status")
	assert.Contains(t, out, "queued")
}

func TestHandleEmitChange(t *testing.T) {
	s, j := newTestServer(t)

	rec, out := doJSON(t, s, http.MethodPost, "/api/changes", emitChangeRequest{
		Domain:  "market",
		Type:    "price_update",
		Payload: map[string]any{"symbol": "AAPL"},
		Source:  "feed",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(1), out["seq"])
	assert.Equal(t, float64(1), out["version"])

	events := j.RecentEvents(0)
	require.Len(t, events, 1)
	assert.Equal(t, "price_update", events[0].Type)
	assert.Equal(t, "feed", events[0].Source)
}

func TestHandleEmitChange_Invalid(t *testing.T) {
	s, _ := newTestServer(t)

	// Missing domain is rejected by the journal.
	rec, out := doJSON(t, s, http.MethodPost, "/api/changes", emitChangeRequest{Type: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out, "error")

	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/api/changes", bytes.NewBufferString("{nope"))
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestHandleWake(t *testing.T) {
	s, _ := newTestServer(t)

	rec, out := doJSON(t, s, http.MethodPost, "/api/wake", wakeRequest{Reason: "operator"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, out["woken"])
}

func TestHandleActivity(t *testing.T) {
	s, _ := newTestServer(t)

	rec, out := doJSON(t, s, http.MethodPost, "/api/activity", activityRequest{
		Reason: "typing",
		HoldMs: 50,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, out["noted"])
	assert.True(t, s.dispatcher.PriorityWindowActive())
}
