package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/overseer/internal/journal"
)

// statusResponse aggregates the orchestrator's read-only state.
type statusResponse struct {
	Heartbeat any `json:"heartbeat"`
	Queue     any `json:"queue"`
	Journal   any `json:"journal"`
	Budget    any `json:"budget"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Heartbeat: s.heartbeat.GetStats(),
		Queue:     s.dispatcher.GetStatus(),
		Journal:   s.journal.GetSnapshot(),
		Budget:    s.budget.GetSnapshot(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	after := int64(queryInt(r, "after_seq", 0))

	var events any
	if after > 0 {
		events = s.journal.EventsSinceSeq(after, limit)
	} else {
		events = s.journal.RecentEvents(limit)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"versions": s.journal.Versions(),
		"seq":      s.journal.Seq(),
	})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.budget.GetSnapshot())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": s.dispatcher.GetStatus(),
		"queued": s.dispatcher.QueuedJobs(),
	})
}

// emitChangeRequest is the external producer write path. Any subsystem
// may record a domain change here; this is the sole write into the
// journal from outside the process.
type emitChangeRequest struct {
	Domain       string         `json:"domain"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Source       string         `json:"source,omitempty"`
	StorePayload bool           `json:"store_payload,omitempty"`
}

func (s *Server) handleEmitChange(w http.ResponseWriter, r *http.Request) {
	var req emitChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, err := s.journal.Emit(req.Domain, req.Type, req.Payload, journal.EmitOptions{
		Source:       req.Source,
		StorePayload: req.StorePayload,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.heartbeat.Wake("producer:" + req.Domain)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"seq":     ev.Seq,
		"version": ev.Version,
	})
}

type wakeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	var req wakeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "api"
	}
	s.heartbeat.Wake(req.Reason)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"woken": true})
}

type activityRequest struct {
	Reason string `json:"reason,omitempty"`
	HoldMs int    `json:"hold_ms,omitempty"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "api"
	}
	s.dispatcher.NoteUserActivity(req.Reason, time.Duration(req.HoldMs)*time.Millisecond)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"noted": true})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
