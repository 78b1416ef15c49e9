package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/session"
)

type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// createSessionResponse also reports the stored card version so a client
// resuming a session id knows whether a card already exists.
type createSessionResponse struct {
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id,omitempty"`
	Status          session.Status `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	LastActivityAt  time.Time      `json:"last_activity_at"`
	InactivityTTLMS int64          `json:"inactivity_ttl_ms"`
	CardVersion     int64          `json:"card_version"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var sess *session.Session
	if id := strings.TrimSpace(req.SessionID); id != "" {
		sess = s.sessions.Ensure(id)
	} else {
		sess = s.sessions.Create(strings.TrimSpace(req.UserID))
	}
	s.metrics.ObserveSessionEvent("created")
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())

	resp := createSessionResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.App.SessionInactivityTimeout.Milliseconds(),
	}
	if state, err := s.orchestrator.State(r.Context(), sess.ID); err != nil {
		s.logger.Warn("load session state failed", zap.String("session_id", sess.ID), zap.Error(err))
	} else if state.Artifact != nil {
		resp.CardVersion = state.Version
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	sess, err := s.sessions.End(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.metrics.ObserveSessionEvent("ended")
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
	})
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	turnID, err := s.orchestrator.Cancel(sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	case errors.Is(err, session.ErrNoActiveTurn):
		respondError(w, http.StatusConflict, "no_active_turn", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sessionID,
		"turn_id":    turnID,
		"status":     "cancel_requested",
	})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	state, err := s.orchestrator.State(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "state_unavailable", err.Error())
		return
	}
	if state.Artifact == nil {
		respondError(w, http.StatusNotFound, "no_artifact", "session has no card yet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"version":     state.Version,
		"artifact":    state.Artifact,
		"preferences": state.Preferences,
		"words":       state.Words,
	})
}
