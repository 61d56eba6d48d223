package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/classifier"
)

// Controller starts and stops caption sessions. *app.App implements it.
type Controller interface {
	Start(ctx context.Context) (*app.Session, error)
	Stop() (app.Stats, error)
	Active() *app.Session
	SetEnabled(enabled bool)
	IsEnabled() bool
}

// SessionHandler serves /api/session.
type SessionHandler struct {
	ctrl Controller
	// base outlives requests so a session keeps running after POST returns.
	base context.Context
}

// NewSessionHandler creates a SessionHandler. Sessions it starts are
// cancelled with base.
func NewSessionHandler(base context.Context, ctrl Controller) *SessionHandler {
	if base == nil {
		base = context.Background()
	}
	return &SessionHandler{ctrl: ctrl, base: base}
}

type sessionResponse struct {
	Active  bool       `json:"active"`
	Enabled bool       `json:"enabled"`
	ID      string     `json:"id,omitempty"`
	Phase   string     `json:"phase,omitempty"`
	Caption string     `json:"caption"`
	History []string   `json:"history"`
	Stats   *app.Stats `json:"stats,omitempty"`
}

type patchSessionRequest struct {
	Enabled *bool `json:"enabled"`
}

// ServeHTTP routes GET, POST, PATCH and DELETE on /api/session.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.status(h.ctrl.Active()))
	case http.MethodPost:
		h.start(w)
	case http.MethodPatch:
		h.patch(w, r)
	case http.MethodDelete:
		h.stop(w)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) status(s *app.Session) sessionResponse {
	resp := sessionResponse{
		Enabled: h.ctrl.IsEnabled(),
		History: []string{},
	}
	if s == nil {
		return resp
	}

	state := s.State()
	stats := s.Stats()
	resp.Active = !s.Ended()
	resp.ID = s.ID()
	resp.Phase = string(state.Phase)
	resp.Caption = state.Current
	resp.History = state.History()
	resp.Stats = &stats
	return resp
}

func (h *SessionHandler) start(w http.ResponseWriter) {
	s, err := h.ctrl.Start(h.base)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionActive):
			writeError(w, http.StatusConflict, "Session already active")
		case errors.Is(err, classifier.ErrModelLoad):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, h.status(s))
}

func (h *SessionHandler) patch(w http.ResponseWriter, r *http.Request) {
	var req patchSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	h.ctrl.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, h.status(h.ctrl.Active()))
}

func (h *SessionHandler) stop(w http.ResponseWriter) {
	s := h.ctrl.Active()
	stats, err := h.ctrl.Stop()
	if err != nil {
		if errors.Is(err, app.ErrNoSession) {
			writeError(w, http.StatusNotFound, "No active session")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := sessionResponse{
		Enabled: h.ctrl.IsEnabled(),
		History: []string{},
		Stats:   &stats,
	}
	if s != nil {
		resp.ID = s.ID()
	}
	writeJSON(w, http.StatusOK, resp)
}
