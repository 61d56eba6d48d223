package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/beabled/internal/store"
)

// TranscriptHandler serves stored sessions and their captions under
// /api/sessions.
type TranscriptHandler struct {
	store *store.Store
}

// NewTranscriptHandler creates a TranscriptHandler with the given store.
func NewTranscriptHandler(s *store.Store) *TranscriptHandler {
	return &TranscriptHandler{store: s}
}

type sessionRecord struct {
	ID                 string `json:"id"`
	StartedAt          string `json:"started_at"`
	EndedAt            string `json:"ended_at,omitempty"`
	Frames             int    `json:"frames"`
	Detections         int    `json:"detections"`
	ClassifierFailures int    `json:"classifier_failures"`
}

type listSessionsResponse struct {
	Sessions []sessionRecord `json:"sessions"`
}

type captionRecord struct {
	Seq        int     `json:"seq"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

type transcriptResponse struct {
	SessionID string          `json:"session_id"`
	Captions  []captionRecord `json:"captions"`
}

func toRecord(s *store.Session) sessionRecord {
	rec := sessionRecord{
		ID:                 s.ID,
		StartedAt:          formatTime(s.StartedAt),
		Frames:             s.Frames,
		Detections:         s.Detections,
		ClassifierFailures: s.ClassifierFailures,
	}
	if s.EndedAt != nil {
		rec.EndedAt = formatTime(*s.EndedAt)
	}
	return rec
}

// ServeHTTP routes:
//
//	GET    /api/sessions[?limit=n]
//	GET    /api/sessions/{id}
//	DELETE /api/sessions/{id}
//	GET    /api/sessions/{id}/captions
func (h *TranscriptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	switch {
	case rest == "captions" && r.Method == http.MethodGet:
		h.captions(w, id)
	case rest == "" && r.Method == http.MethodGet:
		h.get(w, id)
	case rest == "" && r.Method == http.MethodDelete:
		h.delete(w, id)
	case rest == "" || rest == "captions":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (h *TranscriptHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	resp := listSessionsResponse{Sessions: make([]sessionRecord, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toRecord(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TranscriptHandler) get(w http.ResponseWriter, id string) {
	s, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, toRecord(s))
}

func (h *TranscriptHandler) delete(w http.ResponseWriter, id string) {
	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TranscriptHandler) captions(w http.ResponseWriter, id string) {
	if _, err := h.store.Sessions().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	captions, err := h.store.Captions().ListBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list captions")
		return
	}

	resp := transcriptResponse{SessionID: id, Captions: make([]captionRecord, 0, len(captions))}
	for _, c := range captions {
		resp.Captions = append(resp.Captions, captionRecord{
			Seq:        c.Seq,
			Label:      c.Label,
			Confidence: c.Confidence,
			CreatedAt:  formatTime(c.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
