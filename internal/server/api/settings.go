package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/beabled/internal/config"
	"github.com/ayusman/beabled/internal/store"
)

// Configurator holds the live configuration. *app.App implements it.
type Configurator interface {
	Config() config.Config
	Configure(values map[string]string) (config.Config, error)
}

// SettingsHandler serves /api/settings. Accepted changes are persisted so
// they survive a restart and apply from the next session on.
type SettingsHandler struct {
	conf  Configurator
	store *store.Store
}

// NewSettingsHandler creates a SettingsHandler. The store may be nil, in which
// case changes only last for the process lifetime.
func NewSettingsHandler(conf Configurator, s *store.Store) *SettingsHandler {
	return &SettingsHandler{conf: conf, store: s}
}

type settingsResponse struct {
	Settings  map[string]string `json:"settings"`
	Overrides map[string]string `json:"overrides"`
	Keys      []string          `json:"keys"`
}

// ServeHTTP handles GET and PUT.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) response(cfg config.Config) (settingsResponse, error) {
	resp := settingsResponse{
		Settings:  cfg.Settings(),
		Overrides: map[string]string{},
		Keys:      config.Keys(),
	}
	if h.store != nil {
		overrides, err := h.store.Settings().All()
		if err != nil {
			return resp, err
		}
		resp.Overrides = overrides
	}
	return resp, nil
}

func (h *SettingsHandler) get(w http.ResponseWriter) {
	resp, err := h.response(h.conf.Config())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, "No settings given")
		return
	}

	cfg, err := h.conf.Configure(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.store != nil {
		if err := h.store.Settings().SetAll(values); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
	}

	resp, err := h.response(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
