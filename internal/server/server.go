// Package server provides the HTTP server for the BeAbled caption service.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/server/api"
	"github.com/ayusman/beabled/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	StaticDir string
	// App runs sessions. Without it only health, transcripts and static
	// files are served.
	App   *app.App
	Store *store.Store
	// Hub and Stream are registered as session renderers by the caller.
	Hub    *CaptionHub
	Stream *StreamHandler
	// BaseContext parents sessions started over HTTP.
	BaseContext context.Context
	Logger      *slog.Logger
}

// Server represents the HTTP server for the BeAbled application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseContext == nil {
		config.BaseContext = context.Background()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.App != nil {
		s.mux.Handle("/api/session", api.NewSessionHandler(s.config.BaseContext, s.config.App))
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.App, s.config.Store))
	}

	if s.config.Store != nil {
		transcripts := api.NewTranscriptHandler(s.config.Store)
		s.mux.Handle("/api/sessions", transcripts)
		s.mux.Handle("/api/sessions/", transcripts)
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/captions", s.config.Hub)
	}
	if s.config.Stream != nil {
		s.mux.Handle("/api/stream", s.config.Stream)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.App != nil {
		response["session_active"] = s.config.App.Active() != nil
		response["enabled"] = s.config.App.IsEnabled()
	}
	if s.config.Hub != nil {
		response["caption_clients"] = s.config.Hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. Streaming clients are disconnected first so shutdown does not
// wait on them.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.config.Logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if s.config.Stream != nil {
		s.config.Stream.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return err
	}
	return nil
}
