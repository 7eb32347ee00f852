package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/nodeboot/pkg/app"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/metrics"
)

// Server exposes an Application over HTTP
type Server struct {
	app *app.Application
	mux *http.ServeMux

	mu     sync.Mutex
	server *http.Server
}

// StatusResponse is the /api/status payload
type StatusResponse struct {
	State          string    `json:"state"`
	Role           string    `json:"role,omitempty"`
	CloudType      string    `json:"cloud_type"`
	PDSource       string    `json:"pd_source"`
	UseObjectStore bool      `json:"use_object_store"`
	UseVolumes     bool      `json:"use_volumes"`
	MonitorTicks   uint64    `json:"monitor_ticks"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// LogsResponse is the /api/logs payload
type LogsResponse struct {
	Lines    []string `json:"lines"`
	Capacity int      `json:"capacity"`
	Evicted  uint64   `json:"evicted"`
}

// NewServer creates a server for a
func NewServer(a *app.Application) *Server {
	mux := http.NewServeMux()
	s := &Server{app: a, mux: mux}

	// Register endpoints
	mux.Handle("/health", getOnly(metrics.HealthHandler()))
	mux.Handle("/ready", getOnly(metrics.ReadyHandler()))
	mux.Handle("/live", getOnly(metrics.LivenessHandler()))
	mux.Handle("/metrics", getOnly(metrics.Handler()))
	mux.Handle("/api/status", getOnly(http.HandlerFunc(s.statusHandler)))
	mux.Handle("/api/logs", getOnly(http.HandlerFunc(s.logsHandler)))
	mux.Handle("/api/messages", getOnly(http.HandlerFunc(s.messagesHandler)))

	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:          s.app.State().String(),
		CloudType:      s.app.Cloud.Type(),
		PDSource:       string(s.app.PDSource),
		UseObjectStore: s.app.UseObjectStore,
		UseVolumes:     s.app.UseVolumes,
		Timestamp:      time.Now(),
	}
	if mgr := s.app.Manager(); mgr != nil {
		resp.Role = mgr.Role().String()
		resp.MonitorTicks = mgr.ConsoleMonitor().Ticks()
	}
	if err := s.app.DispatchErr(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LogsResponse{
		Lines:    s.app.Sink.Snapshot(),
		Capacity: s.app.Sink.Cap(),
		Evicted:  s.app.Sink.Evicted(),
	})
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Messages.List())
}

func getOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
