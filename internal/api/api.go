// Package api exposes a read-only HTTP view of a cowfork run: health,
// Prometheus metrics, the scenario report, kernel state, and recent events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/kahiteam/cowfork/internal/events"
)

// KernelInfo provides kernel state to the API layer. *kernel.Kernel
// implements it.
type KernelInfo interface {
	FreePages() int
	EnvCount() int
}

// Deps holds what the server reports on. Nil fields disable their
// endpoints.
type Deps struct {
	Metrics http.Handler
	Kernel  KernelInfo
	Report  func() any
	Events  *events.Log
	Version map[string]string
}

// Server is the HTTP API server for cowfork.
type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
	ln     net.Listener
	server *http.Server
}

// NewServer creates an API server with the given dependencies.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{deps: deps, logger: logger}
	s.mux = s.buildMux()
	return s
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	mux.HandleFunc("GET /api/v1/report", s.handleReport)
	mux.HandleFunc("GET /api/v1/kernel", s.handleKernel)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/version", s.handleVersion)

	return mux
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// StartTCP begins serving on a TCP address.
func (s *Server) StartTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot bind %s: %w", addr, err)
	}

	s.ln = ln
	s.server = &http.Server{Handler: s.mux}

	// Warn about binding to all interfaces.
	host, _, _ := net.SplitHostPort(addr)
	if host == "0.0.0.0" || host == "" || host == "::" {
		s.logger.Warn("HTTP server bound to all interfaces", "addr", addr)
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server started", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Addr returns the address of the listener, or empty if not started.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return ""
}

// --- HTTP Handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Report == nil {
		writeError(w, http.StatusNotFound, "no report", "NOT_FOUND")
		return
	}
	rep := s.deps.Report()
	if rep == nil {
		writeError(w, http.StatusServiceUnavailable, "run not finished", "NOT_READY")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleKernel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Kernel == nil {
		writeError(w, http.StatusNotFound, "no kernel", "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"free_pages": s.deps.Kernel.FreePages(),
		"envs":       s.deps.Kernel.EnvCount(),
	})
}

type eventJSON struct {
	Type string            `json:"type"`
	Time string            `json:"time"`
	Data map[string]string `json:"data,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusNotFound, "event log disabled", "NOT_FOUND")
		return
	}
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid n %q", v), "BAD_REQUEST")
			return
		}
		n = parsed
	}
	recent := s.deps.Events.Recent(n)
	out := make([]eventJSON, 0, len(recent))
	for _, e := range recent {
		out = append(out, eventJSON{
			Type: string(e.Type),
			Time: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			Data: e.Data,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Version)
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
