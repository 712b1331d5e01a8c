// Package server exposes the skill over HTTP.
//
// Routes:
//
//   - POST /alexa: one skill request envelope in, one response envelope out
//   - GET /healthz, GET /readyz: see package health
//   - GET /metrics: Prometheus scrape endpoint
//
// Every route runs behind [observe.Middleware].
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/railuk/internal/alexa"
	"github.com/MrWong99/railuk/internal/health"
	"github.com/MrWong99/railuk/internal/observe"
	"github.com/MrWong99/railuk/internal/skill"
)

// HTTP server timeouts.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown when Config leaves it
	// unset.
	DefaultShutdownTimeout = 15 * time.Second

	// maxBodyBytes caps request envelopes. Real envelopes are a few KiB.
	maxBodyBytes = 256 << 10
)

// SkillHandler answers one request envelope. [*skill.Handler] implements it.
type SkillHandler interface {
	Handle(ctx context.Context, env *alexa.RequestEnvelope) (*alexa.ResponseEnvelope, error)
}

// Config holds the server dependencies.
type Config struct {
	// Addr is the TCP listen address, e.g. ":8080".
	Addr string

	Skill  SkillHandler
	Health *health.Handler

	// Metrics is used by the HTTP middleware. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Nil selects promhttp.Handler().
	MetricsHandler http.Handler

	// ShutdownTimeout bounds graceful shutdown. Zero selects
	// [DefaultShutdownTimeout].
	ShutdownTimeout time.Duration
}

// Server is the skill's HTTP front end.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New builds a Server and its routes.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{cfg: cfg}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /alexa", s.handleSkill)
	mux.Handle("GET /metrics", cfg.MetricsHandler)
	cfg.Health.Register(mux)
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on cfg.Addr and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	s.cfg.Health.Drain()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// errorResponse is the JSON body of non-200 replies on /alexa.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var env alexa.RequestEnvelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&env); err != nil {
		log.Warn("malformed request envelope", "err", err)
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request envelope")
		return
	}

	resp, err := s.cfg.Skill.Handle(ctx, &env)
	switch {
	case errors.Is(err, skill.ErrApplicationID):
		writeError(w, http.StatusForbidden, "forbidden", "application ID mismatch")
		return
	case err != nil:
		log.Error("skill handler failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", http.StatusText(http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
