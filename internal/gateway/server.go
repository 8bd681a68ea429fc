// Package gateway exposes sessions over HTTP polling and WebSocket
// streaming transports.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/finagent/internal/config"
	"github.com/haasonsaas/finagent/internal/observability"
	"github.com/haasonsaas/finagent/internal/sessions"
)

// Server hosts the HTTP and WebSocket transports in front of a session
// registry.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	registry *sessions.Registry
	store    sessions.Store

	httpServer   *http.Server
	httpListener net.Listener
	cron         *cron.Cron
}

// Options configures a Server.
type Options struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Registry *sessions.Registry
	Store    sessions.Store
}

// NewServer creates a gateway server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
		registry: opts.Registry,
		store:    opts.Store,
	}
}

// Handler builds the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /chat", s.instrument("/chat", s.handleChat))
	mux.HandleFunc("DELETE /session/{id}", s.instrument("/session/{id}", s.handleEndSession))
	mux.HandleFunc("GET /sessions", s.instrument("/sessions", s.handleListSessions))
	mux.HandleFunc("GET /session/{id}/history", s.instrument("/session/{id}/history", s.handleHistory))

	mux.Handle("/ws/chat", s.newWSHandler())

	return mux
}

// Start begins serving and schedules idle-session eviction. It returns once
// the listener is bound; serving continues on a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	s.startEviction()

	s.logger.Info("gateway listening", "addr", addr)
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Shutdown stops the eviction schedule, drains the HTTP server, and
// terminates all live sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
		s.httpServer = nil
		s.httpListener = nil
	}

	s.registry.Shutdown()
	return err
}

// startEviction schedules a periodic idle-session sweep when idle_ttl is
// configured.
func (s *Server) startEviction() {
	ttl := s.config.Session.IdleTTL
	if ttl <= 0 {
		return
	}

	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if n := s.registry.EvictIdle(ttl); n > 0 {
			s.logger.Info("evicted idle sessions", "count", n, "ttl", ttl)
		}
	})
	if err != nil {
		s.logger.Warn("idle eviction schedule failed", "error", err)
		s.cron = nil
		return
	}
	s.cron.Start()
	s.logger.Debug("idle eviction scheduled", "interval", interval, "ttl", ttl)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// instrument records request duration per route when metrics are enabled.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, route, strconv.Itoa(rec.status),
		).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
