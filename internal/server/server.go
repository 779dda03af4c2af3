// Package server provides the HTTP server that wires all services together.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/transitlk/tracking/internal/bus"
	"github.com/transitlk/tracking/internal/config"
	"github.com/transitlk/tracking/internal/dispatch"
	"github.com/transitlk/tracking/internal/metrics"
	"github.com/transitlk/tracking/internal/notify"
	"github.com/transitlk/tracking/internal/pkg/logger"
	"github.com/transitlk/tracking/internal/pkg/middleware"
	"github.com/transitlk/tracking/internal/registry"
	"github.com/transitlk/tracking/internal/schedules"
	"github.com/transitlk/tracking/internal/tracking"
	"github.com/transitlk/tracking/internal/ws"
)

// Server wires the registry, websocket hub, dispatcher, and tracking loop
// behind one HTTP listener.
type Server struct {
	cfg        *config.Config
	version    string
	log        *logger.Logger
	httpServer *http.Server

	bus        bus.Bus
	reg        *registry.Registry
	hub        *ws.Hub
	dispatcher *dispatch.Dispatcher
	coord      *tracking.Coordinator
	met        *metrics.Metrics

	startedAt time.Time
	mu        sync.RWMutex
	started   bool
}

// New creates a server with all dependencies wired.
func New(cfg *config.Config, version string, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg:     cfg,
		version: version,
		log:     log,
		met:     metrics.New(),
	}

	b, err := bus.NewBus(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("creating event bus: %w", err)
	}
	s.bus = b

	markers, err := notify.NewMarkerStore(cfg.Notify, cfg.Tracking.NotificationCooldown)
	if err != nil {
		return nil, fmt.Errorf("creating marker store: %w", err)
	}

	source, err := schedules.NewSource(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("creating schedule source: %w", err)
	}

	s.reg = registry.New(log)

	corsOrigins := splitOrigins(cfg.Security.CORSOrigins)

	s.coord = tracking.NewCoordinator(
		cfg.Tracking, s.reg, source, nil,
		notify.NewBusEmitter(s.bus), markers, s.bus, s.met, log,
	)

	handlers := ws.NewHandlers(s.reg, s.coord, s.met, log)
	s.hub = ws.NewHub(s.reg, handlers, corsOrigins, s.met, log)

	s.dispatcher = dispatch.New(s.reg, s.hub, s.met, log)
	s.coord.SetBroadcaster(s.dispatcher)

	return s, nil
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Start runs the tracking loop and the HTTP listener. It blocks until the
// listener exits.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.dispatcher.AttachBus(ctx, s.bus); err != nil {
		return fmt.Errorf("attaching dispatcher to bus: %w", err)
	}

	s.coord.Start(ctx)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.log.Info("starting HTTP server", "addr", s.cfg.Address(), "version", s.version)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server: listener first so no new connections
// arrive, then the tracking loop, then the bus so in-flight notification
// events drain.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Error("HTTP shutdown error")
		}
	}

	s.coord.Stop()

	if err := s.bus.Close(); err != nil {
		s.log.WithError(err).Error("bus close error")
	}

	s.started = false
	s.log.Info("server stopped")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/ws", s.hub)
	mux.Handle("/metrics", s.met.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/internal/announce", s.handleAnnounce)
	mux.HandleFunc("/internal/route-disruption", s.handleRouteDisruption)

	var handler http.Handler = mux
	handler = middleware.CORS(splitOrigins(s.cfg.Security.CORSOrigins))(handler)

	if s.cfg.Security.RateLimit > 0 {
		rl := middleware.NewRateLimiter(s.cfg.Security.RateLimit)
		handler = rl.Middleware(handler)
	}

	return wrapWithLogging(handler, s.log)
}

// wrapWithLogging adds request logging around the handler chain.
func wrapWithLogging(handler http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(wrapped, r)

		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade keeps working behind the
// logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Health reports whether the server is started.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
