// Package server wires the Hookline HTTP gateway: event ingestion, historical
// queries, the live WebSocket stream and health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookline-dev/hookline/pkg/api"
	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/hub"
	"github.com/hookline-dev/hookline/pkg/observability"
	"github.com/hookline-dev/hookline/pkg/store"
)

// storeTimeout bounds every per-request store operation.
const storeTimeout = 5 * time.Second

// Server is the Hookline gateway.
type Server struct {
	store     store.EventStore
	hub       *hub.Hub
	validator *event.Validator
	obs       *observability.Provider
	limiter   *api.RateLimiter
	logger    *slog.Logger

	httpServer *http.Server
}

// Options configures a Server.
type Options struct {
	Addr           string
	RateLimitRPS   int
	RateLimitBurst int
}

// New builds a gateway over the given store and hub.
func New(st store.EventStore, h *hub.Hub, obs *observability.Provider, opts Options) (*Server, error) {
	validator, err := event.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 100
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 2 * opts.RateLimitRPS
	}

	s := &Server{
		store:     st,
		hub:       h,
		validator: validator,
		obs:       obs,
		limiter:   api.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		logger:    slog.Default().With("component", "server"),
	}

	// WriteTimeout is deliberately unset: it would sever long-lived
	// /stream connections. Slow-client protection comes from
	// ReadHeaderTimeout, IdleTimeout and per-connection write deadlines
	// in the stream handler.
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Routes builds the gateway mux with logging applied to every route and
// rate limiting applied to the write path.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/events", s.limiter.Middleware(http.HandlerFunc(s.handleIngest)))
	mux.HandleFunc("/events/recent", s.handleRecent)
	mux.HandleFunc("/events/sessions", s.handleSessions)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	return s.logging(mux)
}

// ListenAndServe runs the gateway until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The stream handler hijacks the connection; a wrapped writer
		// would break the upgrade.
		if r.URL.Path == "/stream" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
