// Package api is the HTTP front-end: job submission and inspection, queue
// stats, Prometheus metrics and an SSE feed of job lifecycle events.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/promptq/internal/auth"
	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/log"
	"github.com/mattjoyce/promptq/internal/queue"
)

// JobService defines the job operations the API exposes.
type JobService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*queue.Job, error)
	Get(ctx context.Context, id int64) (*queue.Job, error)
	List(ctx context.Context, f queue.ListFilter) ([]*queue.Job, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	Retry(ctx context.Context, id int64) (*queue.Job, error)
	ClearFinished(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// WorkerStatus reports whether the worker loop is running.
type WorkerStatus interface {
	IsRunning() bool
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token is the single admin bearer token (scope "*").
	Token string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// EnqueueRate bounds POST /jobs; 0 disables the limit.
	EnqueueRate  float64
	EnqueueBurst int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	jobs      JobService
	worker    WorkerStatus
	events    *events.Hub
	metrics   http.Handler
	auth      *auth.Authenticator
	limiter   *rate.Limiter
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	keepAlive time.Duration
}

type Option func(*Server)

// WithEvents serves GET /events from hub.
func WithEvents(hub *events.Hub) Option {
	return func(s *Server) { s.events = hub }
}

// WithMetrics serves GET /metrics with h.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithWorker(w WorkerStatus) Option {
	return func(s *Server) { s.worker = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a new API server instance
func New(config Config, jobs JobService, opts ...Option) *Server {
	s := &Server{
		config:    config,
		jobs:      jobs,
		auth:      auth.NewAuthenticator(config.Token, config.Tokens),
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
		keepAlive: 15 * time.Second,
	}
	if config.EnqueueRate > 0 {
		burst := config.EnqueueBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.EnqueueRate), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown failed")
		}
		return nil
	case err := <-errCh:
		return errors.Wrapf(err, "listen on %s", s.config.Listen)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeJobsRW), s.rateLimit).Post("/jobs", s.handleEnqueue)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/jobs", s.handleListJobs)
		r.With(s.requireScopes(auth.ScopeJobsRW)).Delete("/jobs/finished", s.handleClearFinished)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/jobs/{id}", s.handleGetJob)
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/jobs/{id}/cancel", s.handleCancel)
		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/jobs/{id}/retry", s.handleRetry)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/stats", s.handleStats)
		if s.events != nil {
			r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		}
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := s.auth.Authenticate(token)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "enqueue rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
