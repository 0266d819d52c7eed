package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/bert/internal/auth"
	"github.com/mattjoyce/bert/internal/events"
	"github.com/mattjoyce/bert/internal/host"
	"github.com/mattjoyce/bert/internal/journal"
)

// ModuleHost defines the module operations the API exposes.
type ModuleHost interface {
	Snapshot() []host.ModuleInfo
	Module(name string) (host.ModuleInfo, bool)
	Load(path string) (host.ModuleInfo, error)
	Reload(name string) (host.ModuleInfo, error)
	Len() int
}

// EventJournal defines read access to persisted module events.
type EventJournal interface {
	Recent(ctx context.Context, module string, limit int) ([]journal.Entry, error)
}

// EventStream defines live access to registry events.
type EventStream interface {
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Tokens are scoped bearer tokens. Empty leaves the API open.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	host      ModuleHost
	journal   EventJournal
	events    EventStream
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. j and stream may be nil when the
// journal or the event stream is disabled.
func New(config Config, h ModuleHost, j EventJournal, stream EventStream, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		config:    config,
		host:      h,
		journal:   j,
		events:    stream,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
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
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)

		r.Route("/modules", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeModulesRead)).Get("/", s.handleListModules)
			r.With(s.requireScopes(auth.ScopeModulesWrite)).Post("/", s.handleLoadModule)
			r.With(s.requireScopes(auth.ScopeModulesRead)).Get("/{name}", s.handleGetModule)
			r.With(s.requireScopes(auth.ScopeModulesWrite)).Post("/{name}/reload", s.handleReloadModule)
			r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/{name}/events", s.handleModuleEvents)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
