package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/auth"
	"github.com/AdamLaszab/zadanie-skuska/internal/capability"
	"github.com/AdamLaszab/zadanie-skuska/internal/events"
	"github.com/AdamLaszab/zadanie-skuska/internal/metrics"
	"github.com/AdamLaszab/zadanie-skuska/internal/pipeline"
)

// BatchRunner executes one batch synchronously.
type BatchRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// Redeemer exchanges a download token for the artifact bytes.
type Redeemer interface {
	Redeem(ctx context.Context, token, session string) (*capability.Download, error)
}

// AuditTrail is the admin view of the audit log.
type AuditTrail interface {
	List(ctx context.Context, page, perPage int) (audit.Page, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Purge(ctx context.Context) (int64, error)
}

// Config holds API server configuration
type Config struct {
	Listen            string
	InteractiveHeader string
	// MaxConcurrentBatches bounds pipeline runs; excess requests get 503.
	MaxConcurrentBatches int
	// MaxUploadBytes applies to each uploaded file.
	MaxUploadBytes int64
	Tokens         []auth.TokenConfig
	JWT            auth.JWTConfig
	// SessionSecret signs browser session cookies. Empty means a random
	// per-process key.
	SessionSecret string
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Runner    BatchRunner
	Downloads Redeemer
	Trail     AuditTrail
	Audit     pipeline.Recorder
	Events    *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	auth      *auth.Authenticator
	sessions  *auth.Sessions
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	batchSem  chan struct{}
	openapi   []byte
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxConcurrentBatches <= 0 {
		config.MaxConcurrentBatches = 8
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 50 << 20
	}
	if config.InteractiveHeader == "" {
		config.InteractiveHeader = audit.DefaultInteractiveHeader
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(events.DefaultBacklog)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:    config,
		deps:      deps,
		auth:      auth.NewAuthenticator(config.Tokens, config.JWT),
		sessions:  auth.NewSessions(config.SessionSecret),
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
		batchSem:  make(chan struct{}, config.MaxConcurrentBatches),
	}

	doc, err := openAPIJSON(context.Background(), config)
	if err != nil {
		s.logger.Error("openapi document invalid", "error", err)
	}
	s.openapi = doc
	return s
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Batches run inside the request and uploads can be large.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	if !s.auth.Enabled() {
		s.logger.Warn("API authentication disabled; no tokens or JWT secret configured")
	}
	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.tracingMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopePDF)).Post("/pdf/{operation}", s.handleBatch)
		r.With(s.requireScopes(auth.ScopePDF)).Get("/download/{token}", s.handleDownload)
		r.With(s.requireScopes(auth.ScopeLogsRO)).Get("/logs", s.handleListLogs)
		r.With(s.requireScopes(auth.ScopeLogsRO)).Get("/logs/export", s.handleExportLogs)
		r.With(s.requireScopes(auth.ScopeLogsRW)).Delete("/logs", s.handlePurgeLogs)
		r.With(s.requireScopes(auth.ScopeLogsRO, auth.ScopePDF)).Get("/events", s.handleEvents)
	})

	return r
}
