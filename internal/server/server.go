package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/internal/blob"
	"github.com/jackzampolin/intake/internal/config"
	"github.com/jackzampolin/intake/internal/evaluator"
	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/home"
	"github.com/jackzampolin/intake/internal/ingest"
	"github.com/jackzampolin/intake/internal/llmcall"
	"github.com/jackzampolin/intake/internal/materialize"
	"github.com/jackzampolin/intake/internal/pipeline"
	"github.com/jackzampolin/intake/internal/progress"
	"github.com/jackzampolin/intake/internal/runner"
	"github.com/jackzampolin/intake/internal/server/endpoints"
	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/svcctx"
)

// Server is the main intake HTTP server. It owns the SQLite store, the
// gateway registry, and the job runner, and shuts them down in order.
type Server struct {
	home      *home.Dir
	store     *store.Store
	blobs     *blob.Store
	recorder  *llmcall.Recorder
	registry  *gateway.Registry
	runner    *runner.Runner
	ingestor  *ingest.Ingestor
	publisher *progress.Publisher
	configMgr *config.Manager
	logger    *slog.Logger

	httpServer *http.Server

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the intake home directory
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// SwaggerSpecPath overrides the OpenAPI spec location
	SwaggerSpecPath string
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		var err error
		cfg.Home, err = home.New("")
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
	}

	registry := gateway.NewRegistry()
	registry.SetLogger(cfg.Logger)

	s := &Server{
		home:      cfg.Home,
		registry:  registry,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: cfg.SwaggerSpecPath}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: s.withServices(mux),
		// No write timeout: the subscribe endpoint streams for the life of
		// the job.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start initializes the store and pipeline services, then serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("preparing home directory: %w", err)
	}

	st, err := store.Open(s.home.DatabasePath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("opening store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		s.setNotRunning()
		return fmt.Errorf("migrating store: %w", err)
	}
	s.store = st
	s.logger.Info("store ready", "path", s.home.DatabasePath())

	blobs, err := blob.NewStore(s.home.DataPath())
	if err != nil {
		_ = st.Close()
		s.setNotRunning()
		return fmt.Errorf("opening blob store: %w", err)
	}
	s.blobs = blobs

	// Record every gateway call for audit before any client is built.
	s.recorder = llmcall.NewRecorder(st, s.logger)
	s.registry.SetRecorder(s.recorder)

	cfg := config.DefaultConfig()
	if s.configMgr != nil {
		cfg = s.configMgr.Get()
		s.configMgr.OnChange(func(c *config.Config) {
			s.registry.Reload(c.ToGatewayRegistryConfig())
			s.logger.Info("gateway registry reloaded from config")
		})
	}
	s.registry.Reload(cfg.ToGatewayRegistryConfig())

	gate := evaluator.NewGate(s.registry.DefaultClient(), evaluator.Thresholds{
		ClassificationConfidence: cfg.Pipeline.ClassificationConfidence,
		MaxHallucinationRate:     cfg.Pipeline.MaxHallucinationRate,
		MinCoverage:              cfg.Pipeline.MinCoverage,
		MinStageAlignment:        cfg.Pipeline.MinStageAlignment,
		ReviewMargin:             cfg.Pipeline.ReviewMargin,
	}, s.logger)

	mat := materialize.New(st, cfg.Pipeline.ApproveThreshold, s.logger)
	orch := pipeline.New(st, blobs, s.registry.DefaultClient(), gate, mat, s.logger)
	s.runner = runner.New(orch, st, cfg.Defaults.MaxJobs, s.logger)
	s.publisher = progress.NewPublisher(st, s.logger)
	s.ingestor = ingest.New(blobs, st, s.runner, cfg.Ingest.MaxUploadBytes, s.logger)

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Store:     st,
		Blobs:     blobs,
		Registry:  s.registry,
		Runner:    s.runner,
		Ingestor:  s.ingestor,
		Publisher: s.publisher,
		ConfigMgr: s.configMgr,
		Logger:    s.logger,
		Home:      s.home,
	}

	// Pick up jobs a previous process left queued or processing.
	if err := s.runner.Resume(ctx); err != nil {
		s.logger.Error("resuming interrupted jobs", "error", err)
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown drains in-flight jobs, then closes the recorder and store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.runner != nil {
		if err := s.runner.Wait(shutdownCtx); err != nil {
			s.logger.Warn("jobs still running at shutdown deadline", "error", err)
		}
	}

	if s.recorder != nil {
		s.recorder.Close()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the job store.
// Returns nil if the server hasn't started yet.
func (s *Server) Store() *store.Store {
	return s.store
}

// Runner returns the job runner.
// Returns nil if the server hasn't started yet.
func (s *Server) Runner() *runner.Runner {
	return s.runner
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the gateway registry.
func (s *Server) Registry() *gateway.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or runner aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.runner == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
