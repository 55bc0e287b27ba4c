package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"atomdeploy/internal/deployment"
	"atomdeploy/internal/history"
	"atomdeploy/internal/metrics"
	"atomdeploy/internal/pipeline"
	"atomdeploy/internal/target"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// Rate limiting - requests per minute per client IP
	GlobalRateLimit  = 60
	WebhookRateLimit = 6
)

// RunFunc deploys version to t and returns the finished run.
type RunFunc func(ctx context.Context, t *target.Target, version deployment.VersionRef) *deployment.RunResult

// Server receives push webhooks and reports run status over HTTP.
type Server struct {
	Registry    *target.Registry
	History     *history.History // nil disables status history
	LockManager *deployment.LockManager
	Logger      *slog.Logger
	TestMode    bool // disables rate limiting
	Run         RunFunc

	runCtx    context.Context
	cancelRun context.CancelFunc
	deployWg  sync.WaitGroup // Tracks in-flight async deployments
}

// NewServer creates a new server instance
func NewServer(registry *target.Registry, hist *history.History, logger *slog.Logger, testMode bool) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		Registry:    registry,
		History:     hist,
		LockManager: deployment.NewLockManager(),
		Logger:      logger,
		TestMode:    testMode,
		runCtx:      ctx,
		cancelRun:   cancel,
	}
	s.Run = s.deploy
	return s
}

// deploy is the production RunFunc.
func (s *Server) deploy(ctx context.Context, t *target.Target, version deployment.VersionRef) *deployment.RunResult {
	opts := pipeline.Options{Logger: s.Logger}
	if s.History != nil {
		opts.History = s.History
	}
	return pipeline.Deploy(ctx, t, version, deployment.TriggerWebhook, opts)
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(RequestLogger(s.Logger))

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(RateLimitMiddleware(PerMinute(GlobalRateLimit), "global", s.Logger))
	}

	// Routes
	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatusAll)
	r.Get("/status/{target}", s.HandleStatus)
	r.Handle("/metrics", metrics.Handler())

	// Webhook route with stricter rate limit
	if !s.TestMode {
		r.With(RateLimitMiddleware(PerMinute(WebhookRateLimit), "webhook", s.Logger)).Post("/in/{target}", s.HandleWebhook)
	} else {
		r.Post("/in/{target}", s.HandleWebhook)
	}

	return r
}

// Start starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully, waiting up to grace for in-flight runs.
func (s *Server) Start(ctx context.Context, host string, port int, grace time.Duration) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr, "targets", s.Registry.List())

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.Logger.Error("HTTP shutdown failed", "error", err)
	}
	return s.Shutdown(shutdownCtx)
}

// WaitForDeployments waits for all in-flight async deployments to complete.
// This is primarily useful for testing.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown waits for in-flight runs until ctx is done, then cancels them and
// closes the history database.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deployWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Logger.Warn("Cancelling in-flight runs")
		s.cancelRun()
		<-done
	}
	s.cancelRun()

	// Close history database connection
	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
