package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/core/services"
	"github.com/SscSPs/bearer_gate/internal/handlers"
	"github.com/SscSPs/bearer_gate/internal/middleware"
	"github.com/SscSPs/bearer_gate/internal/platform/config"
	"github.com/SscSPs/bearer_gate/internal/platform/metrics"
	"github.com/SscSPs/bearer_gate/internal/repositories/memory"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

// ServeCommand returns the serve subcommand.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP server",
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, logger := runtimeFrom(c)
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-serveErr:
		if err != nil {
			logger.Error("Server failed to run", slog.String("error", err.Error()))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if herr := httpServer.Shutdown(shutdownCtx); herr != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", herr.Error()))
	}
	srv.shutdown(shutdownCtx)

	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// server owns everything serve builds. shutdown releases it in reverse order.
type server struct {
	logger  *slog.Logger
	store   *memory.TokenStore
	usage   *services.UsageRecorder
	handler http.Handler

	stopWatch context.CancelFunc
	watchDone sync.WaitGroup
}

func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	store, notifier, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	tokenSvc := services.NewTokenService(store, services.WithLogger(logger))
	usage := services.NewUsageRecorder(tokenSvc, cfg.UsageQueueSize,
		services.WithRecorderLogger(logger),
		services.WithRecorderMetrics(m))
	usage.Start()

	r := gin.New()

	// Global middleware (logging, recovery)
	r.Use(middleware.StructuredLoggingMiddleware(logger), gin.Recovery())

	if err := r.SetTrustedProxies(nil); err != nil {
		_ = usage.Shutdown(ctx)
		_ = store.Close()
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}

	container := &portssvc.ServiceContainer{Token: tokenSvc, Usage: usage}
	if err := handlers.RegisterRoutes(r, cfg, container, handlers.Observability{Metrics: m, Gatherer: registry}); err != nil {
		_ = usage.Shutdown(ctx)
		_ = store.Close()
		return nil, err
	}

	s := &server{
		logger:  logger,
		store:   store,
		usage:   usage,
		handler: r,
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	s.stopWatch = stopWatch
	if notifier != nil {
		s.watchDone.Add(1)
		go func() {
			defer s.watchDone.Done()
			err := notifier.Watch(watchCtx, func() {
				if err := store.Reload(watchCtx); err != nil {
					logger.Warn("Failed to reload token store", slog.String("error", err.Error()))
				}
			})
			if err != nil {
				logger.Warn("Token store watch stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return s, nil
}

func (s *server) shutdown(ctx context.Context) {
	if err := s.usage.Shutdown(ctx); err != nil {
		s.logger.Warn("Usage recorder did not drain", slog.String("error", err.Error()))
	}

	s.stopWatch()
	s.watchDone.Wait()

	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close token store", slog.String("error", err.Error()))
	}
}
