package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/contentflow/api"
	"github.com/GoCodeAlone/contentflow/config"
	"github.com/GoCodeAlone/contentflow/engine"
	"github.com/GoCodeAlone/contentflow/metrics"
	"github.com/GoCodeAlone/contentflow/observability/tracing"
	"github.com/GoCodeAlone/contentflow/store"
	"github.com/GoCodeAlone/contentflow/webhook"
)

var configFile = flag.String("config", "", "Path to configuration YAML file")

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging, os.Stdout)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// service bundles the wired components and their cleanup.
type service struct {
	handler http.Handler
	closers []func(context.Context) error
}

func (s *service) close(ctx context.Context, logger *slog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			logger.Warn("Shutdown step failed", "error", err)
		}
	}
}

// build wires storage, engine, dispatch and HTTP routing from cfg.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	svc := &service{}

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	svc.closers = append(svc.closers, provider.Shutdown)

	collector := metrics.New(cfg.Metrics)

	repo := store.NewResolver(logger, store.Tiers(cfg.Storage)...)
	repo.OnDemote(func(from, to string, cause error) {
		collector.RecordDemotion(from, to)
		logger.Warn("Repository backend demoted", "from", from, "to", to, "error", cause)
	})
	svc.closers = append(svc.closers, func(context.Context) error { return repo.Close() })

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(collector),
		engine.WithTracer(tracing.NewPipelineTracer(provider.Tracer())),
	}
	if cfg.Engine.TextService.URL != "" {
		text, err := engine.NewHTTPTextService(cfg.Engine.TextService, logger)
		if err != nil {
			return nil, fmt.Errorf("text service: %w", err)
		}
		opts = append(opts, engine.WithTextService(text))
	}
	if cfg.Engine.Fetcher.Enabled {
		opts = append(opts, engine.WithFetcher(engine.NewHTTPFetcher(cfg.Engine.Fetcher, logger)))
	}
	eng := engine.New(opts...)
	if !eng.Ready() {
		logger.Warn("Engine running without all collaborators; affected steps will report unavailable")
	}

	deps := api.Deps{Repo: repo, Executor: eng, Metrics: collector, Logger: logger}
	if cfg.Dispatch.URL != "" {
		deps.DeadLetters = webhook.NewDeadLetterStore()
		deps.Dispatcher = webhook.NewDispatcher(cfg.Dispatch, deps.DeadLetters, logger)
	}
	router := api.NewRouter(deps, api.Config{
		JWTSecret:        cfg.Auth.JWTSecret,
		JWTIssuer:        cfg.Auth.Issuer,
		RequireSignature: cfg.Webhook.RequireSignature,
		Tolerance:        cfg.Webhook.Tolerance,
		WebhookRateLimit: cfg.Webhook.RateLimit,
		WebhookBurst:     cfg.Webhook.Burst,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
	})
	svc.closers = append(svc.closers, func(context.Context) error { router.Stop(); return nil })

	svc.handler = router
	if cfg.Server.RequestTimeout > 0 {
		svc.handler = jsonTimeout(router, cfg.Server.RequestTimeout)
	}
	return svc, nil
}

// jsonTimeout bounds request handling to d. The 503 written on expiry is
// JSON like every other API error; responses from next keep their own
// Content-Type.
func jsonTimeout(next http.Handler, d time.Duration) http.Handler {
	th := http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		th.ServeHTTP(w, r)
	})
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	svc, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      svc.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			svc.close(context.Background(), logger)
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	svc.close(shutdownCtx, logger)
	logger.Info("Shutdown complete")
	return nil
}
