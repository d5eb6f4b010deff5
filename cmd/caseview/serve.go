package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/config"
	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/internal/metadata"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/internal/render"
	"github.com/pitabwire/caseview/internal/session"
	"github.com/pitabwire/caseview/internal/transport"
)

const sweepInterval = time.Minute

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Step 1: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "caseview", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 2: Load specs and definitions, build invokers.
	a, err := bootstrap(cfg, logger, metrics)
	if err != nil {
		return err
	}

	// Step 3: Session state store.
	store, storeCloser, err := buildSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	sessions := session.NewManager(a.registry, a.sources, store, cfg.Session.TTL,
		session.WithManagerLogger(logger),
		session.WithManagerMetrics(metrics),
		session.WithMaxLive(cfg.Session.MaxEntries),
	)

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("template parsing failed: %w", err)
	}

	var csrfKey []byte
	if cfg.Server.CSRF.Enabled {
		key := os.Getenv(cfg.Server.CSRF.AuthKeyEnv)
		if len(key) < 32 {
			return fmt.Errorf("csrf: %s must hold at least 32 bytes", cfg.Server.CSRF.AuthKeyEnv)
		}
		csrfKey = []byte(key)
	}

	// Step 4: Build HTTP router.
	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return a.registry.PageCount() > 0 },
	}
	if len(cfg.Specs.Sources) > 0 {
		readiness.OpenAPILoaded = a.index.Loaded
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.SessionStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Metrics:        metrics,
		Pages:          metadata.NewPageProvider(a.registry),
		Menu:           metadata.NewMenuProvider(a.registry),
		Sessions:       sessions,
		Renderer:       renderer,
		CSRFKey:        csrfKey,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readiness),
		MetricsHandler: observability.Handler(prometheus.DefaultGatherer),
	})

	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 5: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go sessions.Run(bgCtx, sweepInterval)

	if cfg.Definitions.HotReload {
		watcher := definition.NewWatcher(
			cfg.Definitions.Directories,
			cfg.Definitions.ReloadDebounce,
			definition.RegistryReloader(a.registry, cfg.Definitions.Directories, a.index),
			definition.WithWatcherLogger(logger),
			definition.WithReloadResult(func(err error) {
				status := "ok"
				if err != nil {
					status = "failed"
				}
				metrics.RecordDefinitionReload(status)
				metrics.SetDefinitionsLoaded(float64(a.registry.PageCount()))
			}),
		)
		go func() {
			if err := watcher.Run(bgCtx); err != nil {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		}()
	}

	// Step 6: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("pages", a.registry.PageCount()),
		zap.String("session_driver", cfg.Session.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// buildSessionStore creates the session state store based on config.
func buildSessionStore(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case config.SessionDriverRedis:
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}
		logger.Info("using redis session store", zap.String("addr", addr))
		return session.NewRedisStore(client, cfg.KeyPrefix, cfg.TTL), func() { _ = client.Close() }, nil
	default:
		logger.Info("using in-memory session store", zap.Int("max_entries", cfg.MaxEntries))
		return session.NewMemoryStore(cfg.TTL, cfg.MaxEntries), nil, nil
	}
}
