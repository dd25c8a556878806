// Package main is the entry point for the qcflow approval workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/swiftcheck/qcflow/internal/config"
	"github.com/swiftcheck/qcflow/internal/notify"
	"github.com/swiftcheck/qcflow/internal/observability"
	"github.com/swiftcheck/qcflow/internal/respcache"
	"github.com/swiftcheck/qcflow/internal/template"
	"github.com/swiftcheck/qcflow/internal/throttle"
	"github.com/swiftcheck/qcflow/internal/transport"
	"github.com/swiftcheck/qcflow/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "qcflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	store, storeCloser, err := buildWorkflowStore(ctx, cfg.Workflow.Store, logger)
	if err != nil {
		logger.Error("workflow store initialization failed", zap.Error(err))
		return 1
	}

	cache, counter, cacheCloser, err := buildCacheBackends(ctx, cfg.Cache, logger)
	if err != nil {
		logger.Error("cache initialization failed", zap.Error(err))
		return 1
	}

	notifier, notifierCloser, err := buildNotifier(cfg.Events, logger)
	if err != nil {
		logger.Error("event notifier initialization failed", zap.Error(err))
		return 1
	}

	engine := workflow.NewEngine(store, cfg.Workflow.Chain, notifier, logger)
	guard := throttle.NewGuard(counter, cfg.Throttle, logger)
	generator := template.NewCachedGenerator(
		template.NewScaffoldGenerator(),
		cache,
		cfg.Cache.KeyPrefix,
		cfg.Cache.DefaultTTL,
		logger,
	)

	checks := observability.ReadinessChecks{}
	if hc, ok := store.(observability.HealthChecker); ok {
		checks.WorkflowStore = hc
	}
	if hc, ok := cache.(observability.HealthChecker); ok {
		checks.ResponseCache = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Generator:    generator,
		Cache:        cache,
		Guard:        guard,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity),
		Ready:        observability.HandleReady(checks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go runExpirySweep(bgCtx, engine, metrics, cfg.Workflow.ExpirySweepInterval, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Workflow.Store.Driver),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("events_driver", cfg.Events.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if notifierCloser != nil {
		notifierCloser()
	}
	if cacheCloser != nil {
		cacheCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildWorkflowStore creates the workflow store based on config.
func buildWorkflowStore(ctx context.Context, cfg config.WorkflowStoreConfig, logger *zap.Logger) (workflow.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory workflow store")
		return workflow.NewMemoryStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			logger.Warn("workflow store DSN not configured, using in-memory store",
				zap.String("env", cfg.DSNEnv))
			return workflow.NewMemoryStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("workflow store: ping: %w", err)
		}
		return workflow.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported workflow store driver: %q", cfg.Driver)
	}
}

// buildCacheBackends creates the response cache and throttle counter. Both
// share one Redis client so a single deployment knob moves them together.
func buildCacheBackends(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (respcache.Cache, throttle.Counter, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory response cache and throttle counter")
		return respcache.NewMemoryCache(), throttle.NewMemoryCounter(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("cache: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv(cfg.PasswordEnv),
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("cache: ping redis: %w", err)
		}
		closer := func() { client.Close() }
		return respcache.NewRedisCache(client), throttle.NewRedisCounter(client), closer, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported cache driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the lifecycle event notifier based on config.
func buildNotifier(cfg config.EventsConfig, logger *zap.Logger) (notify.Notifier, func(), error) {
	switch cfg.Driver {
	case "noop":
		return notify.NoopNotifier{}, nil, nil
	case "log", "":
		return notify.NewLogNotifier(logger), nil, nil
	case "nats":
		url := os.Getenv(cfg.URLEnv)
		if url == "" {
			return nil, nil, fmt.Errorf("events: %s environment variable not set", cfg.URLEnv)
		}
		notifier, err := notify.NewNATSNotifier(url, cfg.SubjectPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := notifier.Close(); err != nil {
				logger.Warn("event notifier close", zap.Error(err))
			}
		}
		return notifier, closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported events driver: %q", cfg.Driver)
	}
}

// runExpirySweep periodically expires workflows whose current stage is past
// its due date.
func runExpirySweep(ctx context.Context, engine *workflow.Engine, metrics *observability.Metrics, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := engine.ExpireOverdue(ctx)
			if err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				metrics.RecordWorkflowExpiries(expired)
				logger.Info("expired overdue workflows", zap.Int("count", expired))
			}
		}
	}
}
