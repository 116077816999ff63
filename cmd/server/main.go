// Package main is the entry point for the countersign server.
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

	"github.com/countersignhq/countersign/internal/assets"
	"github.com/countersignhq/countersign/internal/config"
	"github.com/countersignhq/countersign/internal/defaults"
	"github.com/countersignhq/countersign/internal/email"
	"github.com/countersignhq/countersign/internal/identity"
	"github.com/countersignhq/countersign/internal/notify"
	"github.com/countersignhq/countersign/internal/observability"
	"github.com/countersignhq/countersign/internal/routing"
	"github.com/countersignhq/countersign/internal/schema"
	"github.com/countersignhq/countersign/internal/transport"
	"github.com/countersignhq/countersign/internal/workflow"
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

	cfg, err := config.Load(*configPath)
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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "countersign", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Persistence. The postgres pool backs both the submission store and the
	// user lookup; the memory driver is for development and tests.
	store, lookup, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	ledger, ledgerCloser, err := buildDispatchLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		logger.Error("dispatch ledger initialization failed", zap.Error(err))
		return 1
	}

	// Core components, with their domain counters attached.
	normalizer := email.NewNormalizer(email.NewStaticSuggester(), logger,
		email.WithFixCounter(metrics.EmailFixesTotal),
		email.WithMaxEditDistance(cfg.Email.MaxEditDistance),
	)
	evaluator := schema.NewEvaluator(logger,
		schema.WithIntegrityCounter(metrics.ConditionIntegrityWarnings),
	)
	resolver := defaults.NewResolver(assets.NewMemoryStore(), logger,
		defaults.WithFilledCounter(metrics.DefaultValuesFilledTotal),
	)

	orch := workflow.NewOrchestrator(store, lookup, normalizer, evaluator, resolver,
		routing.NewRouter(logger), logger,
		workflow.WithCreatedCounter(metrics.SubmissionsCreatedTotal),
	)
	dispatcher := workflow.NewDispatcher(store, ledger, notify.NewLogNotifier(logger), logger,
		workflow.WithWaveCounter(metrics.WavesDispatchedTotal),
		workflow.WithLedgerTTL(cfg.Ledger.DefaultTTL),
	)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	var ready observability.ReadinessChecks
	if hc, ok := store.(observability.HealthChecker); ok {
		ready.SubmissionStore = hc
	}
	if hc, ok := ledger.(observability.HealthChecker); ok {
		ready.DispatchLedger = hc
	}
	if hc, ok := lookup.(observability.HealthChecker); ok {
		ready.IdentityLookup = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		Dispatcher:   dispatcher,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Metrics:      metrics,
		Ready:        ready,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go runExpirationSweep(bgCtx, orch, metrics, cfg.Expiry.CheckInterval, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("ledger_driver", cfg.Ledger.Driver),
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

	if ledgerCloser != nil {
		ledgerCloser()
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

// buildStores creates the submission store and user lookup based on config.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.SubmissionStore, identity.Lookup, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory submission store")
		return workflow.NewMemorySubmissionStore(), identity.NewMemoryLookup(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("submission store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("submission store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("submission store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("submission store: ping: %w", err)
		}

		return workflow.NewPgSubmissionStore(pool), identity.NewPgLookup(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildDispatchLedger creates the dispatch ledger based on config.
func buildDispatchLedger(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (workflow.DispatchLedger, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory dispatch ledger")
		return workflow.NewMemoryDispatchLedger(), nil, nil
	case "redis", "":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("dispatch ledger: %s environment variable not set", cfg.AddrEnv)
		}

		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("dispatch ledger: ping: %w", err)
		}

		closer := func() { client.Close() }
		return workflow.NewRedisDispatchLedger(client), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger driver: %q", cfg.Driver)
	}
}

// runExpirationSweep periodically archives submissions past their deadline.
func runExpirationSweep(ctx context.Context, orch *workflow.Orchestrator, metrics *observability.Metrics, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := orch.ProcessExpirations(ctx)
			if err != nil {
				logger.Error("expiration sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				metrics.SubmissionsExpiredTotal.Add(float64(n))
				logger.Info("expired submissions archived", zap.Int("count", n))
			}
		}
	}
}
