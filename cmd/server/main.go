// Package main is the entrypoint for the escrowhub API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/escrowhub/internal/api"
	"github.com/kiranshivaraju/escrowhub/internal/api/handler"
	mw "github.com/kiranshivaraju/escrowhub/internal/api/middleware"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/internal/cache"
	"github.com/kiranshivaraju/escrowhub/internal/config"
	"github.com/kiranshivaraju/escrowhub/internal/escrow"
	"github.com/kiranshivaraju/escrowhub/internal/metrics"
	"github.com/kiranshivaraju/escrowhub/internal/rail"
	"github.com/kiranshivaraju/escrowhub/internal/store"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	jobLockTTL      = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"rail_mode", cfg.Rail.Mode,
		"token_decimals", cfg.Escrow.TokenDecimals,
		"explicit_start", cfg.Escrow.ExplicitStart,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)
	registry := metrics.New()

	// 4. Optional Redis: snapshot cache, distributed job locks, rate limiting
	// and idempotency replay.
	var (
		sharedCache cache.Cache
		snapshots   *cache.JobSnapshots
		locker      escrow.Locker = escrow.NewKeyedLocker()
	)
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")

		sharedCache = redisCache
		snapshots = cache.NewJobSnapshots(redisCache, cache.DefaultSnapshotTTL)
		locker = escrow.ChainLockers(locker, cache.NewRedisLocker(redisCache.Client(), jobLockTTL))
	} else {
		slog.Warn("REDIS_URL not set; running with in-process locks and no cache")
	}

	// 5. Payment rail
	paymentRail, closeRail, err := newRail(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create payment rail: %w", err)
	}
	defer closeRail()

	// 6. Escrow service and outbox dispatcher
	opts := []escrow.Option{
		escrow.WithTokenDecimals(cfg.Escrow.TokenDecimals),
		escrow.WithLocker(locker),
		escrow.WithRecorder(registry),
		escrow.WithLogger(slog.Default()),
	}
	dispatchOpts := []rail.DispatcherOption{
		rail.WithDispatchRecorder(registry),
		rail.WithDispatchLogger(slog.Default()),
	}
	if cfg.Escrow.ExplicitStart {
		opts = append(opts, escrow.WithExplicitStart())
	}
	if snapshots != nil {
		opts = append(opts, escrow.WithSnapshotCache(snapshots))
		dispatchOpts = append(dispatchOpts, rail.WithInvalidator(snapshots))
	}
	svc := escrow.NewService(pgStore, cfg.Escrow.ArbitratorID, opts...)
	dispatcher := rail.NewDispatcher(pgStore, paymentRail, rail.DispatcherConfig{
		Interval:       cfg.Dispatch.Interval,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
	}, dispatchOpts...)

	// 7. Build router with dependencies
	deps := newDependencies(cfg, pgStore, sharedCache, svc, dispatcher, paymentRail, registry)
	router := api.NewRouter(deps)

	// 8. Start HTTP server and dispatcher
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// newRail returns the configured payment rail and a function releasing it.
func newRail(ctx context.Context, cfg *config.Config) (rail.Rail, func(), error) {
	switch cfg.Rail.Mode {
	case config.RailModeEth:
		eth, err := rail.NewEthRail(ctx, rail.EthConfig{
			RPCURL:          cfg.Rail.RPCURL,
			PrivateKeyHex:   cfg.Rail.PrivateKey,
			ContractAddress: cfg.Rail.ContractAddress,
			TokenDecimals:   cfg.Escrow.TokenDecimals,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("payment rail initialized", "mode", cfg.Rail.Mode, "contract", cfg.Rail.ContractAddress)
		return eth, eth.Close, nil
	default:
		slog.Info("payment rail initialized", "mode", config.RailModeFake)
		return rail.NewFakeRail(), func() {}, nil
	}
}

func newDependencies(
	cfg *config.Config,
	st store.Store,
	c cache.Cache,
	svc *escrow.Service,
	dispatcher *rail.Dispatcher,
	r rail.Rail,
	registry *metrics.Registry,
) api.Dependencies {
	deps := api.Dependencies{
		Auth:        mw.NewAuth(st, cfg.Auth.JWTSecret),
		RateLimit:   mw.NewRateLimit(c, cfg.Auth.RateLimitPerMinute),
		Idempotency: mw.NewIdempotency(c, 0),
		Observer:    registry,

		HealthHandler:  healthHandler(st, c, r),
		MetricsHandler: registry.Handler(),

		CreateJobHandler:    handler.NewCreateJobHandler(svc),
		ListJobsHandler:     handler.NewListJobsHandler(svc),
		GetJobHandler:       handler.NewGetJobHandler(svc),
		FundJobHandler:      handler.NewFundJobHandler(svc),
		AssignHandler:       handler.NewAssignHandler(svc),
		StartJobHandler:     handler.NewStartJobHandler(svc),
		CompleteJobHandler:  handler.NewCompleteJobHandler(svc),
		CancelJobHandler:    handler.NewCancelJobHandler(svc),
		ReleaseHandler:      handler.NewReleaseHandler(svc),
		ListPaymentsHandler: handler.NewListPaymentsHandler(svc),

		RaiseDisputeHandler:   handler.NewRaiseDisputeHandler(svc),
		ListDisputesHandler:   handler.NewListDisputesHandler(svc),
		QueryDisputesHandler:  handler.NewQueryDisputesHandler(svc),
		GetDisputeHandler:     handler.NewGetDisputeHandler(svc),
		ResolveDisputeHandler: handler.NewResolveDisputeHandler(svc),
		StatsHandler:          handler.NewStatsHandler(svc),

		CreateKeyHandler: handler.NewCreateKeyHandler(st, bcrypt.DefaultCost),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	}
	if cfg.Rail.WebhookSecret != "" {
		deps.Webhook = &mw.Verifier{Secret: cfg.Rail.WebhookSecret}
		deps.ConfirmPaymentHandler = handler.NewConfirmPaymentHandler(dispatcher)
	}
	return deps
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database, cache and payment rail connectivity.
// A nil cache reports "disabled" and does not degrade the service.
func healthHandler(s, c, r pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"rail":     "ok",
		}

		if err := s.Ping(req.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if c == nil {
			checks["cache"] = "disabled"
		} else if err := c.Ping(req.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := r.Ping(req.Context()); err != nil {
			checks["rail"] = "degraded"
		}

		for _, status := range checks {
			if status == "degraded" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
