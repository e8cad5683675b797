// Command labsyncd serves the partner lab integration API: cart
// reconciliation, order placement and order status sync.
//
// @title       LabSync API
// @version     1.0
// @description Partner lab integration: cart reconciliation, order placement and status sync.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-labsync-backend/internal/config"
	"github.com/tbourn/go-labsync-backend/internal/credential"
	"github.com/tbourn/go-labsync-backend/internal/gate"
	httpapi "github.com/tbourn/go-labsync-backend/internal/http"
	"github.com/tbourn/go-labsync-backend/internal/observability"
	"github.com/tbourn/go-labsync-backend/internal/ordersync"
	"github.com/tbourn/go-labsync-backend/internal/reconcile"
	"github.com/tbourn/go-labsync-backend/internal/repo"
	"github.com/tbourn/go-labsync-backend/internal/sysutil"
	"github.com/tbourn/go-labsync-backend/internal/upstream"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	logger := sysutil.ConfigureLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("labsyncd stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	var resAttrs []attribute.KeyValue
	if host, ok := observability.UpstreamHost(cfg.Upstream.BaseURL); ok {
		resAttrs = append(resAttrs, host)
	}
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion, resAttrs...)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	go purgeIdempotency(ctx, db, cfg.IdempotencyTTL, logger)

	// Resilience gate shared by every partner call.
	g := gate.New(gate.Config{
		Queue: gate.QueueConfig{
			Workers: cfg.Gate.QueueWorkers,
			RPS:     cfg.Gate.QueueRPS,
			Burst:   cfg.Gate.QueueBurst,
		},
		Breaker: gate.BreakerConfig{
			Threshold: cfg.Gate.BreakerThreshold,
			Window:    cfg.Gate.BreakerWindow,
			CoolDown:  cfg.Gate.BreakerCoolDown,
		},
		Timeout: cfg.Upstream.Timeout,
	},
		gate.WithBreakerOptions(gate.WithFailurePredicate(upstream.IsCountedFailure)),
		gate.WithLogger(logger.With().Str("component", "gate").Logger()),
	)
	defer g.Close()

	client := upstream.NewClient(cfg.Upstream.BaseURL, g,
		upstream.WithLogger(logger.With().Str("component", "upstream").Logger()))

	loc, err := credential.ParseOffset(cfg.Upstream.TZOffset)
	if err != nil {
		return fmt.Errorf("upstream tz offset: %w", err)
	}
	credOpts := []credential.Option{
		credential.WithLogger(logger.With().Str("component", "credential").Logger()),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		credOpts = append(credOpts, credential.WithLocker(credential.NewRedisLocker(rdb, cfg.Redis.LockTTL)))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("session refresh lock via redis")
	}
	creds := credential.NewManager(client, repo.SessionStore{DB: db}, credential.Config{
		Accounts: map[string]credential.Account{
			cfg.Upstream.Principal: {Username: cfg.Upstream.Username, Password: cfg.Upstream.Password},
		},
		Location: loc,
	}, credOpts...)

	engine := reconcile.New(client, creds, reconcile.Config{
		Principal:          cfg.Upstream.Principal,
		MinOrderThreshold:  cfg.Pricing.MinOrderThreshold,
		Surcharge:          cfg.Pricing.Surcharge,
		SurchargeTolerance: cfg.Pricing.SurchargeTolerance,
		Epsilon:            cfg.Pricing.Epsilon,
	}, reconcile.WithLogger(logger.With().Str("component", "reconcile").Logger()))

	syncer := ordersync.New(repo.OrderStore{DB: db}, client, creds, ordersync.Config{
		Principal:  cfg.Upstream.Principal,
		BatchSize:  cfg.Sync.BatchSize,
		BatchDelay: cfg.Sync.BatchDelay,
	}, ordersync.WithLogger(logger.With().Str("component", "ordersync").Logger()))

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:     db,
		Pricer: engine,
		Syncer: syncer,
		Gate:   g,
		Creds:  creds,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Str("upstream", cfg.Upstream.BaseURL).
			Msg("labsyncd listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// purgeIdempotency drops expired Idempotency-Key records once per ttl until
// ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, ttl time.Duration, logger zerolog.Logger) {
	if ttl <= 0 {
		return
	}
	t := time.NewTicker(ttl)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				logger.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("deleted", n).Msg("purged idempotency keys")
			}
		}
	}
}
