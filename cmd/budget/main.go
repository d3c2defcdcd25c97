package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"budget/internal/backend"
	"budget/internal/cli"
	"budget/internal/config"
	"budget/internal/core"
	apphttp "budget/internal/http"
	"budget/internal/identity"
	applog "budget/internal/log"
	"budget/internal/seed"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	if err := cfg.ValidateServer(); err != nil {
		cli.Fatal(logger, "Configuration validation failed", err)
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	res, err := cli.OpenBackend(ctx, logger, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	if cfg.SeedFile != "" {
		if err := seedFixtures(ctx, logger, res, cfg.SeedFile); err != nil {
			cli.Fatal(logger, "Failed to seed backend", err)
		}
	}

	opts := apphttp.Options{
		Verifier:       identity.NewVerifier(cfg.JWTSecret),
		Logger:         logger,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			cli.Fatal(logger, "Failed to connect to Redis", err)
		}
		opts.Idempotency = apphttp.NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL)
		logger.Info("Idempotency keys stored in Redis", "addr", cfg.RedisAddr)
	}

	srv := apphttp.NewServer(":"+cfg.Port, res.Service, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting budget server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events", res.AMQP != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", applog.FieldError, err)
		return
	}
	logger.Info("Server stopped gracefully")
}

// seedFixtures applies the seed file on every start. Apply skips rows that
// already exist, so restarts do not duplicate fixtures and a seed interrupted
// halfway is completed on the next run.
func seedFixtures(ctx context.Context, logger *applog.Logger, res *backend.BackendResult, path string) error {
	fx, err := seed.Load(path)
	if err != nil {
		return err
	}
	summary, err := seed.Apply(ctx, res.Store, res.Service, fx, core.Date{Time: time.Now().UTC().Truncate(24 * time.Hour)})
	if err != nil {
		return err
	}
	logger.Info("Seed applied",
		"file", path,
		"accounts", summary.Accounts,
		"categories", summary.Categories,
		"opening_transactions", summary.Transactions)
	return nil
}
