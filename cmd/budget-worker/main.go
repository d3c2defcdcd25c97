package main

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"budget/internal/amqp"
	"budget/internal/cli"
	"budget/internal/config"
	applog "budget/internal/log"
	"budget/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)

	logger.Info("Starting budget-worker")

	if err := cfg.Validate(); err != nil {
		cli.Fatal(logger, "Configuration validation failed", err)
	}
	if cfg.DataBackend == "memory" {
		cli.Fatal(logger, "Configuration validation failed",
			errors.New("the worker cannot audit a memory backend owned by another process"))
	}

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	// The worker only reads and audits; it never publishes.
	storeCfg := *cfg
	storeCfg.AMQPURL = ""
	res, err := cli.OpenBackend(ctx, logger, &storeCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err)
	}
	defer res.Cleanup()

	auditor := worker.NewAuditor(res.Store, cfg.VerifyConcurrency)

	// Catch drift left by events missed while the worker was down.
	logger.Info("Performing startup verification...")
	if _, err := auditor.VerifyAll(ctx); err != nil {
		logger.Error("Startup verification failed", applog.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.AMQPURL != "" {
		consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize AMQP client", err)
		}
		defer consumer.Close()

		g.Go(func() error {
			return consumer.ConsumeLedgerEvents(gctx, auditor.HandleEvent)
		})
	} else {
		logger.Info("AMQP disabled, relying on periodic verification only")
	}
	g.Go(func() error {
		return auditor.RunPeriodic(gctx, cfg.VerifyInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		return
	}
	logger.Info("Worker stopped gracefully")
}
