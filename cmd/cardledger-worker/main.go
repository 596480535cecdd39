package main

import (
	"context"
	"errors"
	"os"
	"time"

	"cardledger/internal/backend"
	"cardledger/internal/cli"
	"cardledger/internal/log"
	"cardledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)
	logger.Info("Starting cardledger-worker", "user_id", cfg.UserID)

	if cfg.DataBackend == "memory" {
		logger.Warn("Memory backend is private to this process, the report will only show data written by the worker")
	}
	res := cli.InitBackend(context.Background(), logger, cfg)
	defer res.Close()
	svc := cli.NewLedgerService(cfg, res, logger)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	writer, err := backend.NewFactory(logger).CreateReportWriter(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize report writer", log.FieldError, err)
		os.Exit(1)
	}

	var events worker.EventSource
	if res.Publisher != nil {
		events = res.Publisher
	} else {
		logger.Info("AMQP disabled, exporting on the interval only", "interval", cfg.ReportInterval)
	}

	w := worker.NewReportWorker(svc, writer, events, worker.Config{
		UserID:   cfg.UserID,
		Interval: cfg.ReportInterval,
		Schedule: cfg.ReportSchedule,
		OnStart:  cfg.ReportOnStart,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Report worker stopped", log.FieldError, err)
		os.Exit(1)
	}
	<-done
	logger.Info("Worker shutdown complete", "exports", w.Exports(), "last_version", w.LastVersion())
}
