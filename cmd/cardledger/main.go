package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"cardledger/internal/cli"
	apphttp "cardledger/internal/http"
	"cardledger/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)

	res := cli.InitBackend(context.Background(), logger, cfg)
	svc := cli.NewLedgerService(cfg, res, logger)
	cacheManager := cli.StartCacheCleanup(svc, logger, time.Minute)

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:   ":" + cfg.Port,
		UserID: cfg.UserID,
		Logger: logger,
	}, svc)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if err := res.Close(); err != nil {
			logger.Error("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Starting cardledger server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"user_id", cfg.UserID,
		"amqp_enabled", res.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	<-done
	logger.Info("Server stopped gracefully")
}
