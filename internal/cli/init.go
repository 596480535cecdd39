// Package cli holds the start-up steps shared by the cardledger binaries.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardledger/internal/backend"
	"cardledger/internal/cache"
	"cardledger/internal/config"
	"cardledger/internal/log"
	"cardledger/internal/services"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads .env (or the given files) for local development.
// Missing files are ignored and variables already set win.
func LoadEnvFile(files ...string) {
	_ = godotenv.Load(files...)
}

// SetupLogger builds the application logger from LOG_LEVEL and LOG_FORMAT
// and installs it as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	lc := log.DefaultConfig()
	if cfg != nil {
		lc.Level = log.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// The configured logger depends on cfg, so report with defaults.
		log.New(log.DefaultConfig()).WithComponent(log.ComponentCLI).
			Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitBackend opens the configured backend or exits the process.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.Result {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return res
}

// NewLedgerService wires the service on top of an opened backend.
func NewLedgerService(cfg *config.Config, res *backend.Result, logger *log.Logger) *services.LedgerService {
	return services.NewLedgerService(res.Repository, res.EventPublisher(), services.Options{
		DefaultCurrency: cfg.DefaultCurrency,
		CacheSize:       cfg.DashboardCacheSize,
		CacheTTL:        cfg.DashboardCacheTTL,
		Logger:          logger,
	})
}

// StartCacheCleanup registers the dashboard cache for periodic expiry.
// Call Stop on the returned manager at shutdown.
func StartCacheCleanup(svc *services.LedgerService, logger *log.Logger, interval time.Duration) *cache.Manager {
	m := cache.NewManager(logger)
	m.Register(svc.Cache())
	m.StartCleanup(interval)
	return m
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. When the
// signal arrives cleanup runs with a context bounded by timeout, then the
// returned channel is closed.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)
		sig := <-sigChan
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received", "signal", sig.String())
		runShutdown(logger, timeout, cancel, cleanup)
	}()

	return ctx, done
}

func runShutdown(logger *log.Logger, timeout time.Duration, cancel context.CancelFunc, cleanup func(ctx context.Context)) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	cancel()
	if cleanup != nil {
		cleanup(shutdownCtx)
	}
	if shutdownCtx.Err() != nil {
		logger.Warn("Shutdown timeout reached")
		return
	}
	logger.Info("Shutdown complete")
}
