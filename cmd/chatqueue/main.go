package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatqueue/internal/config"
	"chatqueue/internal/connectivity"
	"chatqueue/internal/constants"
	"chatqueue/internal/metrics"
	"chatqueue/internal/models"
	"chatqueue/internal/queue"
	"chatqueue/internal/retry"
	"chatqueue/internal/sender"
	"chatqueue/internal/store"
	"chatqueue/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatqueue %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatqueue")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close queue store")
		}
	}()

	snd, err := sender.New(ctx, cfg.Sender, logger)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}
	if closer, ok := snd.(io.Closer); ok {
		defer closer.Close()
	}

	monitor := connectivity.NewMonitor(cfg.Connectivity.AssumeOnline)
	if cfg.Connectivity.ProbeURL != "" {
		prober := connectivity.NewProber(monitor, cfg.Connectivity.ProbeURL,
			time.Duration(cfg.Connectivity.ProbeIntervalSec)*time.Second,
			time.Duration(cfg.Connectivity.ProbeTimeoutSec)*time.Second,
			logger)
		prober.Start(ctx)
		defer prober.Stop()
	} else {
		logger.WithField("online", cfg.Connectivity.AssumeOnline).Info("No probe URL configured, connectivity is fixed")
	}

	registry := metrics.NewRegistry()
	q := queue.New(ctx, st, snd, monitor, logger,
		queue.WithPacing(queue.PacingFromConfig(cfg.Queue)),
		queue.WithDefaultMaxRetries(cfg.Queue.DefaultMaxRetries),
		queue.WithMetrics(registry),
	)
	q.Start(ctx)
	defer q.Stop()

	watcher := config.NewConfigWatcher(*configPath, 0, logger)
	watcher.OnConfigChange(func(newCfg *models.Config) {
		applyLogLevel(logger, newCfg.LogLevel)
		q.SetPacing(queue.PacingFromConfig(newCfg.Queue))
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg.Server, q, registry, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openStore opens the configured backend with exponential backoff
func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (store.Store, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})

	var st store.Store
	err := backoff.Retry(ctx, func() error {
		var openErr error
		st, openErr = store.Open(ctx, cfg.Store, logger)
		if openErr != nil {
			logger.Warnf("Failed to open queue store: %v", openErr)
		}
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store after retries: %w", err)
	}
	return st, nil
}

func applyLogLevel(logger *logrus.Logger, level string) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}
