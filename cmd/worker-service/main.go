package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/quizjobs/internal/bootstrap"
	"github.com/cuongbtq/quizjobs/internal/config"
	"github.com/cuongbtq/quizjobs/internal/worker"
	"github.com/cuongbtq/quizjobs/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("environment", cfg.App.Environment),
		slog.String("transport", cfg.Transport.Driver),
	)
	if cfg.Transport.Driver == config.DriverMemory {
		appLogger.Warn("Memory transport only sees envelopes enqueued by this process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := bootstrap.Open(ctx, cfg, appLogger.Logger, bootstrap.Options{ObjectStore: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			appLogger.Error("Failed to close backends", slog.Any("error", err))
		}
	}()

	var runner worker.Runner
	if cfg.Reconciler.Enabled {
		p := bootstrap.NewProducer(cfg, backends, appLogger.Logger)
		runner = bootstrap.NewReconciler(cfg, backends, p, appLogger.Logger)
		appLogger.Info("Reconciler enabled",
			slog.Duration("interval", cfg.Reconciler.Interval),
			slog.Duration("threshold", cfg.Reconciler.Threshold),
		)
	}

	workerInstance, err := bootstrap.NewWorker(cfg, backends, bootstrap.NewRegistry(backends, appLogger.Logger), runner, appLogger.Logger)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
		}
		return err
	}

	// in-flight batches get ShutdownTimeout inside the worker; allow a little more here
	grace := cfg.Worker.ShutdownTimeout + 5*time.Second
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		stats := workerInstance.Stats()
		appLogger.Info("Worker stopped gracefully",
			slog.Int64("received", stats.Received),
			slog.Int64("acked", stats.Acked),
			slog.Int64("retried", stats.Retried),
		)
	case <-time.After(grace):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func initLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      cfg.App.Name,
		Version:      cfg.App.Version,
	})
}
