package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/quizjobs/internal/api/handler"
	"github.com/cuongbtq/quizjobs/internal/api/router"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// the in-memory queue only exists inside this process, so it gets its own consumers
	standalone := cfg.Transport.Driver == config.DriverMemory
	if standalone {
		if err := cfg.ValidateWorkerConfig(); err != nil {
			return fmt.Errorf("invalid worker config for standalone mode: %w", err)
		}
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Store.Driver),
		slog.String("transport", cfg.Transport.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, appLogger.Logger, bootstrap.Options{ObjectStore: standalone})
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			appLogger.Error("Failed to close backends", slog.Any("error", err))
		}
	}()

	jobs := bootstrap.NewProducer(cfg, backends, appLogger.Logger)

	var embedded *worker.Worker
	if standalone {
		embedded, err = bootstrap.NewWorker(cfg, backends, bootstrap.NewRegistry(backends, appLogger.Logger), nil, appLogger.Logger)
		if err != nil {
			return err
		}
		go func() {
			if err := embedded.Start(ctx); err != nil {
				appLogger.Error("Embedded worker failed", slog.Any("error", err))
			}
		}()
		appLogger.Warn("Running standalone with an embedded worker")
	}

	r := initRouter(cfg, appLogger.Logger, jobs, backends)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serveErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	if embedded != nil {
		embedded.Stop()
	}

	appLogger.Info("Server shutdown complete")
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

func initRouter(cfg *config.Config, logger *slog.Logger, jobs handler.JobService, health handler.HealthChecker) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:      logger.With(slog.String("component", "api")),
		Jobs:        jobs,
		Health:      health,
		ServiceName: cfg.App.Name,
	})
}
