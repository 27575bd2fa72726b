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

	"github.com/cuongbtq/pyrx-compute/internal/bootstrap"
	"github.com/cuongbtq/pyrx-compute/internal/compute/dispatch"
	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/cuongbtq/pyrx-compute/internal/config"
	"github.com/cuongbtq/pyrx-compute/internal/worker"
	"github.com/cuongbtq/pyrx-compute/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const serviceName = "worker-service"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
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

	appLogger, err := bootstrap.NewLogger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Logger

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = generateWorkerID()
	}

	logger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
		slog.String("report", cfg.Worker.Report),
	)

	rabbitClient, err := bootstrap.NewRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter, closeReporter, err := newReporter(ctx, cfg, rabbitClient, logger)
	if err != nil {
		return err
	}
	defer closeReporter()

	executor := worker.NewSimulatedExecutor(cfg.Worker.Simulation.InferenceDuration, cfg.Worker.Simulation.TrainingDuration)
	if cfg.Worker.Simulation.CostRatio != "" {
		ratio, err := decimal.NewFromString(cfg.Worker.Simulation.CostRatio)
		if err != nil {
			return fmt.Errorf("invalid cost_ratio: %w", err)
		}
		executor.CostRatio = ratio
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      logger,
		Source:      rabbitClient,
		Reporter:    reporter,
		Executor:    executor,
		WorkerID:    workerID,
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	logger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			logger.Error("Worker error", slog.Any("error", err))
		}
		return err
	}

	// Stop taking deliveries and let in-flight jobs finish
	workerInstance.Stop()

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
		logger.Info("Worker stopped gracefully")
	case <-timer.C:
		logger.Warn("Worker shutdown timeout exceeded, requeueing in-flight jobs")
		cancel()
		<-errChan
	}

	return nil
}

// newReporter builds the status reporter selected by worker.report.
func newReporter(ctx context.Context, cfg *config.Config, rabbitClient *rabbitmq.Client, logger *slog.Logger) (worker.Reporter, func(), error) {
	if cfg.Worker.Report != config.ReportDirect {
		logger.Info("Reporting over HTTP", slog.String("engine_url", cfg.Worker.EngineURL))
		reporter := worker.NewHTTPReporter(cfg.Worker.EngineURL, cfg.Auth.WorkerToken, cfg.Worker.ReportTimeout)
		return reporter, func() {}, nil
	}

	db, err := bootstrap.OpenDatabase(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	notifier, closeNotifier, err := bootstrap.NewNotifier(&cfg.Redis, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	engineCfg, err := bootstrap.EngineConfig(&cfg.Engine)
	if err != nil {
		closeNotifier()
		db.Close()
		return nil, nil, fmt.Errorf("invalid engine config: %w", err)
	}
	estimator, err := bootstrap.Estimator(&cfg.Engine)
	if err != nil {
		closeNotifier()
		db.Close()
		return nil, nil, fmt.Errorf("invalid pricing config: %w", err)
	}

	eng := engine.New(db.Store, estimator, dispatch.NewQueuePool(rabbitClient, logger), logger,
		engine.WithConfig(engineCfg),
		engine.WithNotifier(notifier),
	)

	logger.Info("Reporting directly to the engine",
		slog.String("database_driver", cfg.Database.DriverName()),
	)

	return worker.NewEngineReporter(eng), func() {
		eng.Close()
		closeNotifier()
		db.Close()
	}, nil
}

func generateWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
