// Package bootstrap turns configuration into the clients and engine both
// services run on.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/cuongbtq/pyrx-compute/internal/compute/notify"
	"github.com/cuongbtq/pyrx-compute/internal/compute/pricing"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage/sqlstore"
	"github.com/cuongbtq/pyrx-compute/internal/config"
	"github.com/cuongbtq/pyrx-compute/shared/logger"
	"github.com/cuongbtq/pyrx-compute/shared/postgresql"
	"github.com/cuongbtq/pyrx-compute/shared/rabbitmq"
	"github.com/cuongbtq/pyrx-compute/shared/redis"
	"github.com/cuongbtq/pyrx-compute/shared/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// Database is an open SQL store and the client that owns its connections.
type Database struct {
	Store *sqlstore.Store
	close func() error
}

// Close releases the connection pool.
func (d *Database) Close() error {
	return d.close()
}

// OpenDatabase connects to the configured backend and applies the schema
// when migrate is enabled.
func OpenDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Database, error) {
	var (
		db      *sqlx.DB
		closeFn func() error
	)

	switch cfg.DriverName() {
	case config.DriverSQLite:
		client, err := sqlite.NewClient(&sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		db, closeFn = client.GetDB(), client.Close
	default:
		client, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			SSLMode:         cfg.SSLMode,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, err
		}
		db, closeFn = client.GetDB(), client.Close
	}

	store, err := sqlstore.New(db, logger)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = closeFn()
			return nil, err
		}
	}

	return &Database{Store: store, close: closeFn}, nil
}

// NewRabbitMQ initializes the RabbitMQ client
func NewRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		Prefetch:           cfg.Consumer.PrefetchCount,
	}, logger)
}

// NewNotifier returns the Redis notifier, or a no-op one when Redis is not
// configured. The returned close func is never nil.
func NewNotifier(cfg *config.RedisConfig, logger *slog.Logger) (engine.Notifier, func() error, error) {
	if !cfg.Enabled() {
		logger.Info("Redis not configured, status notifications disabled")
		return engine.NopNotifier{}, func() error { return nil }, nil
	}

	client, err := redis.NewClient(&redis.Config{URL: cfg.URL, Password: cfg.Password}, logger)
	if err != nil {
		return nil, nil, err
	}
	return notify.NewRedisNotifier(client.GetClient(), logger), client.Close, nil
}

// EngineConfig merges configured values over engine defaults.
func EngineConfig(cfg *config.EngineConfig) (engine.Config, error) {
	out := engine.DefaultConfig()

	if cfg.StarterCredits != "" {
		d, err := decimal.NewFromString(cfg.StarterCredits)
		if err != nil {
			return out, fmt.Errorf("invalid starter_credits: %w", err)
		}
		out.StarterCredits = d
	}
	if cfg.ProcessingDeadline > 0 {
		out.ProcessingDeadline = cfg.ProcessingDeadline
	}
	if cfg.TrainingDeadline > 0 {
		out.TrainingDeadline = cfg.TrainingDeadline
	}
	if cfg.SweepInterval > 0 {
		out.SweepInterval = cfg.SweepInterval
	}
	if cfg.RedispatchAfter > 0 {
		out.RedispatchAfter = cfg.RedispatchAfter
	}
	if cfg.SweepBatch > 0 {
		out.SweepBatch = cfg.SweepBatch
	}
	return out, nil
}

// Estimator builds the cost estimator over the default price list.
func Estimator(cfg *config.EngineConfig) (*pricing.Estimator, error) {
	table := pricing.Default()
	if cfg.FallbackCost != "" {
		fallback, err := decimal.NewFromString(cfg.FallbackCost)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback_cost: %w", err)
		}
		if table, err = table.WithFallback(fallback); err != nil {
			return nil, err
		}
	}
	return pricing.NewEstimator(table), nil
}
