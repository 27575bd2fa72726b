package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Worker reporting modes
const (
	ReportHTTP   = "http"
	ReportDirect = "direct"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Engine    EngineConfig    `yaml:"engine"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the SQL backend
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres (default) or sqlite
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	Path            string        `yaml:"path"`         // sqlite only
	BusyTimeout     time.Duration `yaml:"busy_timeout"` // sqlite only
	Migrate         bool          `yaml:"migrate"`
}

// DriverName returns the configured driver, defaulting to postgres.
func (d DatabaseConfig) DriverName() string {
	if d.Driver == "" {
		return DriverPostgres
	}
	return d.Driver
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the status notification backend. Disabled when URL is empty.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Enabled reports whether status notifications are published.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"` // generated when empty
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Report selects how status reports reach the engine: "http" calls the
	// API service, "direct" runs an engine in-process against the database.
	Report        string        `yaml:"report"`
	EngineURL     string        `yaml:"engine_url"`
	ReportTimeout time.Duration `yaml:"report_timeout"`

	Simulation SimulationConfig `yaml:"simulation"`
}

// SimulationConfig tunes the simulated executor
type SimulationConfig struct {
	InferenceDuration time.Duration `yaml:"inference_duration"`
	TrainingDuration  time.Duration `yaml:"training_duration"`
	CostRatio         string        `yaml:"cost_ratio"`
}

// EngineConfig holds admission and deadline settings
type EngineConfig struct {
	StarterCredits     string        `yaml:"starter_credits"`
	FallbackCost       string        `yaml:"fallback_cost"`
	ProcessingDeadline time.Duration `yaml:"processing_deadline"`
	TrainingDeadline   time.Duration `yaml:"training_deadline"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	RedispatchAfter    time.Duration `yaml:"redispatch_after"`
	SweepBatch         int           `yaml:"sweep_batch"`
}

// RateLimitConfig bounds submissions per wallet
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// AuthConfig holds the shared secrets of the internal endpoints
type AuthConfig struct {
	WorkerToken string `yaml:"worker_token"`
	AdminToken  string `yaml:"admin_token"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment, so secrets can live in .env.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateEngine(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit requests_per_second must be greater than 0")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit burst must be greater than 0")
		}
	}

	if c.Auth.WorkerToken == "" {
		return fmt.Errorf("auth worker_token is required")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	switch c.Worker.Report {
	case "", ReportHTTP:
		if c.Worker.EngineURL == "" {
			return fmt.Errorf("worker engine_url is required for http reporting")
		}
		if c.Auth.WorkerToken == "" {
			return fmt.Errorf("auth worker_token is required for http reporting")
		}
	case ReportDirect:
		if err := c.validateDatabase(); err != nil {
			return err
		}
		if err := c.validateEngine(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid worker report mode: %q (must be %s or %s)", c.Worker.Report, ReportHTTP, ReportDirect)
	}

	if ratio := c.Worker.Simulation.CostRatio; ratio != "" {
		d, err := decimal.NewFromString(ratio)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("invalid worker simulation cost_ratio: %q", ratio)
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.DriverName() {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("invalid database driver: %q (must be %s or %s)", c.Database.Driver, DriverPostgres, DriverSQLite)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateEngine() error {
	amounts := []struct {
		name  string
		value string
	}{
		{"starter_credits", c.Engine.StarterCredits},
		{"fallback_cost", c.Engine.FallbackCost},
	}
	for _, a := range amounts {
		if a.value == "" {
			continue
		}
		d, err := decimal.NewFromString(a.value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("invalid engine %s: %q", a.name, a.value)
		}
	}

	if c.Engine.ProcessingDeadline < 0 || c.Engine.TrainingDeadline < 0 {
		return fmt.Errorf("engine deadlines must not be negative")
	}

	if c.Engine.SweepInterval < 0 || c.Engine.RedispatchAfter < 0 {
		return fmt.Errorf("engine sweep settings must not be negative")
	}

	return nil
}
