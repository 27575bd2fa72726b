package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PYRX_WORKER_TOKEN", "worker-secret")

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, DriverPostgres, cfg.Database.DriverName())
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "pyrx", cfg.Database.Database)
				assert.Equal(t, "pyrx_jobs", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "pyrx_jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, 8, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.True(t, cfg.Redis.Enabled())
				assert.Equal(t, "10", cfg.Engine.StarterCredits)
				assert.Equal(t, 5*time.Minute, cfg.Engine.ProcessingDeadline)
				assert.Equal(t, 2*time.Hour, cfg.Engine.TrainingDeadline)
				assert.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond)
				assert.Equal(t, "worker-secret", cfg.Auth.WorkerToken)
				assert.Equal(t, "pyrx-api-service", cfg.App.Name)
			}
		})
	}
}

func validAPIConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "pyrx",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "pyrx_jobs"},
			Queue:    QueueConfig{Name: "pyrx_jobs_queue"},
		},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 5, Burst: 10},
		Auth:      AuthConfig{WorkerToken: "secret"},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name: "sqlite needs no host",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverSQLite, Path: "pyrx.db"}
			},
		},
		{
			name:      "sqlite without path",
			mutate:    func(c *Config) { c.Database = DatabaseConfig{Driver: DriverSQLite} },
			errString: "database path is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			errString: "invalid database driver",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "bad starter credits",
			mutate:    func(c *Config) { c.Engine.StarterCredits = "ten" },
			errString: "invalid engine starter_credits",
		},
		{
			name:      "negative fallback cost",
			mutate:    func(c *Config) { c.Engine.FallbackCost = "-0.05" },
			errString: "invalid engine fallback_cost",
		},
		{
			name:      "negative deadline",
			mutate:    func(c *Config) { c.Engine.TrainingDeadline = -time.Second },
			errString: "engine deadlines must not be negative",
		},
		{
			name:      "rate limit without rate",
			mutate:    func(c *Config) { c.RateLimit.RequestsPerSecond = 0 },
			errString: "requests_per_second",
		},
		{
			name: "rate limit disabled",
			mutate: func(c *Config) {
				c.RateLimit = RateLimitConfig{}
			},
		},
		{
			name:      "missing worker token",
			mutate:    func(c *Config) { c.Auth.WorkerToken = "" },
			errString: "auth worker_token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func validWorkerConfig() *Config {
	cfg := validAPIConfig()
	cfg.Worker = WorkerConfig{
		Concurrency:     4,
		JobTimeout:      10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		EngineURL:       "http://localhost:8080",
	}
	return cfg
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid http reporting",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "worker job_timeout must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
		{
			name:      "http without engine url",
			mutate:    func(c *Config) { c.Worker.EngineURL = "" },
			errString: "worker engine_url is required",
		},
		{
			name: "direct reporting needs no engine url",
			mutate: func(c *Config) {
				c.Worker.Report = ReportDirect
				c.Worker.EngineURL = ""
			},
		},
		{
			name: "direct reporting needs a database",
			mutate: func(c *Config) {
				c.Worker.Report = ReportDirect
				c.Database.Host = ""
			},
			errString: "database host is required",
		},
		{
			name:      "unknown report mode",
			mutate:    func(c *Config) { c.Worker.Report = "grpc" },
			errString: "invalid worker report mode",
		},
		{
			name:      "bad cost ratio",
			mutate:    func(c *Config) { c.Worker.Simulation.CostRatio = "-1" },
			errString: "invalid worker simulation cost_ratio",
		},
		{
			name:      "missing rabbitmq",
			mutate:    func(c *Config) { c.RabbitMQ = RabbitMQConfig{} },
			errString: "rabbitmq host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		t.Setenv("PYRX_WORKER_TOKEN", "worker-secret")

		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("unset token fails validation", func(t *testing.T) {
		t.Setenv("PYRX_WORKER_TOKEN", "")

		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth worker_token is required")
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load sqlite config", func(t *testing.T) {
		cfg, err := Load("testdata/sqlite.yaml")
		require.NoError(t, err)

		assert.Equal(t, DriverSQLite, cfg.Database.DriverName())
		assert.Equal(t, "data/pyrx.db", cfg.Database.Path)
		assert.False(t, cfg.Redis.Enabled())
		require.NoError(t, cfg.ValidateAPIConfig())
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
