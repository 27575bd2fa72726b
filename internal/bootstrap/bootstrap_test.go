package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/pyrx-compute/internal/compute/engine"
	"github.com/cuongbtq/pyrx-compute/internal/compute/notify"
	"github.com/cuongbtq/pyrx-compute/internal/compute/storage/sqlstore"
	"github.com/cuongbtq/pyrx-compute/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineConfig(t *testing.T) {
	cfg, err := EngineConfig(&config.EngineConfig{})
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig(), cfg)

	cfg, err = EngineConfig(&config.EngineConfig{
		StarterCredits:   "25.5",
		TrainingDeadline: 4 * time.Hour,
		SweepBatch:       10,
	})
	require.NoError(t, err)
	assert.Equal(t, "25.5", cfg.StarterCredits.String())
	assert.Equal(t, 4*time.Hour, cfg.TrainingDeadline)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingDeadline)
	assert.Equal(t, 10, cfg.SweepBatch)

	_, err = EngineConfig(&config.EngineConfig{StarterCredits: "lots"})
	assert.Error(t, err)
}

func TestEstimator(t *testing.T) {
	est, err := Estimator(&config.EngineConfig{})
	require.NoError(t, err)
	assert.Equal(t, "0.05", est.Table().Fallback().String())

	est, err = Estimator(&config.EngineConfig{FallbackCost: "0.2"})
	require.NoError(t, err)
	assert.Equal(t, "0.2", est.Table().Fallback().String())

	_, err = Estimator(&config.EngineConfig{FallbackCost: "-1"})
	assert.Error(t, err)
}

func TestOpenDatabase_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDatabase(ctx, &config.DatabaseConfig{
		Driver:  config.DriverSQLite,
		Path:    filepath.Join(t.TempDir(), "pyrx.db"),
		Migrate: true,
	}, discardLogger())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, sqlstore.DialectSQLite, db.Store.Dialect())
	require.NoError(t, db.Store.Ping(ctx))

	ok, err := db.Store.CheckSufficient(ctx, "0xabc", engine.DefaultConfig().StarterCredits)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewNotifier(t *testing.T) {
	n, closeFn, err := NewNotifier(&config.RedisConfig{}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, engine.NopNotifier{}, n)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	n, closeFn, err = NewNotifier(&config.RedisConfig{URL: "redis://" + mr.Addr()}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.RedisNotifier{}, n)
	assert.NoError(t, closeFn())
}
