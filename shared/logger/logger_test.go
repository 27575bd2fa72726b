package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantLevel []string
	}{
		{level: "debug", wantLevel: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", wantLevel: []string{"INFO", "WARN", "ERROR"}},
		{level: "warning", wantLevel: []string{"WARN", "ERROR"}},
		{level: "error", wantLevel: []string{"ERROR"}},
		{level: "verbose", wantLevel: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			logger.Debug("deadline armed")
			logger.Info("job submitted")
			logger.Warn("report retry")
			logger.Error("sweep failed")

			var got []string
			for _, entry := range decodeLines(t, output) {
				got = append(got, entry["level"].(string))
			}
			assert.Equal(t, tt.wantLevel, got)
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.Info("job completed",
		slog.String("job_id", "job-1"),
		slog.Int("attempt", 2),
		slog.Bool("refunded", true),
	)

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "job completed", entries[0]["msg"])
	assert.Equal(t, "job-1", entries[0]["job_id"])
	assert.Equal(t, float64(2), entries[0]["attempt"])
	assert.Equal(t, true, entries[0]["refunded"])
	assert.Contains(t, entries[0], "time")
}

func TestNew_ConsoleFormat(t *testing.T) {
	for _, format := range []string{"console", ""} {
		output := &bytes.Buffer{}
		logger, err := New(&Config{Level: "info", Format: format, writer: output})
		require.NoError(t, err)

		logger.Info("worker started", slog.String("worker_id", "w-1"))

		assert.Contains(t, output.String(), "worker started")
		assert.Contains(t, output.String(), "w-1")
	}
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "xml", writer: output})
	require.NoError(t, err)

	logger.Info("fallback")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "fallback", entries[0]["msg"])
}

func TestNew_ServiceAttribute(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{
		Level:   "info",
		Format:  "json",
		Service: "pyrx-api",
		writer:  output,
	})
	require.NoError(t, err)

	logger.With(slog.String("wallet", "0xabc")).Info("job submitted", slog.String("job_id", "job-1"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "pyrx-api", entries[0]["service"])
	assert.Equal(t, "0xabc", entries[0]["wallet"])
	assert.Equal(t, "job-1", entries[0]["job_id"])
}

func TestNew_SourceLocation(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: output})
	require.NoError(t, err)

	logger.Info("with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "source")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, err := New(&Config{
		Level:  "info",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNew_FileOutputError(t *testing.T) {
	_, err := New(&Config{
		Format: "json",
		Output: filepath.Join(t.TempDir(), "missing", "service.log"),
	})
	assert.Error(t, err)
}
