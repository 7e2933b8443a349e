package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		checkFunc func(t *testing.T, logger *Logger, output *bytes.Buffer)
	}{
		{
			name:   "json format with debug level",
			config: &Config{Level: "debug", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("Probe started", slog.String("job_id", "job-1"))

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))

				assert.Equal(t, "DEBUG", logEntry["level"])
				assert.Equal(t, "Probe started", logEntry["msg"])
				assert.Equal(t, "job-1", logEntry["job_id"])
				assert.Contains(t, logEntry, "time")
			},
		},
		{
			name:   "json format drops records below warn",
			config: &Config{Level: "warn", Format: "json"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("info message")
				logger.Warn("Slot unavailable", slog.String("domain", "example.com"))

				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				assert.Len(t, lines, 1)

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal([]byte(lines[0]), &logEntry))
				assert.Equal(t, "WARN", logEntry["level"])
				assert.Equal(t, "example.com", logEntry["domain"])
			},
		},
		{
			name:   "console format",
			config: &Config{Level: "info", Format: "console", NoColor: true, TimeFormat: time.Kitchen},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("console test")

				// tint abbreviates levels
				assert.Contains(t, output.String(), "INF")
				assert.Contains(t, output.String(), "console test")
			},
		},
		{
			name:   "unknown format falls back to json",
			config: &Config{Level: "info", Format: "xml"},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("fallback")

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))
				assert.Equal(t, "fallback", logEntry["msg"])
			},
		},
		{
			name:   "with source location enabled",
			config: &Config{Level: "info", Format: "json", EnableSource: true},
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("message with source")

				var logEntry map[string]interface{}
				require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))

				source, ok := logEntry["source"].(map[string]interface{})
				require.True(t, ok)
				assert.Contains(t, source, "file")
				assert.Contains(t, source, "line")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}

			cfg := *tt.config
			cfg.writer = output

			logger, err := New(&cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			tt.checkFunc(t, logger, output)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNew_FileOutputError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "worker.log")

	logger, err := New(&Config{Output: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
	assert.Nil(t, logger)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		{level: "DEBUG", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_Derived(t *testing.T) {
	output := &bytes.Buffer{}

	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	t.Run("component", func(t *testing.T) {
		output.Reset()
		logger.Component("dispatcher").Info("Listening")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))
		assert.Equal(t, "dispatcher", logEntry["component"])
	})

	t.Run("group", func(t *testing.T) {
		output.Reset()
		logger.WithGroup("smtp").Info("Reply", slog.Int("code", 550))

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))
		group, ok := logEntry["smtp"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(550), group["code"])
	})

	t.Run("attrs", func(t *testing.T) {
		output.Reset()
		logger.WithAttrs(
			slog.String("ip", "10.0.0.1"),
			slog.String("topic", "custom-verification-requested"),
		).Info("Worker ready")

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))
		assert.Equal(t, "10.0.0.1", logEntry["ip"])
		assert.Equal(t, "custom-verification-requested", logEntry["topic"])
	})
}
