package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/config"
)

func appConfig(format, level string) *config.AppConfig {
	return &config.AppConfig{
		Name:        "payroll-engine",
		Version:     "1.2.3",
		Environment: config.EnvironmentProduction,
		LogLevel:    level,
		LogFormat:   format,
	}
}

func TestNewWithWriter_JSONCarriesIdentity(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(appConfig("json", "info"), &buf)

	log.Info("run finished", slog.String("run_id", "r-1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run finished", entry["msg"])
	assert.Equal(t, "payroll-engine", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "production", entry["env"])
	assert.Equal(t, "r-1", entry["run_id"])
	assert.NotContains(t, entry, "source")
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(appConfig("text", "warn"), &buf)

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "msg=shown"), out)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestNewWithWriter_PanicsOnNilConfig(t *testing.T) {
	assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
}
