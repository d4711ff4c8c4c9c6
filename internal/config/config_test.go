package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "sensor-qc.db", cfg.DatabasePath)
	assert.Empty(t, cfg.ParamsFile)
	assert.Equal(t, 90*24*time.Hour, cfg.QCWindow)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "sensor-qc-runs", cfg.KafkaTopic)
	assert.Equal(t, "tokens.json", cfg.NetatmoTokenFile)
	assert.Equal(t, 30*time.Second, cfg.NetatmoTimeout)
	assert.Equal(t, 465*24*time.Hour, cfg.FetchLookback)
	assert.Equal(t, "fetch-checkpoint.json", cfg.CheckpointFile)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("DATABASE_PATH", "/data/qc.db")
	t.Setenv("QC_WINDOW", "720h")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "qc-events")
	t.Setenv("NETATMO_CLIENT_ID", "app-id")
	t.Setenv("FETCH_LOOKBACK", "240h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/data/qc.db", cfg.DatabasePath)
	assert.Equal(t, 720*time.Hour, cfg.QCWindow)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "qc-events", cfg.KafkaTopic)
	assert.Equal(t, "app-id", cfg.NetatmoClientID)
	assert.Equal(t, 240*time.Hour, cfg.FetchLookback)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("QC_WINDOW", "not-a-duration")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_KafkaEnabledNeedsBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParams_Defaults(t *testing.T) {
	params, err := LoadParams("")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, params.Buddy.Radius)
	assert.Equal(t, 0.8, params.Completeness.MinCompleteness)
}

func TestLoadParams_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"buddy": {
			"radius": 8000,
			"num_min": 4,
			"threshold": 2.5,
			"max_elev_diff": 400,
			"elev_gradient": -0.0065,
			"min_std": 0.1,
			"num_iterations": 2
		}
	}`), 0o644))

	params, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, 8000.0, params.Buddy.Radius)
	assert.Equal(t, 4, params.Buddy.NumMin)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2000.0, params.STCT.InnerRadius)
}

func TestLoadParams_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"buddy": {"radius": -1}}`), 0o644))
	_, err := LoadParams(path)
	assert.Error(t, err)
}
