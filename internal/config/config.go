package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/qc"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabasePath string
	ParamsFile   string
	QCWindow     time.Duration // how far back a run's dataset reaches

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Netatmo fetching configuration.
	NetatmoClientID     string
	NetatmoClientSecret string
	NetatmoTokenFile    string
	NetatmoTimeout      time.Duration
	StationsFile        string
	FetchLookback       time.Duration
	CheckpointFile      string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	qcWindow, err := envDuration("QC_WINDOW", 90*24*time.Hour)
	if err != nil {
		return nil, err
	}
	netatmoTimeout, err := envDuration("NETATMO_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	// The upstream archive holds roughly fifteen months of hourly data.
	fetchLookback, err := envDuration("FETCH_LOOKBACK", 465*24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabasePath: envOrDefault("DATABASE_PATH", "sensor-qc.db"),
		ParamsFile:   os.Getenv("QC_PARAMS_FILE"),
		QCWindow:     qcWindow,

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: splitBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "sensor-qc-runs"),

		NetatmoClientID:     os.Getenv("NETATMO_CLIENT_ID"),
		NetatmoClientSecret: os.Getenv("NETATMO_CLIENT_SECRET"),
		NetatmoTokenFile:    envOrDefault("NETATMO_TOKEN_FILE", "tokens.json"),
		NetatmoTimeout:      netatmoTimeout,
		StationsFile:        envOrDefault("STATIONS_FILE", "stations.json"),
		FetchLookback:       fetchLookback,
		CheckpointFile:      envOrDefault("FETCH_CHECKPOINT_FILE", "fetch-checkpoint.json"),
	}

	if cfg.DatabasePath == "" {
		return nil, errors.New("DATABASE_PATH is required")
	}
	if cfg.QCWindow <= 0 {
		return nil, errors.New("QC_WINDOW must be positive")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
		}
	}

	return cfg, nil
}

// LoadParams returns the QC parameters: the operational defaults, with the
// JSON file at path layered on top when one is configured.
func LoadParams(path string) (qc.Params, error) {
	params := qc.DefaultParams()
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return qc.Params{}, fmt.Errorf("read params file %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return qc.Params{}, fmt.Errorf("decode params file %q: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return qc.Params{}, fmt.Errorf("params file %q: %w", path, err)
	}
	return params, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
