// Command qc loads the most recent observation window from the store, runs
// the quality-control chain over it, persists the per-level results, and
// optionally publishes a run summary to Kafka. It serves health, readiness,
// and metrics endpoints while running.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/sensor-qc-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sensor-qc-service/internal/adapter/kafka"
	"github.com/couchcryptid/sensor-qc-service/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-qc-service/internal/config"
	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/observability"
	"github.com/couchcryptid/sensor-qc-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	metrics := observability.NewMetrics()

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		logger.Error("failed to load qc parameters", "path", cfg.ParamsFile, "error", err)
		os.Exit(1)
	}

	pipe, err := pipeline.New(params, logger, metrics)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, pipe, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run QC once; the process stays up afterwards to serve results and
	// metrics until it is signalled.
	go func() {
		if err := runQC(ctx, cfg, store, pipe, publisher, metrics, logger); err != nil {
			logger.Error("qc run failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func runQC(ctx context.Context, cfg *config.Config, store *sqlite.Store, pipe *pipeline.Pipeline, publisher *kafkaadapter.Publisher, metrics *observability.Metrics, logger *slog.Logger) error {
	to := domain.Now()
	from := to.Add(-cfg.QCWindow)

	ds, err := store.LoadDataset(ctx, from, to)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded",
		"from", from, "to", to,
		"stations", len(ds.Stations), "timesteps", len(ds.Times))

	res, err := pipe.Run(ctx, ds)
	if err != nil {
		return err
	}

	runID, err := store.SaveResult(ctx, res)
	if err != nil {
		return err
	}
	logger.Info("run persisted", "run_id", runID)

	if publisher != nil {
		event := domain.RunSummaryEvent{
			RunID:      runID,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
			Stations:   len(res.Stations),
			Timesteps:  len(res.Times),
			Summary:    res.Summary,
		}
		if err := publisher.PublishSummary(ctx, event); err != nil {
			return err
		}
		metrics.SummariesPublished.Inc()
	}
	return nil
}
