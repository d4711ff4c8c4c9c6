// Command fetch pulls hourly temperature readings from the Netatmo API into
// the local store. The API's hourly request budget usually cannot cover a
// full backfill in one invocation, so the command checkpoints its position
// and resumes from the checkpoint on the next run.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/sensor-qc-service/internal/adapter/netatmo"
	"github.com/couchcryptid/sensor-qc-service/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-qc-service/internal/config"
	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fetch failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	metrics := observability.NewMetrics()

	sources, err := netatmo.LoadSources(cfg.StationsFile)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stations := make([]domain.Station, len(sources))
	for i, src := range sources {
		stations[i] = src.Station
	}
	if err := store.UpsertStations(ctx, stations); err != nil {
		return err
	}

	cp, err := netatmo.LoadCheckpoint(cfg.CheckpointFile)
	if err != nil {
		return err
	}

	now := domain.Now()
	if cp != nil && now.Before(cp.ResumeAfter) {
		logger.Info("request budget not yet replenished, try again later",
			"resume_after", cp.ResumeAfter)
		return nil
	}

	from := now.Add(-cfg.FetchLookback)
	to := now

	client := netatmo.NewClient(netatmo.Config{
		ClientID:     cfg.NetatmoClientID,
		ClientSecret: cfg.NetatmoClientSecret,
		Timeout:      cfg.NetatmoTimeout,
	}, &netatmo.FileTokenStore{Path: cfg.NetatmoTokenFile}, logger)

	fetcher := netatmo.NewFetcher(client, store, metrics, logger)

	logger.Info("fetch starting",
		"stations", len(sources), "from", from, "to", to, "resuming", cp != nil)

	next, err := fetcher.Run(ctx, sources, from, to, cp)
	if err != nil {
		return err
	}

	if err := netatmo.SaveCheckpoint(cfg.CheckpointFile, next); err != nil {
		return err
	}

	if next != nil {
		logger.Info("fetch paused on request budget",
			"next_station", next.NextStation, "resume_after", next.ResumeAfter)
	} else {
		logger.Info("fetch complete")
	}
	return nil
}
