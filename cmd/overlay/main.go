// Command overlay applies the long-term temporal check to a stored QC run:
// a moving-window z-score plus a day-of-year climatology, both computed per
// station against its own history. It reads the run's terminal level, flags
// anomalous values, and stores the overlaid grid alongside the run.
//
// Usage:
//
//	go run ./cmd/overlay -db sensor-qc.db -run 3
//
// With -run 0 (the default) the most recent run is overlaid.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/couchcryptid/sensor-qc-service/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-qc-service/internal/qc"
)

func main() {
	dbPath := flag.String("db", "sensor-qc.db", "path to the SQLite store")
	runID := flag.Int64("run", 0, "run ID to overlay (0 = latest)")
	cfg := qc.DefaultOverlayConfig()
	flag.IntVar(&cfg.WindowSize, "window-hours", cfg.WindowSize, "moving-window width in hours")
	flag.IntVar(&cfg.SeasonalWindow, "seasonal-window-hours", cfg.SeasonalWindow, "day-of-year climatology half-width in hours")
	flag.Float64Var(&cfg.ZScoreThreshold, "z-threshold", cfg.ZScoreThreshold, "absolute z-score above which a value is flagged")
	flag.IntVar(&cfg.MinSamples, "min-samples", cfg.MinSamples, "minimum timesteps a window needs to render a verdict")
	flag.Parse()

	if code := run(*dbPath, *runID, cfg); code != 0 {
		os.Exit(code)
	}
}

func run(dbPath string, runID int64, cfg qc.TemporalOverlayConfig) int {
	ctx := context.Background()

	check, err := qc.NewLongTermTemporalCheck(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	if runID == 0 {
		latest, ok, err := store.LatestRunSummary(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: find latest run: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "FATAL: store has no runs")
			return 1
		}
		runID = latest.RunID
	}

	res, err := store.LoadResult(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load run %d: %v\n", runID, err)
		return 1
	}

	final := res.Final()
	suspects, err := check.Run(ctx, final.Grid, res.Times)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: long-term temporal check: %v\n", err)
		return 1
	}

	mask := final.Mask.Exclude(suspects)
	grid := final.Grid.Clone()
	for t := 0; t < grid.Times(); t++ {
		for s := 0; s < grid.Stations(); s++ {
			if !mask.At(t, s) {
				grid.Set(t, s, math.NaN())
			}
		}
	}

	valid := mask.CountTrue()
	removed := final.Mask.CountTrue() - valid
	rec := sqlite.OverlayRecord{
		RunID:       runID,
		Grid:        grid,
		Mask:        mask,
		ValidValues: valid,
		Removed:     removed,
	}
	if err := store.SaveOverlay(ctx, rec); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	fmt.Printf("=== Long-Term Temporal Overlay (run %d) ===\n\n", runID)
	fmt.Printf("Stations: %d, timesteps: %d\n", len(res.Stations), len(res.Times))
	fmt.Printf("Window: %dh moving, %dh seasonal, |z| > %g, min samples %d\n",
		cfg.WindowSize, cfg.SeasonalWindow, cfg.ZScoreThreshold, cfg.MinSamples)
	fmt.Printf("Values entering overlay: %d\n", final.Mask.CountTrue())
	fmt.Printf("Flagged as anomalous:    %d\n", removed)
	fmt.Printf("Values remaining:        %d\n", valid)
	return 0
}
