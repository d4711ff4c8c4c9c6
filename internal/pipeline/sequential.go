package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/observability"
	"github.com/couchcryptid/sensor-qc-service/internal/qc"
)

// Pipeline runs the sequential QC chain over a dataset: seasonal
// thresholds, buddy check and spatial-temporal consistency, each followed
// by a completeness re-evaluation. Every level narrows the retained-mask of
// its predecessor; a value rejected once never comes back.
type Pipeline struct {
	params  qc.Params
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New validates the parameters and assembles a Pipeline.
func New(params qc.Params, logger *slog.Logger, metrics *observability.Metrics) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline params: %w", err)
	}
	return &Pipeline{params: params, logger: logger, metrics: metrics}, nil
}

// LevelError attributes a run failure to the level that raised it.
type LevelError struct {
	Level domain.Level
	Err   error
}

func (e *LevelError) Error() string { return fmt.Sprintf("level %s: %v", e.Level, e.Err) }
func (e *LevelError) Unwrap() error { return e.Err }

// CheckReadiness returns nil once the pipeline has completed at least one
// run, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Run executes the full chain over the dataset and returns the per-level
// snapshots and the summary. The dataset is not modified. On failure the
// partial state is discarded; levels are all-or-nothing.
func (p *Pipeline) Run(ctx context.Context, ds *domain.Dataset) (*Result, error) {
	start := time.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	p.logger.Info("qc run started",
		"stations", len(ds.Stations),
		"timesteps", len(ds.Times),
		"span", ds.Span().String(),
	)

	res, err := p.run(ctx, ds)
	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("error").Inc()
		p.logger.Error("qc run failed", "error", err)
		return nil, err
	}

	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.ready.Store(true)

	final := res.Final()
	p.logger.Info("qc run finished",
		"duration", time.Since(start).String(),
		"total_values", res.Summary.TotalValues,
		"valid_values", final.Stats.ValidValues,
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, ds *domain.Dataset) (*Result, error) {
	startedAt := domain.Now()

	buddy, err := qc.NewBuddyCheck(p.params.Buddy, ds.Stations)
	if err != nil {
		return nil, &LevelError{domain.LevelBuddy, err}
	}
	stct, err := qc.NewConsistencyTest(p.params.STCT, ds.Stations)
	if err != nil {
		return nil, &LevelError{domain.LevelSTCT, err}
	}

	res := &Result{
		Stations:  ds.Stations,
		Times:     ds.Times,
		StartedAt: startedAt,
		Summary:   domain.Summary{TotalValues: ds.Temperature.Size()},
	}

	// Level 0: merged input. Missing readings carry a rejected flag from
	// the start so every later level counts against actual observations.
	mask := presenceMask(ds.Temperature)
	res.record(domain.LevelRaw, ds.Temperature, mask, nil)

	for _, lvl := range domain.Levels()[1:] {
		if err := ctx.Err(); err != nil {
			return nil, &LevelError{lvl, err}
		}
		levelStart := time.Now()

		var completeness *domain.CompletenessStats
		switch lvl {
		case domain.LevelSeasonal:
			retained := qc.CheckSeasonalThresholds(ds.Temperature, ds.Times, p.params.Seasonal)
			mask = mask.Clone().Intersect(retained)

		case domain.LevelBuddy:
			suspects, err := buddy.Run(ctx, applyMask(ds.Temperature, mask))
			if err != nil {
				return nil, &LevelError{lvl, err}
			}
			mask = mask.Clone().Exclude(suspects)

		case domain.LevelSTCT:
			spatial, temporal, err := stct.Run(ctx, applyMask(ds.Temperature, mask))
			if err != nil {
				return nil, &LevelError{lvl, err}
			}
			res.Summary.SpatialFlags = overlap(mask, spatial)
			res.Summary.TemporalFlags = overlap(mask, temporal)
			mask = mask.Clone().Exclude(spatial).Exclude(temporal)

		case domain.LevelCompletenessSeasonal, domain.LevelCompletenessBuddy, domain.LevelCompletenessSTCT:
			narrowed, stats := qc.FilterByCompleteness(ds.Temperature, mask, ds.Times, p.params.Completeness)
			mask = narrowed
			completeness = &stats

		default:
			return nil, &LevelError{lvl, fmt.Errorf("no handler for level %d", int(lvl))}
		}

		stats := res.record(lvl, ds.Temperature, mask, completeness)
		p.observeLevel(lvl, stats, time.Since(levelStart))
	}

	res.finish()
	return res, nil
}

// observeLevel emits the per-level metrics and log line.
func (p *Pipeline) observeLevel(lvl domain.Level, stats domain.LevelStats, elapsed time.Duration) {
	name := lvl.String()
	p.metrics.LevelDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	p.metrics.ValuesFlagged.WithLabelValues(name).Add(float64(stats.Removed))
	p.metrics.LevelValidValues.WithLabelValues(name).Set(float64(stats.ValidValues))

	p.logger.Info("level complete",
		"level", name,
		"valid", stats.ValidValues,
		"removed", stats.Removed,
		"duration", elapsed.String(),
	)
}

// presenceMask marks every non-missing cell retained.
func presenceMask(grid domain.Grid) domain.Mask {
	mask := domain.NewMask(grid.Times(), grid.Stations(), false)
	for t := 0; t < grid.Times(); t++ {
		row := grid.Row(t)
		out := mask.Row(t)
		for s, v := range row {
			out[s] = !math.IsNaN(v)
		}
	}
	return mask
}

// applyMask materializes a level's working grid: a copy of the input with
// every rejected cell set to NaN.
func applyMask(grid domain.Grid, mask domain.Mask) domain.Grid {
	out := grid.Clone()
	for t := 0; t < out.Times(); t++ {
		row := out.Row(t)
		flags := mask.Row(t)
		for s := range row {
			if !flags[s] {
				row[s] = math.NaN()
			}
		}
	}
	return out
}

// overlap counts cells that mask retains and suspects marks, i.e. the
// values a check newly condemned.
func overlap(mask, suspects domain.Mask) int {
	n := 0
	for t := 0; t < mask.Times(); t++ {
		kept := mask.Row(t)
		sus := suspects.Row(t)
		for s := range kept {
			if kept[s] && sus[s] {
				n++
			}
		}
	}
	return n
}
