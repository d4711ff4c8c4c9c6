package qc

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

// TemporalOverlayConfig parameterizes the long-term temporal check applied
// on top of a finished QC run.
type TemporalOverlayConfig struct {
	// WindowSize is the centered moving-window width in hours.
	WindowSize int `json:"window_size"`
	// SeasonalWindow widens each day-of-year climatology bucket by this
	// many hours on either side.
	SeasonalWindow int `json:"seasonal_window"`
	// ZScoreThreshold flags values whose absolute z-score against either
	// reference exceeds it.
	ZScoreThreshold float64 `json:"z_score_threshold"`
	// MinSamples is the minimum number of timesteps a window or bucket
	// must cover before it can render a verdict.
	MinSamples int `json:"min_samples"`
}

func (c TemporalOverlayConfig) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("temporal overlay: window_size must be at least 1, got %d", c.WindowSize)
	}
	if c.SeasonalWindow < 1 {
		return fmt.Errorf("temporal overlay: seasonal_window must be at least 1, got %d", c.SeasonalWindow)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("temporal overlay: z_score_threshold must be positive, got %g", c.ZScoreThreshold)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("temporal overlay: min_samples must be at least 1, got %d", c.MinSamples)
	}
	return nil
}

// DefaultOverlayConfig returns the operational overlay defaults: a 30-day
// moving window, a ±15-day climatology bucket, and a 30-day sample floor.
func DefaultOverlayConfig() TemporalOverlayConfig {
	return TemporalOverlayConfig{
		WindowSize:      30 * 24,
		SeasonalWindow:  15 * 24,
		ZScoreThreshold: 3,
		MinSamples:      720,
	}
}

// LongTermTemporalCheck flags values anomalous against a station's own
// history, two ways: a z-score over a centered moving window, and a
// z-score against a day-of-year climatology built from the station's full
// series. Stations are independent, so they fan out to workers. It runs
// on the terminal level of a finished pipeline, not inside the chain.
type LongTermTemporalCheck struct {
	cfg TemporalOverlayConfig
}

// NewLongTermTemporalCheck validates the config.
func NewLongTermTemporalCheck(cfg TemporalOverlayConfig) (*LongTermTemporalCheck, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LongTermTemporalCheck{cfg: cfg}, nil
}

// Run returns a suspect-mask (true = anomalous) for the given grid. Windows
// and buckets below MinSamples timesteps render no verdict, so short series
// pass untouched. Missing values are never flagged. times must be ascending
// and match the grid's time axis.
func (c *LongTermTemporalCheck) Run(ctx context.Context, grid domain.Grid, times []time.Time) (domain.Mask, error) {
	if len(times) != grid.Times() {
		return domain.Mask{}, fmt.Errorf("temporal overlay: %d timestamps for %d grid rows", len(times), grid.Times())
	}
	suspects := domain.NewMask(grid.Times(), grid.Stations(), false)

	doys := make([]int, len(times))
	for i, ts := range times {
		doys[i] = ts.UTC().YearDay()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for s := 0; s < grid.Stations(); s++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			series := make([]float64, grid.Times())
			for t := range series {
				series[t] = grid.At(t, s)
			}
			flags := make([]bool, len(series))
			c.movingWindowPass(series, times, flags)
			c.seasonalPass(series, doys, flags)
			for t, bad := range flags {
				if bad {
					suspects.Set(t, s, true)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Mask{}, fmt.Errorf("temporal overlay: %w", err)
	}
	return suspects, nil
}

// seriesStats accumulates mean/std over the non-missing part of a window.
type seriesStats struct {
	count int
	sum   float64
	sumSq float64
}

func (st *seriesStats) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	st.count++
	st.sum += v
	st.sumSq += v * v
}

// zScore returns the population z-score of v, and false when the window
// holds no usable values or has zero variance.
func (st *seriesStats) zScore(v float64) (float64, bool) {
	if st.count == 0 {
		return 0, false
	}
	mean := st.sum / float64(st.count)
	variance := st.sumSq/float64(st.count) - mean*mean
	if variance <= 0 {
		return 0, false
	}
	return (v - mean) / math.Sqrt(variance), true
}

// movingWindowPass flags values whose z-score within a centered WindowSize
// window exceeds the threshold. The window spans timestamps, not indices,
// so gaps in the series shrink its population and the MinSamples gate
// rather than its reach.
func (c *LongTermTemporalCheck) movingWindowPass(series []float64, times []time.Time, flags []bool) {
	half := time.Duration(c.cfg.WindowSize) * time.Hour / 2
	lo, hi := 0, 0

	for i, v := range series {
		if math.IsNaN(v) {
			continue
		}
		for lo < len(times) && times[lo].Before(times[i].Add(-half)) {
			lo++
		}
		for hi < len(times) && !times[hi].After(times[i].Add(half)) {
			hi++
		}
		if hi-lo < c.cfg.MinSamples {
			continue
		}

		var st seriesStats
		for j := lo; j < hi; j++ {
			st.add(series[j])
		}
		if z, ok := st.zScore(v); ok && math.Abs(z) > c.cfg.ZScoreThreshold {
			flags[i] = true
		}
	}
}

// seasonalPass flags values anomalous against the station's day-of-year
// climatology: each bucket pools all timesteps whose day of year lies
// within SeasonalWindow (converted to days) of the target, wrapping at the
// year boundary.
func (c *LongTermTemporalCheck) seasonalPass(series []float64, doys []int, flags []bool) {
	windowDays := float64(c.cfg.SeasonalWindow) / 24

	type bucket struct {
		stats    seriesStats
		covered  int
		hasStats bool
	}
	buckets := make(map[int]*bucket)

	for _, d := range doys {
		if _, ok := buckets[d]; ok {
			continue
		}
		b := &bucket{}
		for j, v := range series {
			if doyDistance(doys[j], d) > windowDays {
				continue
			}
			b.covered++
			b.stats.add(v)
		}
		b.hasStats = b.covered >= c.cfg.MinSamples
		buckets[d] = b
	}

	for i, v := range series {
		if math.IsNaN(v) {
			continue
		}
		b := buckets[doys[i]]
		if !b.hasStats {
			continue
		}
		if z, ok := b.stats.zScore(v); ok && math.Abs(z) > c.cfg.ZScoreThreshold {
			flags[i] = true
		}
	}
}

// doyDistance is the circular day-of-year distance on a 366-day year.
func doyDistance(a, b int) float64 {
	d := math.Abs(float64(a - b))
	return math.Min(d, 366-d)
}
