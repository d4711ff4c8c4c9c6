package qc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/qc"
)

func overlayCfg() qc.TemporalOverlayConfig {
	return qc.TemporalOverlayConfig{
		WindowSize:      4,
		SeasonalWindow:  15 * 24,
		ZScoreThreshold: 1.5,
		MinSamples:      5,
	}
}

// singleSeries builds a one-station grid from a value series.
func singleSeries(values []float64) domain.Grid {
	g := domain.NewGrid(len(values), 1)
	for t, v := range values {
		g.Set(t, 0, v)
	}
	return g
}

func TestOverlay_MovingWindowFlagsSpike(t *testing.T) {
	values := make([]float64, 24)
	for i := range values {
		values[i] = 10
	}
	values[12] = 40

	check, err := qc.NewLongTermTemporalCheck(overlayCfg())
	require.NoError(t, err)

	suspects, err := check.Run(context.Background(), singleSeries(values), hourly(testBase, 24))
	require.NoError(t, err)

	assert.True(t, suspects.At(12, 0), "spike must be flagged")
	assert.Equal(t, 1, suspects.CountTrue(), "steady values around the spike must survive")
}

func TestOverlay_MinSamplesGateSuppressesVerdicts(t *testing.T) {
	values := make([]float64, 24)
	for i := range values {
		values[i] = 10
	}
	values[12] = 40

	cfg := overlayCfg()
	cfg.MinSamples = 100
	check, err := qc.NewLongTermTemporalCheck(cfg)
	require.NoError(t, err)

	suspects, err := check.Run(context.Background(), singleSeries(values), hourly(testBase, 24))
	require.NoError(t, err)
	assert.Equal(t, 0, suspects.CountTrue())
}

func TestOverlay_MissingValuesNeverFlagged(t *testing.T) {
	values := make([]float64, 24)
	for i := range values {
		values[i] = 10
	}
	values[6] = nan
	values[12] = 40
	values[18] = nan

	check, err := qc.NewLongTermTemporalCheck(overlayCfg())
	require.NoError(t, err)

	suspects, err := check.Run(context.Background(), singleSeries(values), hourly(testBase, 24))
	require.NoError(t, err)

	assert.False(t, suspects.At(6, 0))
	assert.False(t, suspects.At(18, 0))
	assert.True(t, suspects.At(12, 0))
}

func TestOverlay_QuietSeriesPassesUntouched(t *testing.T) {
	check, err := qc.NewLongTermTemporalCheck(overlayCfg())
	require.NoError(t, err)

	suspects, err := check.Run(context.Background(), constGrid(24, 3, 12.5), hourly(testBase, 24))
	require.NoError(t, err)
	assert.Equal(t, 0, suspects.CountTrue())
}

func TestOverlay_SeasonalClimatologyFlagsOffSeasonValue(t *testing.T) {
	// Yearly samples: the moving window never reaches MinSamples, so any
	// verdict comes from the day-of-year climatology alone.
	times := make([]time.Time, 6)
	values := make([]float64, 6)
	for i := range times {
		times[i] = time.Date(2020+i, time.January, 15, 12, 0, 0, 0, time.UTC)
		values[i] = 10
	}
	values[5] = 40

	cfg := overlayCfg()
	cfg.SeasonalWindow = 24
	check, err := qc.NewLongTermTemporalCheck(cfg)
	require.NoError(t, err)

	suspects, err := check.Run(context.Background(), singleSeries(values), times)
	require.NoError(t, err)

	assert.True(t, suspects.At(5, 0), "value far from its day-of-year history must be flagged")
	assert.Equal(t, 1, suspects.CountTrue())
}

func TestOverlay_TimeAxisMismatch(t *testing.T) {
	check, err := qc.NewLongTermTemporalCheck(overlayCfg())
	require.NoError(t, err)

	_, err = check.Run(context.Background(), constGrid(24, 1, 10), hourly(testBase, 23))
	assert.Error(t, err)
}

func TestTemporalOverlayConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*qc.TemporalOverlayConfig)
	}{
		{"zero window_size", func(c *qc.TemporalOverlayConfig) { c.WindowSize = 0 }},
		{"zero seasonal_window", func(c *qc.TemporalOverlayConfig) { c.SeasonalWindow = 0 }},
		{"zero z_score_threshold", func(c *qc.TemporalOverlayConfig) { c.ZScoreThreshold = 0 }},
		{"zero min_samples", func(c *qc.TemporalOverlayConfig) { c.MinSamples = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := qc.DefaultOverlayConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, qc.DefaultOverlayConfig().Validate())
}
