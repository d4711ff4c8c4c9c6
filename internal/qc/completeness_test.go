package qc_test

import (
	"testing"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/qc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completenessCfg() qc.CompletenessConfig {
	return qc.CompletenessConfig{
		MinCompleteness:    0.8,
		ExpectedDailyObs:   24,
		MinMonthlySpanDays: 30,
	}
}

// A station with 10 of 24 valid hours in a day is below the 0.8 threshold,
// so the day is rejected whole: the 10 good hours go with it.
func TestCompleteness_SparseDayRejectedWhole(t *testing.T) {
	times := hourly(testBase, 24)
	grid := domain.NewGrid(24, 2)
	for h := 0; h < 24; h++ {
		grid.Set(h, 0, 5.0)
		if h < 10 {
			grid.Set(h, 1, 5.0)
		}
	}
	mask := domain.NewMask(24, 2, true)

	out, stats := qc.FilterByCompleteness(grid, mask, times, completenessCfg())

	for h := 0; h < 24; h++ {
		assert.True(t, out.At(h, 0))
		assert.False(t, out.At(h, 1))
	}
	assert.Equal(t, 1, stats.DaysFlagged)
	assert.Equal(t, 1, stats.StationsWithFlaggedDays)
	assert.Equal(t, 0, stats.MonthsFlagged)
}

func TestCompleteness_FullDayNeverFlagged(t *testing.T) {
	times := hourly(testBase, 48)
	grid := constGrid(48, 3, 5)
	mask := domain.NewMask(48, 3, true)

	out, stats := qc.FilterByCompleteness(grid, mask, times, completenessCfg())
	assert.Equal(t, 48*3, out.CountTrue())
	assert.Equal(t, 0, stats.DaysFlagged)
}

func TestCompleteness_EmptyTimeAxis(t *testing.T) {
	grid := domain.NewGrid(0, 3)
	mask := domain.NewMask(0, 3, true)

	out, stats := qc.FilterByCompleteness(grid, mask, nil, completenessCfg())
	assert.Equal(t, 0, out.CountTrue())
	assert.Equal(t, 0, stats.DaysFlagged)
	assert.Equal(t, 0, stats.MonthsFlagged)
}

// Earlier rejections count against completeness: a full day of readings of
// which most were masked upstream fails the density check too.
func TestCompleteness_CountsAgainstCurrentMask(t *testing.T) {
	times := hourly(testBase, 24)
	grid := constGrid(24, 1, 5)
	mask := domain.NewMask(24, 1, true)
	for h := 0; h < 10; h++ {
		mask.Set(h, 0, false)
	}

	// 14/24 kept = 0.58, below 0.8.
	out, stats := qc.FilterByCompleteness(grid, mask, times, completenessCfg())
	assert.Equal(t, 0, out.CountTrue())
	assert.Equal(t, 1, stats.DaysFlagged)
}

func TestCompleteness_ShortSpanSkipsMonthly(t *testing.T) {
	// Five fully-observed days: the daily pass keeps everything, and the
	// span is far too short for the monthly pass to run at all. Were it to
	// run, 5 valid days out of 31 would reject the whole month.
	times := hourly(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), 5*24)
	grid := constGrid(5*24, 1, 5)
	mask := domain.NewMask(5*24, 1, true)

	out, stats := qc.FilterByCompleteness(grid, mask, times, completenessCfg())
	assert.Equal(t, 5*24, out.CountTrue())
	assert.Equal(t, 0, stats.MonthsFlagged)
}

func TestCompleteness_SparseMonthRejectedWhole(t *testing.T) {
	// All of January. Station 0 reports every hour; station 1 goes silent
	// after January 20th, leaving 20 valid days of 31 (0.65 < 0.8), so its
	// whole January is dropped.
	jan := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	n := 31 * 24
	times := hourly(jan, n)
	grid := domain.NewGrid(n, 2)
	cutoff := time.Date(2025, time.January, 21, 0, 0, 0, 0, time.UTC)
	for i, instant := range times {
		grid.Set(i, 0, 5.0)
		if instant.Before(cutoff) {
			grid.Set(i, 1, 5.0)
		}
	}
	mask := domain.NewMask(n, 2, true)

	out, stats := qc.FilterByCompleteness(grid, mask, times, completenessCfg())

	assert.Equal(t, 1, stats.MonthsFlagged)
	assert.Equal(t, 1, stats.StationsWithFlaggedMonths)
	for i, instant := range times {
		if instant.Month() == time.January {
			assert.False(t, out.At(i, 1), "hour %s survived a rejected month", instant)
		}
		assert.True(t, out.At(i, 0))
	}
}

// The monthly pass sees the daily-updated mask: days that were individually
// rejected for sparseness no longer count toward monthly coverage.
func TestCompleteness_MonthlyRunsOnDailyResult(t *testing.T) {
	jan := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	n := 31 * 24
	times := hourly(jan, n)
	grid := domain.NewGrid(n, 1)
	for i, instant := range times {
		// 12 of 24 hours on seven of the days, full coverage otherwise.
		if instant.Day() <= 7 && instant.Hour() >= 12 {
			continue
		}
		grid.Set(i, 0, 5.0)
	}
	mask := domain.NewMask(n, 1, true)

	// Daily rejects days 1-7 (12/24 < 0.8); monthly then sees 24/31 valid
	// days (0.77 < 0.8) and rejects January outright.
	out, stats := qc.FilterByCompleteness(grid, mask, times, completenessCfg())
	assert.Equal(t, 7, stats.DaysFlagged)
	assert.Equal(t, 1, stats.MonthsFlagged)
	assert.Equal(t, 0, out.CountTrue())
}

func TestCompleteness_NeverResurrects(t *testing.T) {
	times := hourly(testBase, 48)
	grid := constGrid(48, 2, 5)
	mask := domain.NewMask(48, 2, true)
	mask.Set(3, 0, false)

	out, _ := qc.FilterByCompleteness(grid, mask, times, completenessCfg())
	require.True(t, out.Narrower(mask))
	assert.False(t, out.At(3, 0))
}

func TestCompletenessConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*qc.CompletenessConfig)
	}{
		{"fraction above one", func(c *qc.CompletenessConfig) { c.MinCompleteness = 1.5 }},
		{"negative fraction", func(c *qc.CompletenessConfig) { c.MinCompleteness = -0.1 }},
		{"zero expected obs", func(c *qc.CompletenessConfig) { c.ExpectedDailyObs = 0 }},
		{"negative span", func(c *qc.CompletenessConfig) { c.MinMonthlySpanDays = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := completenessCfg()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
