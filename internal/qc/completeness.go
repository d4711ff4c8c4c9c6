package qc

import (
	"math"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

// dayKey identifies a UTC calendar day.
type dayKey struct {
	year  int
	month time.Month
	day   int
}

// monthKey identifies a UTC calendar month.
type monthKey struct {
	year  int
	month time.Month
}

// FilterByCompleteness re-evaluates observation density against the current
// mask and returns a narrowed copy plus the bookkeeping record.
//
// Daily: for each station-day, valid observations over the fixed hourly
// expectation; below threshold the entire station-day is rejected,
// including values every earlier check accepted.
//
// Monthly: runs only when the dataset spans at least MinMonthlySpanDays;
// shorter extracts cannot say anything meaningful about monthly coverage,
// so the check is skipped. A day counts as valid
// when it kept at least one observation after the daily pass; a
// station-month below threshold is rejected whole.
//
// The returned mask never resurrects a rejected value.
func FilterByCompleteness(grid domain.Grid, mask domain.Mask, times []time.Time, cfg CompletenessConfig) (domain.Mask, domain.CompletenessStats) {
	out := mask.Clone()
	var stats domain.CompletenessStats
	if len(times) == 0 {
		return out, stats
	}

	dayTimesteps := groupTimesteps(times, func(t time.Time) dayKey {
		return dayKey{t.Year(), t.Month(), t.Day()}
	})
	stationsWithDays := make(map[int]struct{})
	for _, steps := range dayTimesteps {
		for s := 0; s < grid.Stations(); s++ {
			valid := 0
			for _, t := range steps {
				if out.At(t, s) && !math.IsNaN(grid.At(t, s)) {
					valid++
				}
			}
			if float64(valid)/float64(cfg.ExpectedDailyObs) < cfg.MinCompleteness {
				for _, t := range steps {
					out.Set(t, s, false)
				}
				stats.DaysFlagged++
				stationsWithDays[s] = struct{}{}
			}
		}
	}
	stats.StationsWithFlaggedDays = len(stationsWithDays)

	span := times[len(times)-1].Sub(times[0])
	if span < time.Duration(cfg.MinMonthlySpanDays)*24*time.Hour {
		return out, stats
	}

	monthTimesteps := groupTimesteps(times, func(t time.Time) monthKey {
		return monthKey{t.Year(), t.Month()}
	})
	stationsWithMonths := make(map[int]struct{})
	for key, steps := range monthTimesteps {
		expectedDays := daysInMonth(key.year, key.month)
		for s := 0; s < grid.Stations(); s++ {
			validDays := make(map[dayKey]struct{})
			for _, t := range steps {
				if out.At(t, s) && !math.IsNaN(grid.At(t, s)) {
					u := times[t].UTC()
					validDays[dayKey{u.Year(), u.Month(), u.Day()}] = struct{}{}
				}
			}
			if float64(len(validDays))/float64(expectedDays) < cfg.MinCompleteness {
				for _, t := range steps {
					out.Set(t, s, false)
				}
				stats.MonthsFlagged++
				stationsWithMonths[s] = struct{}{}
			}
		}
	}
	stats.StationsWithFlaggedMonths = len(stationsWithMonths)

	return out, stats
}

// groupTimesteps buckets timestep indices by a UTC calendar key.
func groupTimesteps[K comparable](times []time.Time, key func(time.Time) K) map[K][]int {
	out := make(map[K][]int)
	for t, instant := range times {
		k := key(instant.UTC())
		out[k] = append(out[k], t)
	}
	return out
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
