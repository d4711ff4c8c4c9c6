package qc_test

import (
	"math"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

const degPerKm = 1.0 / 111.3199

var testBase = time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

// hourly returns n hourly instants starting at from.
func hourly(from time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.Add(time.Duration(i) * time.Hour)
	}
	return out
}

// lineStations places n stations ~spacingKm apart on a north-south line at
// the given altitude.
func lineStations(n int, spacingKm, altitude float64) []domain.Station {
	out := make([]domain.Station, n)
	for i := range out {
		out[i] = domain.Station{
			ID:        string(rune('a' + i)),
			Latitude:  46.49 + float64(i)*spacingKm*degPerKm,
			Longitude: 11.35,
			Altitude:  altitude,
		}
	}
	return out
}

// gridOf builds a grid from rows of station values; use nan for missing.
func gridOf(rows ...[]float64) domain.Grid {
	g := domain.NewGrid(len(rows), len(rows[0]))
	for t, row := range rows {
		for s, v := range row {
			g.Set(t, s, v)
		}
	}
	return g
}

// constGrid fills a times×stations grid with a single value.
func constGrid(times, stations int, v float64) domain.Grid {
	g := domain.NewGrid(times, stations)
	for t := 0; t < times; t++ {
		for s := 0; s < stations; s++ {
			g.Set(t, s, v)
		}
	}
	return g
}

var nan = math.NaN()
