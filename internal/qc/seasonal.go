package qc

import (
	"math"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

// CheckSeasonalThresholds tests every value against its season's inclusive
// [min, max] window and returns a retained-mask (true = plausible). Values
// exactly on a bound pass. Seasons without configured thresholds, and NaN
// cells, are left retained; the caller applies the mask.
//
// No cross-cell dependency exists, so the check is a plain row sweep.
func CheckSeasonalThresholds(grid domain.Grid, times []time.Time, cfg SeasonalConfig) domain.Mask {
	mask := domain.NewMask(grid.Times(), grid.Stations(), true)

	for t, instant := range times {
		bounds, ok := cfg.Thresholds[SeasonOf(instant.UTC().Month())]
		if !ok {
			continue
		}
		row := grid.Row(t)
		for s, v := range row {
			if math.IsNaN(v) {
				continue
			}
			if (bounds.Min != nil && v < *bounds.Min) || (bounds.Max != nil && v > *bounds.Max) {
				mask.Set(t, s, false)
			}
		}
	}
	return mask
}
