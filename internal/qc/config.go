package qc

import (
	"errors"
	"fmt"
	"time"
)

// Season is a meteorological season code.
type Season string

const (
	SeasonDJF Season = "DJF" // Dec-Feb
	SeasonMAM Season = "MAM" // Mar-May
	SeasonJJA Season = "JJA" // Jun-Aug
	SeasonSON Season = "SON" // Sep-Nov
)

// SeasonOf maps a calendar month to its meteorological season.
func SeasonOf(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return SeasonDJF
	case time.March, time.April, time.May:
		return SeasonMAM
	case time.June, time.July, time.August:
		return SeasonJJA
	default:
		return SeasonSON
	}
}

// Bounds is an optional inclusive [min, max] window in °C. A nil field
// imposes no constraint.
type Bounds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// SeasonalConfig maps season labels to their plausible value window.
// Seasons absent from the map (or from the dataset) are skipped.
type SeasonalConfig struct {
	Thresholds map[Season]Bounds `json:"thresholds"`
}

// Validate rejects inverted windows and unknown season labels.
func (c SeasonalConfig) Validate() error {
	for season, b := range c.Thresholds {
		switch season {
		case SeasonDJF, SeasonMAM, SeasonJJA, SeasonSON:
		default:
			return fmt.Errorf("seasonal thresholds: unknown season %q", season)
		}
		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			return fmt.Errorf("seasonal thresholds: %s min %g above max %g", season, *b.Min, *b.Max)
		}
	}
	return nil
}

// BuddyConfig parameterizes the buddy check.
type BuddyConfig struct {
	// Radius is the planar neighbor search radius in meters.
	Radius float64 `json:"radius"`
	// NumMin is the minimum usable neighbor count; stations with fewer are
	// flagged suspect for lack of corroborating evidence.
	NumMin int `json:"num_min"`
	// Threshold is the standard-deviation multiplier of the outlier test.
	Threshold float64 `json:"threshold"`
	// MaxElevDiff excludes neighbors more than this many meters above or
	// below the station. Zero or negative disables the exclusion.
	MaxElevDiff float64 `json:"max_elev_diff"`
	// ElevGradient linearly corrects neighbor values toward the station's
	// elevation, in °C per meter (e.g. -0.0065). Zero disables.
	ElevGradient float64 `json:"elev_gradient"`
	// MinStd floors the neighbor standard deviation so near-identical
	// neighborhoods do not produce division-by-near-zero false positives.
	MinStd float64 `json:"min_std"`
	// NumIterations re-runs the pass with previously flagged stations
	// removed from neighbor pools.
	NumIterations int `json:"num_iterations"`
}

func (c BuddyConfig) Validate() error {
	if c.Radius <= 0 {
		return fmt.Errorf("buddy check: radius must be positive, got %g", c.Radius)
	}
	if c.NumMin < 1 {
		return fmt.Errorf("buddy check: num_min must be at least 1, got %d", c.NumMin)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("buddy check: threshold must be positive, got %g", c.Threshold)
	}
	if c.MinStd <= 0 {
		return fmt.Errorf("buddy check: min_std must be positive, got %g", c.MinStd)
	}
	if c.NumIterations < 1 {
		return fmt.Errorf("buddy check: num_iterations must be at least 1, got %d", c.NumIterations)
	}
	return nil
}

// SpatialTemporalConfig parameterizes the spatial-temporal consistency test.
type SpatialTemporalConfig struct {
	// InnerRadius collapses clustered stations: everything within this
	// distance of an evaluated station is marked processed without its own
	// evaluation. A compute/coverage tradeoff, not an oversight.
	InnerRadius float64 `json:"inner_radius"`
	// OuterRadius bounds the geographic neighbor pool in meters.
	OuterRadius float64 `json:"outer_radius"`
	// NumMin is the minimum neighbor count; below it the station is skipped
	// (not rejected: insufficient evidence).
	NumMin int `json:"num_min"`
	// NumMax caps the pool at the geographically nearest stations.
	NumMax int `json:"num_max"`
	// PosThreshold / NegThreshold are the standard-deviation multipliers
	// for warm and cold deviations from the background estimate.
	PosThreshold float64 `json:"pos_threshold"`
	NegThreshold float64 `json:"neg_threshold"`
	// MinElevDiff / MaxElevDiff keep only neighbors whose absolute
	// elevation difference lies inside the window, in meters.
	MinElevDiff float64 `json:"min_elev_diff"`
	MaxElevDiff float64 `json:"max_elev_diff"`
	// VerticalScale converts the mean neighbor elevation offset into a
	// background correction, in °C per meter.
	VerticalScale float64 `json:"vertical_scale"`
	// TemporalThreshold is the maximum plausible hour-to-hour change in °C.
	TemporalThreshold float64 `json:"temporal_threshold"`
	// Eps regularizes the inverse-distance weights (meters).
	Eps float64 `json:"eps"`
	// NumIterations repeats the spatial pass with a fresh processed set so
	// earlier rejections shrink later neighbor pools.
	NumIterations int `json:"num_iterations"`
}

func (c SpatialTemporalConfig) Validate() error {
	if c.InnerRadius <= 0 || c.OuterRadius <= 0 {
		return fmt.Errorf("stct: radii must be positive, got inner %g outer %g", c.InnerRadius, c.OuterRadius)
	}
	if c.InnerRadius >= c.OuterRadius {
		return fmt.Errorf("stct: inner_radius %g must be below outer_radius %g", c.InnerRadius, c.OuterRadius)
	}
	if c.NumMin < 1 {
		return fmt.Errorf("stct: num_min must be at least 1, got %d", c.NumMin)
	}
	if c.NumMax < c.NumMin {
		return fmt.Errorf("stct: num_max %d below num_min %d", c.NumMax, c.NumMin)
	}
	if c.PosThreshold <= 0 || c.NegThreshold <= 0 {
		return fmt.Errorf("stct: thresholds must be positive, got pos %g neg %g", c.PosThreshold, c.NegThreshold)
	}
	if c.MinElevDiff < 0 {
		return fmt.Errorf("stct: min_elev_diff must not be negative, got %g", c.MinElevDiff)
	}
	if c.MaxElevDiff <= c.MinElevDiff {
		return fmt.Errorf("stct: max_elev_diff %g must be above min_elev_diff %g", c.MaxElevDiff, c.MinElevDiff)
	}
	if c.TemporalThreshold <= 0 {
		return fmt.Errorf("stct: temporal_threshold must be positive, got %g", c.TemporalThreshold)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("stct: eps must be positive, got %g", c.Eps)
	}
	if c.NumIterations < 1 {
		return fmt.Errorf("stct: num_iterations must be at least 1, got %d", c.NumIterations)
	}
	return nil
}

// CompletenessConfig parameterizes the daily/monthly completeness filter.
type CompletenessConfig struct {
	// MinCompleteness is the required fraction of expected observations,
	// in [0, 1].
	MinCompleteness float64 `json:"min_completeness"`
	// ExpectedDailyObs is the fixed per-day expectation (hourly cadence).
	ExpectedDailyObs int `json:"expected_daily_obs"`
	// MinMonthlySpanDays: the monthly check only runs when the dataset
	// spans at least this many days. Short extracts skip it by policy.
	MinMonthlySpanDays int `json:"min_monthly_span_days"`
}

func (c CompletenessConfig) Validate() error {
	if c.MinCompleteness < 0 || c.MinCompleteness > 1 {
		return fmt.Errorf("completeness: min_completeness must be in [0,1], got %g", c.MinCompleteness)
	}
	if c.ExpectedDailyObs < 1 {
		return fmt.Errorf("completeness: expected_daily_obs must be at least 1, got %d", c.ExpectedDailyObs)
	}
	if c.MinMonthlySpanDays < 0 {
		return fmt.Errorf("completeness: min_monthly_span_days must not be negative, got %d", c.MinMonthlySpanDays)
	}
	return nil
}

// Params is the full, pure-data configuration surface of the QC engine.
type Params struct {
	Seasonal     SeasonalConfig        `json:"seasonal"`
	Buddy        BuddyConfig           `json:"buddy"`
	STCT         SpatialTemporalConfig `json:"stct"`
	Completeness CompletenessConfig    `json:"completeness"`
}

// Validate checks every sub-config and joins the failures.
func (p Params) Validate() error {
	return errors.Join(
		p.Seasonal.Validate(),
		p.Buddy.Validate(),
		p.STCT.Validate(),
		p.Completeness.Validate(),
	)
}

func f(v float64) *float64 { return &v }

// DefaultParams returns the operational defaults for the Bolzano network.
func DefaultParams() Params {
	return Params{
		Seasonal: SeasonalConfig{
			Thresholds: map[Season]Bounds{
				SeasonDJF: {Min: f(-30), Max: f(20)},
				SeasonMAM: {Min: f(-10), Max: f(30)},
				SeasonJJA: {Min: f(0), Max: f(45)},
				SeasonSON: {Min: f(-10), Max: f(30)},
			},
		},
		Buddy: BuddyConfig{
			Radius:        5000,
			NumMin:        3,
			Threshold:     3,
			MaxElevDiff:   400,
			ElevGradient:  -0.0065,
			MinStd:        0.1,
			NumIterations: 1,
		},
		STCT: SpatialTemporalConfig{
			InnerRadius:       2000,
			OuterRadius:       5000,
			NumMin:            10,
			NumMax:            10,
			PosThreshold:      0.5,
			NegThreshold:      0.5,
			MinElevDiff:       20,
			MaxElevDiff:       200,
			VerticalScale:     -0.0065,
			TemporalThreshold: 3.0,
			Eps:               0.1,
			NumIterations:     1,
		},
		Completeness: CompletenessConfig{
			MinCompleteness:    0.8,
			ExpectedDailyObs:   24,
			MinMonthlySpanDays: 30,
		},
	}
}
