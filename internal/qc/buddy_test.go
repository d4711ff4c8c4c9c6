package qc_test

import (
	"context"
	"testing"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/qc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buddyCfg() qc.BuddyConfig {
	return qc.BuddyConfig{
		Radius:        5000,
		NumMin:        2,
		Threshold:     3,
		MinStd:        0.1,
		NumIterations: 1,
	}
}

// Three stations in a line 1 km apart at identical elevation; the middle
// one reads +15 °C against near-zero neighbor spread and must be the only
// one flagged.
func TestBuddyCheck_FlagsOffsetStation(t *testing.T) {
	stations := lineStations(3, 1, 260)
	check, err := qc.NewBuddyCheck(buddyCfg(), stations)
	require.NoError(t, err)

	grid := gridOf([]float64{4.0, 19.0, 4.0})
	suspects, err := check.Run(context.Background(), grid)
	require.NoError(t, err)

	assert.False(t, suspects.At(0, 0))
	assert.True(t, suspects.At(0, 1))
	assert.False(t, suspects.At(0, 2))
}

func TestBuddyCheck_ValueAtNeighborMeanNeverFlagged(t *testing.T) {
	stations := lineStations(5, 1, 260)
	check, err := qc.NewBuddyCheck(buddyCfg(), stations)
	require.NoError(t, err)

	// Station 2 sits exactly on its neighbors' mean.
	grid := gridOf([]float64{3.0, 7.0, 5.0, 3.0, 7.0})
	suspects, err := check.Run(context.Background(), grid)
	require.NoError(t, err)
	assert.False(t, suspects.At(0, 2))
}

func TestBuddyCheck_TooFewNeighborsAlwaysSuspect(t *testing.T) {
	// Two stations, num_min 2: each has a single buddy and is flagged no
	// matter how agreeable its value is.
	stations := lineStations(2, 1, 260)
	check, err := qc.NewBuddyCheck(buddyCfg(), stations)
	require.NoError(t, err)

	grid := gridOf([]float64{5.0, 5.0})
	suspects, err := check.Run(context.Background(), grid)
	require.NoError(t, err)
	assert.True(t, suspects.At(0, 0))
	assert.True(t, suspects.At(0, 1))
}

func TestBuddyCheck_MissingAlwaysSuspect(t *testing.T) {
	stations := lineStations(4, 1, 260)
	check, err := qc.NewBuddyCheck(buddyCfg(), stations)
	require.NoError(t, err)

	grid := gridOf([]float64{5.0, nan, 5.0, 5.0})
	suspects, err := check.Run(context.Background(), grid)
	require.NoError(t, err)
	assert.True(t, suspects.At(0, 1))
}

func TestBuddyCheck_ElevationWindowExcludesNeighbors(t *testing.T) {
	stations := lineStations(4, 1, 260)
	stations[3].Altitude = 1800 // mountaintop unit

	cfg := buddyCfg()
	cfg.MaxElevDiff = 400
	check, err := qc.NewBuddyCheck(cfg, stations)
	require.NoError(t, err)

	// The mountain station's only same-elevation buddies are excluded by
	// the window, leaving it below num_min and therefore suspect.
	grid := gridOf([]float64{5.0, 5.0, 5.0, 5.0})
	suspects, err := check.Run(context.Background(), grid)
	require.NoError(t, err)
	assert.True(t, suspects.At(0, 3))
	assert.False(t, suspects.At(0, 0))
}

func TestBuddyCheck_ElevationGradientCorrection(t *testing.T) {
	// Station 1 is 1000 m above its flat neighbors. With the standard
	// lapse rate its -2.5 °C against their 4 °C is physically plausible
	// once corrected, so the gradient must save it from flagging.
	stations := lineStations(3, 1, 200)
	stations[1].Altitude = 1200

	cfg := buddyCfg()
	cfg.ElevGradient = -0.0065
	check, err := qc.NewBuddyCheck(cfg, stations)
	require.NoError(t, err)

	grid := gridOf([]float64{4.0, -2.5, 4.0})
	suspects, err := check.Run(context.Background(), grid)
	require.NoError(t, err)
	assert.False(t, suspects.At(0, 1))

	// Without the correction the same reading is a gross outlier.
	cfg.ElevGradient = 0
	uncorrected, err := qc.NewBuddyCheck(cfg, stations)
	require.NoError(t, err)
	suspects, err = uncorrected.Run(context.Background(), grid)
	require.NoError(t, err)
	assert.True(t, suspects.At(0, 1))
}

func TestBuddyCheck_IterationsOnlyAddFlags(t *testing.T) {
	stations := lineStations(6, 1, 260)
	grid := gridOf([]float64{4.0, 4.2, 25.0, 4.1, 3.9, 4.0})

	run := func(iterations int) domain.Mask {
		cfg := buddyCfg()
		cfg.NumIterations = iterations
		check, err := qc.NewBuddyCheck(cfg, stations)
		require.NoError(t, err)
		suspects, err := check.Run(context.Background(), grid)
		require.NoError(t, err)
		return suspects
	}

	one := run(1)
	three := run(3)
	for s := 0; s < grid.Stations(); s++ {
		if one.At(0, s) {
			assert.True(t, three.At(0, s), "station %d lost its flag with more iterations", s)
		}
	}
}

func TestBuddyCheck_CancelledContext(t *testing.T) {
	stations := lineStations(3, 1, 260)
	check, err := qc.NewBuddyCheck(buddyCfg(), stations)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = check.Run(ctx, constGrid(48, 3, 5))
	assert.Error(t, err)
}

func TestBuddyConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*qc.BuddyConfig)
	}{
		{"zero radius", func(c *qc.BuddyConfig) { c.Radius = 0 }},
		{"zero num_min", func(c *qc.BuddyConfig) { c.NumMin = 0 }},
		{"negative threshold", func(c *qc.BuddyConfig) { c.Threshold = -1 }},
		{"zero min_std", func(c *qc.BuddyConfig) { c.MinStd = 0 }},
		{"zero iterations", func(c *qc.BuddyConfig) { c.NumIterations = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := buddyCfg()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
