package qc

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/qc/spatialindex"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// BuddyCheck compares each station's value to the mean of its spatial
// "buddies" within a planar radius, with optional elevation screening and
// a linear elevation-gradient correction. Each station is examined
// independently within one timestep, so timesteps fan out to workers.
type BuddyCheck struct {
	cfg   BuddyConfig
	index *spatialindex.Index
	alts  []float64
}

// NewBuddyCheck validates the config and builds the planar index.
func NewBuddyCheck(cfg BuddyConfig, stations []domain.Station) (*BuddyCheck, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pts := make([]orb.Point, len(stations))
	alts := make([]float64, len(stations))
	for i, st := range stations {
		pts[i] = orb.Point{st.Longitude, st.Latitude}
		alts[i] = st.Altitude
	}
	index, err := spatialindex.NewPlanar(pts)
	if err != nil {
		return nil, fmt.Errorf("buddy check: %w", err)
	}
	return &BuddyCheck{cfg: cfg, index: index, alts: alts}, nil
}

// Run returns a suspect-mask (true = implausible) for the given grid.
// Missing values are always suspect. The input grid is read-only.
func (b *BuddyCheck) Run(ctx context.Context, grid domain.Grid) (domain.Mask, error) {
	suspects := domain.NewMask(grid.Times(), grid.Stations(), false)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < grid.Times(); t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.checkTimestep(grid.Row(t), suspects.Row(t))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Mask{}, fmt.Errorf("buddy check: %w", err)
	}
	return suspects, nil
}

// checkTimestep evaluates one timestep. suspect is worker-owned; values is
// a read-only view. Iterations beyond the first drop previously flagged
// stations from neighbor pools, so flags only ever accumulate.
func (b *BuddyCheck) checkTimestep(values []float64, suspect []bool) {
	for s, v := range values {
		if math.IsNaN(v) {
			suspect[s] = true
		}
	}

	for iter := 0; iter < b.cfg.NumIterations; iter++ {
		// Snapshot so all stations in this pass see the same neighbor state.
		excluded := make([]bool, len(values))
		copy(excluded, suspect)

		changed := false
		for i, v := range values {
			if math.IsNaN(v) || suspect[i] {
				continue
			}
			if b.checkStation(i, values, excluded) {
				suspect[i] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

// checkStation applies the outlier test to one station and reports whether
// it is suspect.
func (b *BuddyCheck) checkStation(i int, values []float64, excluded []bool) bool {
	neighbors := b.usableNeighbors(i, values, excluded)
	if len(neighbors) < b.cfg.NumMin {
		// Too little corroborating evidence to trust the value.
		return true
	}

	var sum, sumSq float64
	for _, n := range neighbors {
		nv := values[n]
		// Project the neighbor's value to station i's altitude.
		if b.cfg.ElevGradient != 0 && !math.IsNaN(b.alts[i]) && !math.IsNaN(b.alts[n]) {
			nv += b.cfg.ElevGradient * (b.alts[i] - b.alts[n])
		}
		sum += nv
		sumSq += nv * nv
	}
	count := float64(len(neighbors))
	mean := sum / count
	variance := sumSq/count - mean*mean
	if variance < 0 {
		variance = 0
	}
	std := math.Max(math.Sqrt(variance), b.cfg.MinStd)

	return math.Abs(values[i]-mean) > b.cfg.Threshold*std
}

// usableNeighbors gathers in-radius stations with a value, not excluded,
// and inside the elevation window when one is configured. A station with
// unknown altitude skips the window for itself but neighbors with unknown
// altitude are dropped, since their offset cannot be screened.
func (b *BuddyCheck) usableNeighbors(i int, values []float64, excluded []bool) []int {
	candidates := b.index.NeighborsWithin(i, b.cfg.Radius)
	usable := candidates[:0]
	for _, n := range candidates {
		if math.IsNaN(values[n]) || excluded[n] {
			continue
		}
		if b.cfg.MaxElevDiff > 0 && !math.IsNaN(b.alts[i]) {
			if math.IsNaN(b.alts[n]) || math.Abs(b.alts[n]-b.alts[i]) > b.cfg.MaxElevDiff {
				continue
			}
		}
		usable = append(usable, n)
	}
	return usable
}
