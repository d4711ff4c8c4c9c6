package qc

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/qc/spatialindex"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// ConsistencyTest is the spatial-temporal consistency test (STCT).
//
// The temporal pass flags implausible hour-to-hour jumps and is
// independent per cell. The spatial pass compares each station against an
// inverse-distance-weighted, elevation-corrected background estimate from
// its geographic neighborhood; it walks the station set through an explicit
// work queue whose "processed" and "suspect" bitsets are owned by the
// worker of one timestep, because the inner-radius collapse step makes the
// walk order-dependent. Distances are great-circle meters, a different
// metric from the buddy check's projected plane.
type ConsistencyTest struct {
	cfg   SpatialTemporalConfig
	index *spatialindex.Index
	alts  []float64
}

// NewConsistencyTest validates the config and builds the geographic index.
func NewConsistencyTest(cfg SpatialTemporalConfig, stations []domain.Station) (*ConsistencyTest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pts := make([]orb.Point, len(stations))
	alts := make([]float64, len(stations))
	for i, st := range stations {
		pts[i] = orb.Point{st.Longitude, st.Latitude}
		alts[i] = st.Altitude
	}
	index, err := spatialindex.NewGeographic(pts)
	if err != nil {
		return nil, fmt.Errorf("stct: %w", err)
	}
	return &ConsistencyTest{cfg: cfg, index: index, alts: alts}, nil
}

// Run returns two independent suspect-masks: spatial and temporal. A value
// can fail either test on its own, and callers must consult both. The input
// grid is read-only; it is expected to already carry the previous level's
// rejections as NaN.
func (c *ConsistencyTest) Run(ctx context.Context, grid domain.Grid) (spatial, temporal domain.Mask, err error) {
	temporal = c.temporalPass(grid)
	spatial = domain.NewMask(grid.Times(), grid.Stations(), false)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < grid.Times(); t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.spatialTimestep(grid.Row(t), temporal.Row(t), spatial.Row(t))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Mask{}, domain.Mask{}, fmt.Errorf("stct: %w", err)
	}
	return spatial, temporal, nil
}

// temporalPass flags values whose step to the previous or next instant
// exceeds the temporal threshold. Boundary timesteps have no predecessor or
// successor on that side and are exempt from that half of the check.
func (c *ConsistencyTest) temporalPass(grid domain.Grid) domain.Mask {
	suspects := domain.NewMask(grid.Times(), grid.Stations(), false)
	for t := 0; t < grid.Times(); t++ {
		for s := 0; s < grid.Stations(); s++ {
			v := grid.At(t, s)
			if math.IsNaN(v) {
				continue
			}
			if t > 0 {
				if prev := grid.At(t-1, s); !math.IsNaN(prev) && math.Abs(v-prev) > c.cfg.TemporalThreshold {
					suspects.Set(t, s, true)
					continue
				}
			}
			if t < grid.Times()-1 {
				if next := grid.At(t+1, s); !math.IsNaN(next) && math.Abs(v-next) > c.cfg.TemporalThreshold {
					suspects.Set(t, s, true)
				}
			}
		}
	}
	return suspects
}

// spatialTimestep runs the iterative spatial walk for one timestep. All
// three slices are owned by this worker. Suspects persist across
// iterations while the processed set is fully reset, so every extra
// iteration can only add flags.
func (c *ConsistencyTest) spatialTimestep(values []float64, temporalRow, suspect []bool) {
	n := len(values)
	processed := make([]bool, n)

	for iter := 0; iter < c.cfg.NumIterations; iter++ {
		clear(processed)

		for i := 0; i < n; i++ {
			if processed[i] || suspect[i] || math.IsNaN(values[i]) {
				continue
			}
			evaluated := c.evaluateStation(i, values, temporalRow, suspect)
			processed[i] = true
			if !evaluated {
				// Insufficient evidence: the station itself is done, but
				// its neighborhood has no verdict to inherit.
				continue
			}
			// Collapse step: clustered stations would re-derive
			// near-identical verdicts, so everything inside the inner
			// radius is marked processed without its own evaluation.
			for _, nb := range c.index.NeighborsWithin(i, c.cfg.InnerRadius) {
				processed[nb] = true
			}
		}
	}
}

// evaluateStation applies the background-estimate test to station i,
// setting suspect[i] when it fails, and reports whether a verdict was
// actually reached. Fewer than NumMin eligible neighbors means insufficient
// evidence: the station is skipped, not rejected, and the caller must not
// collapse its neighborhood.
func (c *ConsistencyTest) evaluateStation(i int, values []float64, temporalRow, suspect []bool) bool {
	pool := c.index.NeighborsWithin(i, c.cfg.OuterRadius)
	eligible := pool[:0]
	for _, nb := range pool {
		if !math.IsNaN(values[nb]) && !suspect[nb] {
			eligible = append(eligible, nb)
		}
	}
	if len(eligible) < c.cfg.NumMin {
		return false
	}

	neighbors := c.elevationWindow(i, eligible)
	if len(neighbors) == 0 {
		return false
	}
	if len(neighbors) > c.cfg.NumMax {
		sort.Slice(neighbors, func(a, b int) bool {
			return c.index.Distance(i, neighbors[a]) < c.index.Distance(i, neighbors[b])
		})
		neighbors = neighbors[:c.cfg.NumMax]
	}

	background := c.weightedBackground(i, neighbors, values)
	deviation := values[i] - background
	std := populationStd(neighbors, values)

	if deviation > c.cfg.PosThreshold*std || deviation < -c.cfg.NegThreshold*std || temporalRow[i] {
		suspect[i] = true
	}
	return true
}

// elevationWindow keeps neighbors whose absolute elevation difference from
// station i lies in [MinElevDiff, MaxElevDiff]. When the station's own
// altitude is unknown the window cannot be applied and the pool passes
// through; neighbors with unknown altitude are always dropped.
func (c *ConsistencyTest) elevationWindow(i int, pool []int) []int {
	if math.IsNaN(c.alts[i]) {
		return pool
	}
	kept := pool[:0]
	for _, nb := range pool {
		if math.IsNaN(c.alts[nb]) {
			continue
		}
		diff := math.Abs(c.alts[nb] - c.alts[i])
		if diff >= c.cfg.MinElevDiff && diff <= c.cfg.MaxElevDiff {
			kept = append(kept, nb)
		}
	}
	return kept
}

// weightedBackground is the inverse-distance-weighted neighbor mean plus
// the vertical correction for the pool's mean elevation offset.
func (c *ConsistencyTest) weightedBackground(i int, neighbors []int, values []float64) float64 {
	var weighted, weights float64
	for _, nb := range neighbors {
		w := 1 / (c.index.Distance(i, nb) + c.cfg.Eps)
		weighted += w * values[nb]
		weights += w
	}
	background := weighted / weights

	if !math.IsNaN(c.alts[i]) {
		var elevSum float64
		elevCount := 0
		for _, nb := range neighbors {
			if !math.IsNaN(c.alts[nb]) {
				elevSum += c.alts[nb] - c.alts[i]
				elevCount++
			}
		}
		if elevCount > 0 {
			background += (elevSum / float64(elevCount)) * c.cfg.VerticalScale
		}
	}
	return background
}

func populationStd(idx []int, values []float64) float64 {
	var sum float64
	for _, i := range idx {
		sum += values[i]
	}
	mean := sum / float64(len(idx))
	var ss float64
	for _, i := range idx {
		d := values[i] - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(idx)))
}
