// Package spatialindex provides nearest-neighbor queries over station
// coordinates. An index is built once per pipeline run and is read-only
// afterwards, so it is safe to share across concurrent check workers.
//
// Two metrics are offered and deliberately kept distinct: the buddy check
// operates on planar-projected coordinates with Euclidean distance, while
// the spatial-temporal consistency test keeps geographic coordinates and
// measures great-circle (haversine) distance. Both are in meters.
package spatialindex

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
)

// metersPerDegree is the approximate length of one degree of latitude.
const metersPerDegree = 111_319.9

// stationPoint ties a quadtree entry back to its station index.
type stationPoint struct {
	pt  orb.Point
	idx int
}

func (s stationPoint) Point() orb.Point { return s.pt }

// Index answers radius and k-nearest queries over a fixed station set.
type Index struct {
	tree     *quadtree.Quadtree
	points   []orb.Point
	distance func(a, b orb.Point) float64
	bound    func(center orb.Point, radius float64) orb.Bound
}

// NewGeographic builds an index over raw (longitude, latitude) coordinates
// with haversine distance. Radii are in meters.
func NewGeographic(stations []orb.Point) (*Index, error) {
	pts := make([]orb.Point, len(stations))
	copy(pts, stations)
	idx := &Index{
		points:   pts,
		distance: geo.DistanceHaversine,
		bound: func(center orb.Point, radius float64) orb.Bound {
			return geo.NewBoundAroundPoint(center, radius)
		},
	}
	if err := idx.build(); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewPlanar builds an index over coordinates projected to a local
// equirectangular plane (meters east/north of the dataset's mean
// coordinate) with Euclidean distance. Accurate for the regional extents
// sensor networks cover; radii are in meters.
func NewPlanar(stations []orb.Point) (*Index, error) {
	if len(stations) == 0 {
		return nil, fmt.Errorf("spatial index: no stations")
	}
	var meanLat, meanLon float64
	for _, p := range stations {
		meanLon += p[0]
		meanLat += p[1]
	}
	meanLon /= float64(len(stations))
	meanLat /= float64(len(stations))
	cosLat := math.Cos(meanLat * math.Pi / 180)

	pts := make([]orb.Point, len(stations))
	for i, p := range stations {
		pts[i] = orb.Point{
			(p[0] - meanLon) * metersPerDegree * cosLat,
			(p[1] - meanLat) * metersPerDegree,
		}
	}
	idx := &Index{
		points:   pts,
		distance: planar.Distance,
		bound: func(center orb.Point, radius float64) orb.Bound {
			return orb.Bound{
				Min: orb.Point{center[0] - radius, center[1] - radius},
				Max: orb.Point{center[0] + radius, center[1] + radius},
			}
		},
	}
	if err := idx.build(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (ix *Index) build() error {
	if len(ix.points) == 0 {
		return fmt.Errorf("spatial index: no stations")
	}
	bound := orb.Bound{Min: ix.points[0], Max: ix.points[0]}
	for _, p := range ix.points {
		bound = bound.Extend(p)
	}
	// Degenerate bounds (single station, collinear stations) still need a
	// non-zero area for the quadtree to subdivide.
	bound = bound.Pad(1e-6 + 1e-9*math.Max(bound.Right()-bound.Left(), bound.Top()-bound.Bottom()))

	tree := quadtree.New(bound)
	for i, p := range ix.points {
		if err := tree.Add(stationPoint{pt: p, idx: i}); err != nil {
			return fmt.Errorf("spatial index: add station %d: %w", i, err)
		}
	}
	ix.tree = tree
	return nil
}

// Len returns the number of indexed stations.
func (ix *Index) Len() int { return len(ix.points) }

// Distance returns the index's metric distance between stations i and j.
func (ix *Index) Distance(i, j int) float64 {
	return ix.distance(ix.points[i], ix.points[j])
}

// NeighborsWithin returns the indices of all stations within radius meters
// of station i, excluding i itself, in ascending index order. An empty
// result is valid.
func (ix *Index) NeighborsWithin(i int, radius float64) []int {
	center := ix.points[i]
	candidates := ix.tree.InBound(nil, ix.bound(center, radius))

	var out []int
	for _, c := range candidates {
		sp := c.(stationPoint)
		if sp.idx == i {
			continue
		}
		if ix.distance(center, sp.pt) <= radius {
			out = append(out, sp.idx)
		}
	}
	sort.Ints(out)
	return out
}

// KNearest returns up to k station indices ordered by increasing distance
// from station i, excluding i itself. The quadtree pre-selects candidates
// in coordinate space; the final ordering uses the index's exact metric.
func (ix *Index) KNearest(i, k int) []int {
	if k <= 0 {
		return nil
	}
	center := ix.points[i]
	// Over-fetch so the exact-metric reorder cannot lose a true neighbor to
	// the tree's coordinate-space ranking.
	fetch := min(2*k+1, len(ix.points))
	candidates := ix.tree.KNearestMatching(nil, center, fetch, func(p orb.Pointer) bool {
		return p.(stationPoint).idx != i
	})

	out := make([]int, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.(stationPoint).idx)
	}
	sort.Slice(out, func(a, b int) bool {
		return ix.distance(center, ix.points[out[a]]) < ix.distance(center, ix.points[out[b]])
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
