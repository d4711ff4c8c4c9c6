package domain

import (
	"fmt"
	"math"
	"time"
)

// Station is one fixed sensor of the network. Identity is the ID; stations
// never move during a pipeline run. Altitude is in meters and may be NaN
// when unknown.
type Station struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Grid is a dense 2-D array of temperature values indexed by
// (time, station), row-major by time. NaN marks a missing or rejected
// observation.
type Grid struct {
	times    int
	stations int
	cells    []float64
}

// NewGrid allocates a times×stations grid with every cell set to NaN.
func NewGrid(times, stations int) Grid {
	cells := make([]float64, times*stations)
	for i := range cells {
		cells[i] = math.NaN()
	}
	return Grid{times: times, stations: stations, cells: cells}
}

// GridFromCells wraps an existing row-major cell slice. The slice is owned
// by the returned grid afterwards.
func GridFromCells(times, stations int, cells []float64) (Grid, error) {
	if len(cells) != times*stations {
		return Grid{}, fmt.Errorf("grid cells: got %d values, want %d (%d times × %d stations)",
			len(cells), times*stations, times, stations)
	}
	return Grid{times: times, stations: stations, cells: cells}, nil
}

func (g Grid) Times() int    { return g.times }
func (g Grid) Stations() int { return g.stations }
func (g Grid) Size() int     { return len(g.cells) }

// At returns the value at (time t, station s).
func (g Grid) At(t, s int) float64 { return g.cells[t*g.stations+s] }

// Set writes the value at (time t, station s).
func (g Grid) Set(t, s int, v float64) { g.cells[t*g.stations+s] = v }

// Row returns the cell slice for timestep t. The slice aliases the grid;
// callers holding a read-only view must not write through it.
func (g Grid) Row(t int) []float64 {
	return g.cells[t*g.stations : (t+1)*g.stations]
}

// Clone returns a deep copy.
func (g Grid) Clone() Grid {
	cells := make([]float64, len(g.cells))
	copy(cells, g.cells)
	return Grid{times: g.times, stations: g.stations, cells: cells}
}

// CountValid returns the number of non-NaN cells.
func (g Grid) CountValid() int {
	n := 0
	for _, v := range g.cells {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Cells returns the backing row-major slice. Used by the persistence layer
// for bit-exact encoding; treat as read-only.
func (g Grid) Cells() []float64 { return g.cells }

// Dataset is the abstract in-memory input of the QC engine: a temperature
// grid plus the station metadata aligned to its station axis.
type Dataset struct {
	Times       []time.Time
	Stations    []Station
	Temperature Grid
}

// NewDataset validates shapes and the time axis and assembles a dataset.
// Mismatched dimensions and a non-monotonic time axis are fatal: the
// pipeline must not start on malformed input.
func NewDataset(times []time.Time, stations []Station, temperature Grid) (*Dataset, error) {
	if temperature.times != len(times) {
		return nil, fmt.Errorf("dataset: temperature grid has %d timesteps, time axis has %d",
			temperature.times, len(times))
	}
	if temperature.stations != len(stations) {
		return nil, fmt.Errorf("dataset: temperature grid has %d stations, metadata has %d",
			temperature.stations, len(stations))
	}
	if len(times) == 0 || len(stations) == 0 {
		return nil, fmt.Errorf("dataset: empty axis (%d times, %d stations)", len(times), len(stations))
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("dataset: time axis not strictly increasing at index %d (%s then %s)",
				i, times[i-1].Format(time.RFC3339), times[i].Format(time.RFC3339))
		}
	}
	return &Dataset{Times: times, Stations: stations, Temperature: temperature}, nil
}

// Span returns the duration between the first and last instant.
func (d *Dataset) Span() time.Duration {
	return d.Times[len(d.Times)-1].Sub(d.Times[0])
}
