package domain

import "fmt"

// Mask is a boolean grid of the same shape as a temperature Grid.
// True = observation retained, false = rejected.
type Mask struct {
	times    int
	stations int
	cells    []bool
}

// NewMask allocates a times×stations mask with every cell set to initial.
func NewMask(times, stations int, initial bool) Mask {
	cells := make([]bool, times*stations)
	if initial {
		for i := range cells {
			cells[i] = true
		}
	}
	return Mask{times: times, stations: stations, cells: cells}
}

// MaskFromCells wraps an existing row-major flag slice. The slice is owned
// by the returned mask afterwards.
func MaskFromCells(times, stations int, cells []bool) (Mask, error) {
	if len(cells) != times*stations {
		return Mask{}, fmt.Errorf("mask cells: got %d flags, want %d (%d times × %d stations)",
			len(cells), times*stations, times, stations)
	}
	return Mask{times: times, stations: stations, cells: cells}, nil
}

func (m Mask) Times() int    { return m.times }
func (m Mask) Stations() int { return m.stations }

// At reports whether (time t, station s) is retained.
func (m Mask) At(t, s int) bool { return m.cells[t*m.stations+s] }

// Set writes the retained flag at (time t, station s).
func (m Mask) Set(t, s int, good bool) { m.cells[t*m.stations+s] = good }

// Row returns the flag slice for timestep t, aliasing the mask.
func (m Mask) Row(t int) []bool {
	return m.cells[t*m.stations : (t+1)*m.stations]
}

// Clone returns a deep copy.
func (m Mask) Clone() Mask {
	cells := make([]bool, len(m.cells))
	copy(cells, m.cells)
	return Mask{times: m.times, stations: m.stations, cells: cells}
}

// Intersect ANDs other into m in place and returns m. Panics on shape
// mismatch, which would be a programming error.
func (m Mask) Intersect(other Mask) Mask {
	if m.times != other.times || m.stations != other.stations {
		panic("mask shape mismatch")
	}
	for i := range m.cells {
		m.cells[i] = m.cells[i] && other.cells[i]
	}
	return m
}

// Exclude clears every cell of m that suspects marks true, in place, and
// returns m. Panics on shape mismatch.
func (m Mask) Exclude(suspects Mask) Mask {
	if m.times != suspects.times || m.stations != suspects.stations {
		panic("mask shape mismatch")
	}
	for i := range m.cells {
		if suspects.cells[i] {
			m.cells[i] = false
		}
	}
	return m
}

// CountTrue returns the number of retained cells.
func (m Mask) CountTrue() int {
	n := 0
	for _, g := range m.cells {
		if g {
			n++
		}
	}
	return n
}

// Narrower reports whether m rejects everything other rejects, i.e. m is a
// monotone narrowing of other.
func (m Mask) Narrower(other Mask) bool {
	if m.times != other.times || m.stations != other.stations {
		return false
	}
	for i := range m.cells {
		if m.cells[i] && !other.cells[i] {
			return false
		}
	}
	return true
}

// Cells returns the backing row-major slice. Used by the persistence layer;
// treat as read-only.
func (m Mask) Cells() []bool { return m.cells }
