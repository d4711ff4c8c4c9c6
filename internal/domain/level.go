package domain

import "fmt"

// Level is one named stage of the sequential QC chain. The chain is an
// explicit ordered enumeration; each level except raw has a predecessor.
type Level int

const (
	LevelRaw Level = iota
	LevelSeasonal
	LevelCompletenessSeasonal
	LevelBuddy
	LevelCompletenessBuddy
	LevelSTCT
	LevelCompletenessSTCT

	numLevels
)

// Levels returns the full chain in order.
func Levels() []Level {
	out := make([]Level, numLevels)
	for i := range out {
		out[i] = Level(i)
	}
	return out
}

// FinalLevel is the terminal state of the pipeline.
const FinalLevel = LevelCompletenessSTCT

func (l Level) String() string {
	switch l {
	case LevelRaw:
		return "raw"
	case LevelSeasonal:
		return "seasonal"
	case LevelCompletenessSeasonal:
		return "completeness-1"
	case LevelBuddy:
		return "buddy"
	case LevelCompletenessBuddy:
		return "completeness-2"
	case LevelSTCT:
		return "stct"
	case LevelCompletenessSTCT:
		return "completeness-3"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// StorageVar is the on-disk variable name for the level's grid
// ("T_lvl0" … "T_lvl6"); flags are stored as StorageVar()+"_flags".
func (l Level) StorageVar() string { return fmt.Sprintf("T_lvl%d", int(l)) }

// Predecessor returns the level this one narrows, and false for raw.
func (l Level) Predecessor() (Level, bool) {
	if l <= LevelRaw || l >= numLevels {
		return 0, false
	}
	return l - 1, true
}

// LevelFromIndex maps a stored level index back to a Level.
func LevelFromIndex(i int) (Level, error) {
	if i < 0 || i >= int(numLevels) {
		return 0, fmt.Errorf("level index %d out of range [0,%d]", i, int(numLevels)-1)
	}
	return Level(i), nil
}

// Description is the human-readable level-semantics block carried in the
// output metadata.
const Description = "Level 0: raw merged data, " +
	"Level 1: seasonal thresholds, " +
	"Level 2: completeness (daily/monthly), " +
	"Level 3: buddy check, " +
	"Level 4: completeness (daily/monthly), " +
	"Level 5: spatial-temporal consistency, " +
	"Level 6: completeness (daily/monthly)"

// CompletenessStats is the bookkeeping record of one completeness pass:
// how many station-days and station-months were flagged, and how many
// distinct stations each dimension touched.
type CompletenessStats struct {
	DaysFlagged               int `json:"days_flagged"`
	MonthsFlagged             int `json:"months_flagged"`
	StationsWithFlaggedDays   int `json:"stations_with_flagged_days"`
	StationsWithFlaggedMonths int `json:"stations_with_flagged_months"`
}

// LevelStats is the per-level statistics record.
type LevelStats struct {
	Level        Level              `json:"-"`
	Name         string             `json:"name"`
	ValidValues  int                `json:"valid_values"`
	Removed      int                `json:"removed"` // relative to the predecessor level
	Completeness *CompletenessStats `json:"completeness,omitempty"`
}

// Snapshot is one level's immutable (grid, mask, statistics) triple.
// Rejected cells of the grid are NaN; the mask is the authoritative flag
// set the grid was derived from.
type Snapshot struct {
	Level Level
	Grid  Grid
	Mask  Mask
	Stats LevelStats
}

// Summary is the pipeline-wide roll-up assembled from the terminal level.
type Summary struct {
	TotalValues   int               `json:"total_values"`
	Levels        []LevelStats      `json:"levels"`
	SeasonalFlags int               `json:"seasonal_flags"`
	BuddyFlags    int               `json:"buddy_flags"`
	SpatialFlags  int               `json:"stct_flags"`
	TemporalFlags int               `json:"temporal_flags"`
	Completeness  CompletenessStats `json:"completeness"` // terminal completeness pass
}
