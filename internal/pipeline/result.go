package pipeline

import (
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

// Result is the assembled outcome of one run: the station and time axes,
// one immutable snapshot per level, and the roll-up summary.
type Result struct {
	Stations   []domain.Station
	Times      []time.Time
	Snapshots  []domain.Snapshot // indexed by domain.Level
	Summary    domain.Summary
	StartedAt  time.Time
	FinishedAt time.Time
}

// Snapshot returns the (grid, mask, stats) triple of one level.
func (r *Result) Snapshot(lvl domain.Level) domain.Snapshot {
	return r.Snapshots[int(lvl)]
}

// Final returns the terminal level's snapshot.
func (r *Result) Final() domain.Snapshot {
	return r.Snapshot(domain.FinalLevel)
}

// Description returns the level-semantics block carried in output metadata.
func (r *Result) Description() string { return domain.Description }

// record freezes the current mask as the snapshot of lvl and returns its
// statistics. Removed counts against the predecessor level; raw has none.
func (r *Result) record(lvl domain.Level, grid domain.Grid, mask domain.Mask, completeness *domain.CompletenessStats) domain.LevelStats {
	valid := mask.CountTrue()
	stats := domain.LevelStats{
		Level:        lvl,
		Name:         lvl.String(),
		ValidValues:  valid,
		Completeness: completeness,
	}
	if pred, ok := lvl.Predecessor(); ok {
		stats.Removed = r.Snapshots[int(pred)].Stats.ValidValues - valid
	}
	r.Snapshots = append(r.Snapshots, domain.Snapshot{
		Level: lvl,
		Grid:  applyMask(grid, mask),
		Mask:  mask.Clone(),
		Stats: stats,
	})
	r.Summary.Levels = append(r.Summary.Levels, stats)
	return stats
}

// finish fills the summary fields that derive from the recorded levels.
func (r *Result) finish() {
	r.Summary.SeasonalFlags = r.Snapshot(domain.LevelSeasonal).Stats.Removed
	r.Summary.BuddyFlags = r.Snapshot(domain.LevelBuddy).Stats.Removed
	if c := r.Final().Stats.Completeness; c != nil {
		r.Summary.Completeness = *c
	}
	r.FinishedAt = domain.Now()
}
