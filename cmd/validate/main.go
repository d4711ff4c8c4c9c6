// Command validate re-checks the structural invariants of a stored QC run:
// level count and ordering, grid/mask agreement, monotone mask narrowing,
// per-level statistics, and summary roll-up consistency. A clean exit means
// the stored run could have been produced by the pipeline as written.
//
// Usage:
//
//	go run ./cmd/validate -db sensor-qc.db -run 3
//
// With -run 0 (the default) the most recent run is validated.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/couchcryptid/sensor-qc-service/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/pipeline"
)

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dbPath := flag.String("db", "sensor-qc.db", "path to the SQLite store")
	runID := flag.Int64("run", 0, "run ID to validate (0 = latest)")
	flag.Parse()

	if code := run(*dbPath, *runID); code != 0 {
		os.Exit(code)
	}
}

func run(dbPath string, runID int64) int {
	ctx := context.Background()

	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	if runID == 0 {
		latest, ok, err := store.LatestRunSummary(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: find latest run: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "FATAL: store has no runs")
			return 1
		}
		runID = latest.RunID
	}

	res, err := store.LoadResult(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load run %d: %v\n", runID, err)
		return 1
	}

	fmt.Printf("=== QC Run Integrity Validation (run %d) ===\n\n", runID)
	fmt.Printf("Stations: %d, timesteps: %d, levels: %d\n",
		len(res.Stations), len(res.Times), len(res.Snapshots))

	phases := []*phase{
		validateShape(res),
		validateGridMaskAgreement(res),
		validateNarrowing(res),
		validateStats(res),
		validateSummary(res),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Shape ──
// Every level of the chain must be present, in order, with grids and masks
// matching the run's station and time axes.

func validateShape(res *pipeline.Result) *phase {
	p := &phase{name: "Phase 1: Shape (levels and axes)"}

	levels := domain.Levels()
	if len(res.Snapshots) != len(levels) {
		p.errorf("expected %d levels, got %d", len(levels), len(res.Snapshots))
		return p
	}

	nt, ns := len(res.Times), len(res.Stations)
	for i, snap := range res.Snapshots {
		if snap.Level != levels[i] {
			p.errorf("snapshot %d: level is %s, expected %s", i, snap.Level, levels[i])
		}
		if snap.Grid.Times() != nt || snap.Grid.Stations() != ns {
			p.errorf("%s: grid is %dx%d, expected %dx%d",
				snap.Level, snap.Grid.Times(), snap.Grid.Stations(), nt, ns)
		}
		if snap.Mask.Times() != nt || snap.Mask.Stations() != ns {
			p.errorf("%s: mask is %dx%d, expected %dx%d",
				snap.Level, snap.Mask.Times(), snap.Mask.Stations(), nt, ns)
		}
	}
	if !res.FinishedAt.After(res.StartedAt) && !res.FinishedAt.Equal(res.StartedAt) {
		p.errorf("finished_at %s precedes started_at %s", res.FinishedAt, res.StartedAt)
	}
	return p
}

// ── Phase 2: Grid/Mask Agreement ──
// A cell is NaN in a level's grid exactly when its mask rejects it.

func validateGridMaskAgreement(res *pipeline.Result) *phase {
	p := &phase{name: "Phase 2: Grid/Mask Agreement"}

	for _, snap := range res.Snapshots {
		mismatches := 0
		for t := 0; t < snap.Grid.Times(); t++ {
			for s := 0; s < snap.Grid.Stations(); s++ {
				valid := !math.IsNaN(snap.Grid.At(t, s))
				if valid != snap.Mask.At(t, s) {
					mismatches++
					if mismatches <= 5 {
						p.errorf("%s (t=%d, s=%d): grid valid=%v but mask=%v",
							snap.Level, t, s, valid, snap.Mask.At(t, s))
					}
				}
			}
		}
		if mismatches > 5 {
			p.errorf("%s: %d further grid/mask mismatches", snap.Level, mismatches-5)
		}
	}
	return p
}

// ── Phase 3: Narrowing ──
// Each level's mask must be a subset of its predecessor's: the chain only
// removes values, never resurrects them.

func validateNarrowing(res *pipeline.Result) *phase {
	p := &phase{name: "Phase 3: Monotone Narrowing"}

	for i := 1; i < len(res.Snapshots); i++ {
		cur, prev := res.Snapshots[i], res.Snapshots[i-1]
		if !cur.Mask.Narrower(prev.Mask) {
			p.errorf("%s retains cells that %s rejected", cur.Level, prev.Level)
		}
	}
	return p
}

// ── Phase 4: Per-Level Statistics ──

func validateStats(res *pipeline.Result) *phase {
	p := &phase{name: "Phase 4: Per-Level Statistics"}

	for i, snap := range res.Snapshots {
		valid := snap.Mask.CountTrue()
		if snap.Stats.ValidValues != valid {
			p.errorf("%s: stats claim %d valid values, mask has %d",
				snap.Level, snap.Stats.ValidValues, valid)
		}
		if got := snap.Grid.CountValid(); got != valid {
			p.errorf("%s: grid has %d valid values, mask has %d", snap.Level, got, valid)
		}
		if snap.Stats.Name != snap.Level.String() {
			p.errorf("%s: stats name is %q", snap.Level, snap.Stats.Name)
		}
		if i == 0 {
			continue
		}
		removed := res.Snapshots[i-1].Stats.ValidValues - valid
		if snap.Stats.Removed != removed {
			p.errorf("%s: stats claim %d removed, mask delta is %d",
				snap.Level, snap.Stats.Removed, removed)
		}
		if removed < 0 {
			p.errorf("%s: negative removal count %d", snap.Level, removed)
		}
	}
	return p
}

// ── Phase 5: Summary Roll-Up ──

func validateSummary(res *pipeline.Result) *phase {
	p := &phase{name: "Phase 5: Summary Roll-Up"}
	sum := res.Summary

	if want := len(res.Times) * len(res.Stations); sum.TotalValues != want {
		p.errorf("total_values is %d, axes give %d", sum.TotalValues, want)
	}
	if len(sum.Levels) != len(res.Snapshots) {
		p.errorf("summary has %d level records, run has %d levels",
			len(sum.Levels), len(res.Snapshots))
		return p
	}
	for i, ls := range sum.Levels {
		ss := res.Snapshots[i].Stats
		if ls.Name != ss.Name || ls.ValidValues != ss.ValidValues || ls.Removed != ss.Removed {
			p.errorf("%s: summary stats diverge from snapshot stats", res.Snapshots[i].Level)
		}
		if (ls.Completeness == nil) != (ss.Completeness == nil) {
			p.errorf("%s: completeness stats present on one side only", res.Snapshots[i].Level)
		} else if ls.Completeness != nil && *ls.Completeness != *ss.Completeness {
			p.errorf("%s: completeness stats diverge", res.Snapshots[i].Level)
		}
	}

	if got := res.Snapshot(domain.LevelSeasonal).Stats.Removed; sum.SeasonalFlags != got {
		p.errorf("seasonal_flags is %d, level removed %d", sum.SeasonalFlags, got)
	}
	if got := res.Snapshot(domain.LevelBuddy).Stats.Removed; sum.BuddyFlags != got {
		p.errorf("buddy_flags is %d, level removed %d", sum.BuddyFlags, got)
	}

	final := res.Final()
	if final.Stats.Completeness == nil {
		p.errorf("terminal level carries no completeness statistics")
	} else if sum.Completeness != *final.Stats.Completeness {
		p.errorf("summary completeness diverges from terminal level")
	}
	return p
}
