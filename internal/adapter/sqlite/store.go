// Package sqlite persists raw observations and multi-level QC results in a
// single SQLite file. Grids are stored as little-endian float64 blobs so a
// round trip is bit-exact, NaN payloads included.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/sensor-qc-service/internal/domain"
	"github.com/couchcryptid/sensor-qc-service/internal/pipeline"
)

//go:embed schema.sql
var schema string

// Store wraps one SQLite database holding both the raw observation archive
// and the QC run results.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The modernc driver is pure Go; WAL keeps readers unblocked while
// a run is being written.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// UpsertStations inserts or refreshes station metadata.
func (s *Store) UpsertStations(ctx context.Context, stations []domain.Station) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert stations: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stations (id, latitude, longitude, altitude)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude`)
	if err != nil {
		return fmt.Errorf("upsert stations: %w", err)
	}
	defer stmt.Close()

	for _, st := range stations {
		alt := sql.NullFloat64{Float64: st.Altitude, Valid: !math.IsNaN(st.Altitude)}
		if _, err := stmt.ExecContext(ctx, st.ID, st.Latitude, st.Longitude, alt); err != nil {
			return fmt.Errorf("upsert station %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// InsertObservations writes a batch of raw readings. Re-fetched readings
// overwrite their previous value.
func (s *Store) InsertObservations(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert observations: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (station_id, ts, temperature)
		VALUES (?, ?, ?)
		ON CONFLICT (station_id, ts) DO UPDATE SET temperature = excluded.temperature`)
	if err != nil {
		return fmt.Errorf("insert observations: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.StationID, o.Time.UTC().Unix(), o.Temperature); err != nil {
			return fmt.Errorf("insert observation %s@%s: %w", o.StationID, o.Time, err)
		}
	}
	return tx.Commit()
}

// LatestObservationTime returns the newest stored timestamp for the
// station, or ok=false when none exist.
func (s *Store) LatestObservationTime(ctx context.Context, stationID string) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM observations WHERE station_id = ?`, stationID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest observation: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), true, nil
}

// LoadDataset assembles the dense (time × station) grid for the window
// [from, to]. The station axis is every station with metadata, sorted by
// ID; the time axis is every distinct stored timestamp in the window.
// Cells without a reading stay NaN.
func (s *Store) LoadDataset(ctx context.Context, from, to time.Time) (*domain.Dataset, error) {
	stations, err := s.loadStations(ctx)
	if err != nil {
		return nil, err
	}
	stationIdx := make(map[string]int, len(stations))
	for i, st := range stations {
		stationIdx[st.ID] = i
	}

	times, timeIdx, err := s.loadTimeAxis(ctx, from, to)
	if err != nil {
		return nil, err
	}

	grid := domain.NewGrid(len(times), len(stations))
	rows, err := s.db.QueryContext(ctx, `
		SELECT station_id, ts, temperature FROM observations
		WHERE ts BETWEEN ? AND ?`, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var ts int64
		var temp float64
		if err := rows.Scan(&id, &ts, &temp); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		si, ok := stationIdx[id]
		if !ok {
			return nil, fmt.Errorf("observation references unknown station %q", id)
		}
		grid.Set(timeIdx[ts], si, temp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	return domain.NewDataset(times, stations, grid)
}

func (s *Store) loadStations(ctx context.Context) ([]domain.Station, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, altitude FROM stations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	defer rows.Close()

	var out []domain.Station
	for rows.Next() {
		var st domain.Station
		var alt sql.NullFloat64
		if err := rows.Scan(&st.ID, &st.Latitude, &st.Longitude, &alt); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		st.Altitude = math.NaN()
		if alt.Valid {
			st.Altitude = alt.Float64
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) loadTimeAxis(ctx context.Context, from, to time.Time) ([]time.Time, map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ts FROM observations
		WHERE ts BETWEEN ? AND ? ORDER BY ts`, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, nil, fmt.Errorf("load time axis: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	idx := make(map[int64]int)
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, nil, fmt.Errorf("scan timestamp: %w", err)
		}
		idx[ts] = len(times)
		times = append(times, time.Unix(ts, 0).UTC())
	}
	return times, idx, rows.Err()
}

// SaveResult persists a complete run, one row per level, and returns the
// run ID.
func (s *Store) SaveResult(ctx context.Context, res *pipeline.Result) (int64, error) {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return 0, fmt.Errorf("save result: encode summary: %w", err)
	}
	stations, err := json.Marshal(res.Stations)
	if err != nil {
		return 0, fmt.Errorf("save result: encode stations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save result: %w", err)
	}
	defer tx.Rollback()

	ins, err := tx.ExecContext(ctx, `
		INSERT INTO runs (started_at, finished_at, description, summary, times, stations)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.StartedAt.UTC().Unix(), res.FinishedAt.UTC().Unix(),
		res.Description(), summary, encodeTimes(res.Times), stations)
	if err != nil {
		return 0, fmt.Errorf("save result: insert run: %w", err)
	}
	runID, err := ins.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save result: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_levels (run_id, level, grid, flags, valid_values, removed, completeness)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("save result: %w", err)
	}
	defer stmt.Close()

	for _, snap := range res.Snapshots {
		var completeness any
		if snap.Stats.Completeness != nil {
			b, err := json.Marshal(snap.Stats.Completeness)
			if err != nil {
				return 0, fmt.Errorf("save result: encode completeness: %w", err)
			}
			completeness = string(b)
		}
		_, err := stmt.ExecContext(ctx, runID, int(snap.Level),
			encodeFloats(snap.Grid.Cells()), encodeFlags(snap.Mask.Cells()),
			snap.Stats.ValidValues, snap.Stats.Removed, completeness)
		if err != nil {
			return 0, fmt.Errorf("save result: level %s: %w", snap.Level, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save result: %w", err)
	}
	return runID, nil
}

// LatestRunSummary returns the newest stored run as a summary event, with
// ok=false when no runs exist yet.
func (s *Store) LatestRunSummary(ctx context.Context) (domain.RunSummaryEvent, bool, error) {
	var (
		event                 domain.RunSummaryEvent
		startedAt, finishedAt int64
		summaryJSON           []byte
		timesBlob             []byte
		stationsJSON          []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, summary, times, stations
		FROM runs ORDER BY id DESC LIMIT 1`).
		Scan(&event.RunID, &startedAt, &finishedAt, &summaryJSON, &timesBlob, &stationsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunSummaryEvent{}, false, nil
	}
	if err != nil {
		return domain.RunSummaryEvent{}, false, fmt.Errorf("latest run: %w", err)
	}

	event.StartedAt = time.Unix(startedAt, 0).UTC()
	event.FinishedAt = time.Unix(finishedAt, 0).UTC()
	event.Timesteps = len(timesBlob) / 8
	if err := json.Unmarshal(summaryJSON, &event.Summary); err != nil {
		return domain.RunSummaryEvent{}, false, fmt.Errorf("latest run: decode summary: %w", err)
	}
	var stations []domain.Station
	if err := json.Unmarshal(stationsJSON, &stations); err != nil {
		return domain.RunSummaryEvent{}, false, fmt.Errorf("latest run: decode stations: %w", err)
	}
	event.Stations = len(stations)
	return event, true, nil
}

// LoadResult reconstructs a stored run, snapshots included.
func (s *Store) LoadResult(ctx context.Context, runID int64) (*pipeline.Result, error) {
	var (
		startedAt, finishedAt int64
		summaryJSON           []byte
		timesBlob             []byte
		stationsJSON          []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, summary, times, stations
		FROM runs WHERE id = ?`, runID).
		Scan(&startedAt, &finishedAt, &summaryJSON, &timesBlob, &stationsJSON)
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}

	res := &pipeline.Result{
		StartedAt:  time.Unix(startedAt, 0).UTC(),
		FinishedAt: time.Unix(finishedAt, 0).UTC(),
		Times:      decodeTimes(timesBlob),
	}
	if err := json.Unmarshal(summaryJSON, &res.Summary); err != nil {
		return nil, fmt.Errorf("load run %d: decode summary: %w", runID, err)
	}
	// The level index is not serialized; restore it from chain order.
	for i := range res.Summary.Levels {
		if lvl, err := domain.LevelFromIndex(i); err == nil {
			res.Summary.Levels[i].Level = lvl
		}
	}
	if err := json.Unmarshal(stationsJSON, &res.Stations); err != nil {
		return nil, fmt.Errorf("load run %d: decode stations: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT level, grid, flags, valid_values, removed, completeness
		FROM run_levels WHERE run_id = ? ORDER BY level`, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}
	defer rows.Close()

	nt, ns := len(res.Times), len(res.Stations)
	for rows.Next() {
		var (
			levelIdx     int
			gridBlob     []byte
			flagsBlob    []byte
			valid        int
			removed      int
			completeness sql.NullString
		)
		if err := rows.Scan(&levelIdx, &gridBlob, &flagsBlob, &valid, &removed, &completeness); err != nil {
			return nil, fmt.Errorf("load run %d: scan level: %w", runID, err)
		}
		lvl, err := domain.LevelFromIndex(levelIdx)
		if err != nil {
			return nil, fmt.Errorf("load run %d: %w", runID, err)
		}
		grid, err := domain.GridFromCells(nt, ns, decodeFloats(gridBlob))
		if err != nil {
			return nil, fmt.Errorf("load run %d: level %s: %w", runID, lvl, err)
		}
		mask, err := domain.MaskFromCells(nt, ns, decodeFlags(flagsBlob))
		if err != nil {
			return nil, fmt.Errorf("load run %d: level %s: %w", runID, lvl, err)
		}
		stats := domain.LevelStats{
			Level:       lvl,
			Name:        lvl.String(),
			ValidValues: valid,
			Removed:     removed,
		}
		if completeness.Valid {
			stats.Completeness = &domain.CompletenessStats{}
			if err := json.Unmarshal([]byte(completeness.String), stats.Completeness); err != nil {
				return nil, fmt.Errorf("load run %d: decode completeness: %w", runID, err)
			}
		}
		res.Snapshots = append(res.Snapshots, domain.Snapshot{
			Level: lvl, Grid: grid, Mask: mask, Stats: stats,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}
	if len(res.Snapshots) != len(domain.Levels()) {
		return nil, fmt.Errorf("load run %d: got %d levels, want %d", runID, len(res.Snapshots), len(domain.Levels()))
	}
	return res, nil
}

// OverlayRecord is the persisted outcome of the long-term temporal check
// applied to a stored run's terminal level.
type OverlayRecord struct {
	RunID       int64
	Grid        domain.Grid
	Mask        domain.Mask
	ValidValues int
	Removed     int
}

// SaveOverlay stores (or replaces) the overlay verdict for a run.
func (s *Store) SaveOverlay(ctx context.Context, rec OverlayRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_overlays (run_id, grid, flags, valid_values, removed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			grid = excluded.grid,
			flags = excluded.flags,
			valid_values = excluded.valid_values,
			removed = excluded.removed`,
		rec.RunID, encodeFloats(rec.Grid.Cells()), encodeFlags(rec.Mask.Cells()),
		rec.ValidValues, rec.Removed)
	if err != nil {
		return fmt.Errorf("save overlay for run %d: %w", rec.RunID, err)
	}
	return nil
}

// LoadOverlay returns the stored overlay for a run, with ok=false when the
// run has none. Grid dimensions come from the run's time axis and station
// metadata.
func (s *Store) LoadOverlay(ctx context.Context, runID int64) (OverlayRecord, bool, error) {
	var timesBlob, stationsJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT times, stations FROM runs WHERE id = ?`, runID).
		Scan(&timesBlob, &stationsJSON)
	if err != nil {
		return OverlayRecord{}, false, fmt.Errorf("load overlay for run %d: %w", runID, err)
	}
	var stations []domain.Station
	if err := json.Unmarshal(stationsJSON, &stations); err != nil {
		return OverlayRecord{}, false, fmt.Errorf("load overlay for run %d: decode stations: %w", runID, err)
	}
	nt, ns := len(timesBlob)/8, len(stations)

	var gridBlob, flagsBlob []byte
	rec := OverlayRecord{RunID: runID}
	err = s.db.QueryRowContext(ctx, `
		SELECT grid, flags, valid_values, removed
		FROM run_overlays WHERE run_id = ?`, runID).
		Scan(&gridBlob, &flagsBlob, &rec.ValidValues, &rec.Removed)
	if errors.Is(err, sql.ErrNoRows) {
		return OverlayRecord{}, false, nil
	}
	if err != nil {
		return OverlayRecord{}, false, fmt.Errorf("load overlay for run %d: %w", runID, err)
	}
	if rec.Grid, err = domain.GridFromCells(nt, ns, decodeFloats(gridBlob)); err != nil {
		return OverlayRecord{}, false, fmt.Errorf("load overlay for run %d: %w", runID, err)
	}
	if rec.Mask, err = domain.MaskFromCells(nt, ns, decodeFlags(flagsBlob)); err != nil {
		return OverlayRecord{}, false, fmt.Errorf("load overlay for run %d: %w", runID, err)
	}
	return rec, true, nil
}

// encodeFloats is bit-exact: every cell round-trips through Float64bits, so
// NaN payloads survive unchanged.
func encodeFloats(cells []float64) []byte {
	out := make([]byte, 8*len(cells))
	for i, v := range cells {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func decodeFloats(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}

func encodeFlags(cells []bool) []byte {
	out := make([]byte, len(cells))
	for i, v := range cells {
		if v {
			out[i] = 1
		}
	}
	return out
}

func decodeFlags(b []byte) []bool {
	out := make([]bool, len(b))
	for i, v := range b {
		out[i] = v == 1
	}
	return out
}

func encodeTimes(times []time.Time) []byte {
	out := make([]byte, 8*len(times))
	for i, t := range times {
		binary.LittleEndian.PutUint64(out[8*i:], uint64(t.UTC().Unix()))
	}
	return out
}

func decodeTimes(b []byte) []time.Time {
	out := make([]time.Time, len(b)/8)
	for i := range out {
		out[i] = time.Unix(int64(binary.LittleEndian.Uint64(b[8*i:])), 0).UTC()
	}
	return out
}
