// Package store persists run audit tables in SQLite. The schema is managed
// by embedded migrations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ag-res/reconcile/internal/diagnostics"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Store is the audit database.
type Store struct {
	*sql.DB
}

// Open opens the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	s, err := OpenNoMigrate(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(Migrations()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenNoMigrate opens the database without touching the schema. Used by the
// migrate command.
func OpenNoMigrate(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &Store{db}, nil
}

// Run is one recorded pipeline run.
type Run struct {
	ID         string
	Year       int
	Seed       uint64
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      diagnostics.RunStats
	Failures   int
}

// StartRun inserts a running run and returns its id.
func (s *Store) StartRun(ctx context.Context, year int, seed uint64, configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := s.ExecContext(ctx,
		`INSERT INTO runs (run_id, year, seed, config_json, status) VALUES (?, ?, ?, ?, ?)`,
		id, year, strconv.FormatUint(seed, 10), configJSON, StatusRunning)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	diagf("started run %s for %d (seed %d)", id, year, seed)
	return id, nil
}

// FinishRun marks a run finished with the given status and statistics.
func (s *Store) FinishRun(ctx context.Context, id, status string, st diagnostics.RunStats, failures int) error {
	res, err := s.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, finished_at = UNIXEPOCH('subsec'),
			sensed_before = ?, sensed_after = ?, ground_truth = ?,
			zeroed = ?, topped_up = ?, shortfalls = ?, unmapped = ?,
			pixels_required = ?, pixels_assigned = ?, skipped_sub_regions = ?,
			recorder_failures = ?
		WHERE run_id = ?`,
		status,
		st.SensedBefore, st.SensedAfter, st.GroundTruth,
		st.Zeroed, st.ToppedUp, st.Shortfalls, st.Unmapped,
		st.PixelsRequired, st.PixelsAssigned, st.SkippedSubRegion,
		failures, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	diagf("finished run %s: %s", id, status)
	return nil
}

// SaveTables writes the recorder's tables for a run in one transaction.
func (s *Store) SaveTables(ctx context.Context, runID string, t diagnostics.Tables) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	batches := []struct {
		name  string
		query string
		rows  int
		args  func(i int) []any
	}{
		{
			"region deltas",
			`INSERT INTO region_deltas (run_id, region, label, acres_before, acres_after, ground_truth) VALUES (?, ?, ?, ?, ?, ?)`,
			len(t.RowDeltas),
			func(i int) []any {
				d := t.RowDeltas[i]
				return []any{runID, d.Region, d.Label, d.Before, d.After, d.GroundTruth}
			},
		},
		{
			"scale factors",
			`INSERT INTO scale_factors (run_id, region, label, original_acres, corrected_acres, factor, mode) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			len(t.ScaleFactors),
			func(i int) []any {
				f := t.ScaleFactors[i]
				return []any{runID, f.Region, f.Label, f.Original, f.Corrected, f.Factor, f.Mode}
			},
		},
		{
			"top-up ledger",
			`INSERT INTO top_up (run_id, unit, region, label, acres_before, acres_target, acres_after) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			len(t.TopUp),
			func(i int) []any {
				r := t.TopUp[i]
				return []any{runID, r.Unit, r.Region, r.Label, r.Before, r.Target, r.After}
			},
		},
		{
			"assignments",
			`INSERT INTO assignments (run_id, sub_region_id, sub_region_name, label, code, required, existing, newly_assigned, total_assigned, value) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			len(t.Assignments),
			func(i int) []any {
				e := t.Assignments[i]
				return []any{runID, e.SubRegionID, e.SubRegionName, e.Label, int(e.Code), e.Required, e.Existing, e.NewlyAssigned, e.TotalAssigned, float64(e.Value)}
			},
		},
		{
			"conservation",
			`INSERT INTO conservation (run_id, stage, region, label, expected, actual, within) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			len(t.Conservation),
			func(i int) []any {
				c := t.Conservation[i]
				return []any{runID, c.Stage, c.Region, c.Label, c.Expected, c.Actual, c.Within}
			},
		},
	}

	for _, b := range batches {
		if b.rows == 0 {
			continue
		}
		stmt, err := tx.PrepareContext(ctx, b.query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", b.name, err)
		}
		for i := 0; i < b.rows; i++ {
			if _, err := stmt.ExecContext(ctx, b.args(i)...); err != nil {
				stmt.Close()
				return fmt.Errorf("insert %s: %w", b.name, err)
			}
		}
		stmt.Close()
		tracef("run %s: stored %d %s", runID, b.rows, b.name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit tables: %w", err)
	}
	return nil
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT run_id, year, seed, status, started_at, COALESCE(finished_at, 0),
			COALESCE(sensed_before, 0), COALESCE(sensed_after, 0), COALESCE(ground_truth, 0),
			COALESCE(zeroed, 0), COALESCE(topped_up, 0), COALESCE(shortfalls, 0), COALESCE(unmapped, 0),
			COALESCE(pixels_required, 0), COALESCE(pixels_assigned, 0), COALESCE(skipped_sub_regions, 0),
			COALESCE(recorder_failures, 0)
		FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			seed              string
			started, finished float64
		)
		if err := rows.Scan(&r.ID, &r.Year, &seed, &r.Status, &started, &finished,
			&r.Stats.SensedBefore, &r.Stats.SensedAfter, &r.Stats.GroundTruth,
			&r.Stats.Zeroed, &r.Stats.ToppedUp, &r.Stats.Shortfalls, &r.Stats.Unmapped,
			&r.Stats.PixelsRequired, &r.Stats.PixelsAssigned, &r.Stats.SkippedSubRegion,
			&r.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("run %s: bad seed %q: %w", r.ID, seed, err)
		}
		r.StartedAt = epoch(started)
		if finished > 0 {
			r.FinishedAt = epoch(finished)
		}
		r.Stats.DiffBefore = r.Stats.SensedBefore - r.Stats.GroundTruth
		r.Stats.DiffAfter = r.Stats.SensedAfter - r.Stats.GroundTruth
		out = append(out, r)
	}
	return out, rows.Err()
}

// RegionDeltas returns the stored row deltas of a run.
func (s *Store) RegionDeltas(ctx context.Context, runID string) ([]diagnostics.RowDelta, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT region, label, acres_before, acres_after, ground_truth
		FROM region_deltas WHERE run_id = ? ORDER BY region, label`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query region deltas: %w", err)
	}
	defer rows.Close()

	var out []diagnostics.RowDelta
	for rows.Next() {
		var d diagnostics.RowDelta
		if err := rows.Scan(&d.Region, &d.Label, &d.Before, &d.After, &d.GroundTruth); err != nil {
			return nil, fmt.Errorf("failed to scan region delta: %w", err)
		}
		d.Delta = d.After - d.Before
		d.DiffBefore = d.Before - d.GroundTruth
		d.DiffAfter = d.After - d.GroundTruth
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountRows returns the number of rows a run stored in table. Only the
// audit tables are accepted.
func (s *Store) CountRows(ctx context.Context, table, runID string) (int, error) {
	switch table {
	case "region_deltas", "scale_factors", "top_up", "assignments", "conservation":
	default:
		return 0, fmt.Errorf("unknown audit table %q", table)
	}
	var n int
	err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

func epoch(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9)).UTC()
}
