// Package results persists measurement runs in a SQLite database.
package results

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// ErrNoResults is returned when no measurement run has been stored yet.
var ErrNoResults = errors.New("no measurement results")

var schema = []string{`
CREATE TABLE IF NOT EXISTS runs(
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	points     INTEGER NOT NULL,
	kind       TEXT    NOT NULL DEFAULT 'Measure'
)`, `
CREATE TABLE IF NOT EXISTS results(
	run_id         TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq            INTEGER NOT NULL,
	frequency      REAL    NOT NULL,
	power_set      REAL    NOT NULL,
	power_measured REAL    NOT NULL,
	power_adjusted REAL    NOT NULL,
	power_ref      REAL    NOT NULL,
	PRIMARY KEY(run_id, seq)
)`,
}

// migrations bring databases created by older versions up to schema. A
// "duplicate column" failure means the step is already applied.
var migrations = []string{
	`ALTER TABLE runs ADD COLUMN kind TEXT NOT NULL DEFAULT 'Measure'`,
}

// Run describes one stored measurement run.
type Run struct {
	ID        string              `json:"id"`
	Kind      calibration.RunKind `json:"kind"`
	CreatedAt time.Time           `json:"createdAt"`
	Points    int                 `json:"points"`
}

// RunResults is a stored run together with its points.
type RunResults struct {
	Run    Run                       `json:"run"`
	Points []calibration.ResultPoint `json:"points"`
}

// Store is a SQLite backed result store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string

	// now is a seam for tests.
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create directory for %s", path)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open result database %s", path)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, pkgerrors.Wrapf(err, "failed to create schema in %s", path)
		}
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			_ = db.Close()
			return nil, pkgerrors.Wrapf(err, "failed to migrate schema in %s", path)
		}
	}

	logrus.WithField("path", path).Debug("result store opened")
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores points under runID in one transaction. Saving the same
// runID again replaces its points.
func (s *Store) SaveRun(ctx context.Context, runID string, kind calibration.RunKind, points []calibration.ResultPoint) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace run %s", runID)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO runs(id, created_at, points, kind) VALUES(?, ?, ?, ?)`,
		runID, s.now().UnixNano(), len(points), string(kind)); err != nil {
		return pkgerrors.Wrapf(err, "failed to insert run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results(run_id, seq, frequency, power_set, power_measured, power_adjusted, power_ref) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	for i, p := range points {
		if _, err = stmt.ExecContext(ctx, runID, i, p.Frequency, p.PowerSet, p.PowerMeasured, p.PowerAdjusted, p.PowerRef); err != nil {
			return pkgerrors.Wrapf(err, "failed to insert point %d of run %s", i, runID)
		}
	}

	if err = tx.Commit(); err != nil {
		return pkgerrors.Wrapf(err, "failed to commit run %s", runID)
	}

	logrus.WithFields(logrus.Fields{
		"run":    runID,
		"kind":   kind,
		"points": len(points),
	}).Info("measurement results stored")
	return nil
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, points, kind FROM runs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Latest returns the newest run and its points in measurement order.
func (s *Store) Latest(ctx context.Context) (Run, []calibration.ResultPoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at, points, kind FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, ErrNoResults
	}
	if err != nil {
		return Run{}, nil, pkgerrors.Wrap(err, "failed to query latest run")
	}
	return s.withPoints(ctx, r)
}

// LatestOf returns the newest run of kind and its points.
func (s *Store) LatestOf(ctx context.Context, kind calibration.RunKind) (Run, []calibration.ResultPoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at, points, kind FROM runs WHERE kind = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, string(kind))
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, pkgerrors.Wrapf(ErrNoResults, "no %s run", kind)
	}
	if err != nil {
		return Run{}, nil, pkgerrors.Wrapf(err, "failed to query latest %s run", kind)
	}
	return s.withPoints(ctx, r)
}

// Get returns run runID and its points. An unknown id yields ErrNoResults.
func (s *Store) Get(ctx context.Context, runID string) (Run, []calibration.ResultPoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at, points, kind FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, pkgerrors.Wrapf(ErrNoResults, "run %s", runID)
	}
	if err != nil {
		return Run{}, nil, pkgerrors.Wrapf(err, "failed to query run %s", runID)
	}
	return s.withPoints(ctx, r)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r    Run
		ts   int64
		kind string
	)
	if err := row.Scan(&r.ID, &ts, &r.Points, &kind); err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.Unix(0, ts)
	r.Kind = calibration.RunKind(kind)
	return r, nil
}

func (s *Store) withPoints(ctx context.Context, r Run) (Run, []calibration.ResultPoint, error) {
	points, err := s.Points(ctx, r.ID)
	if err != nil {
		return Run{}, nil, err
	}
	return r, points, nil
}

// Points returns the points of runID in measurement order. It does not
// check that the run exists; use Get for that.
func (s *Store) Points(ctx context.Context, runID string) ([]calibration.ResultPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT frequency, power_set, power_measured, power_adjusted, power_ref FROM results WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to query run %s", runID)
	}
	defer rows.Close()

	points := []calibration.ResultPoint{}
	for rows.Next() {
		var p calibration.ResultPoint
		if err := rows.Scan(&p.Frequency, &p.PowerSet, &p.PowerMeasured, &p.PowerAdjusted, &p.PowerRef); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan result point")
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Sink binds the store to one run so it can be handed to a measurement.
func (s *Store) Sink(runID string, kind calibration.RunKind) *RunSink {
	return &RunSink{store: s, runID: runID, kind: kind}
}

// RunSink saves a measurement's points under a fixed run id.
type RunSink struct {
	store *Store
	runID string
	kind  calibration.RunKind
}

func (r *RunSink) Save(ctx context.Context, points []calibration.ResultPoint) error {
	return r.store.SaveRun(ctx, r.runID, r.kind, points)
}
