// Package sqlite is a store.Backend on an embedded SQLite database
// (modernc.org/sqlite, no cgo).
//
// SQLite has no array type, so column_names and row_data are stored as JSON
// text. Times are stored as unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracing_run (
    uuid          TEXT PRIMARY KEY,
    app_name      TEXT NOT NULL,
    column_names  TEXT NOT NULL,
    creation_time INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tracing_row (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid      TEXT NOT NULL REFERENCES tracing_run (uuid) ON DELETE CASCADE,
    row_data  TEXT NOT NULL,
    date_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tracing_row_uuid_idx ON tracing_row (uuid, id);
CREATE INDEX IF NOT EXISTS tracing_run_app_idx ON tracing_run (app_name, creation_time);
`

const (
	sqlInsertRun = `INSERT INTO tracing_run (uuid, app_name, column_names, creation_time) VALUES (?, ?, ?, ?)`
	// The row is only written when its run exists.
	sqlInsertRow = `INSERT INTO tracing_row (uuid, row_data, date_time)
SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM tracing_run WHERE uuid = ?)`
	sqlSelectRun  = `SELECT app_name, column_names, creation_time FROM tracing_run WHERE uuid = ?`
	sqlSelectRows = `SELECT row_data, date_time FROM tracing_row WHERE uuid = ? ORDER BY id`
	sqlRunStats   = `SELECT count(*), coalesce(min(date_time), 0), coalesce(max(date_time), 0) FROM tracing_row WHERE uuid = ?`
	sqlAllRuns    = `SELECT uuid, app_name, column_names, creation_time FROM tracing_run ORDER BY creation_time DESC, rowid DESC`
	sqlAppRuns    = `SELECT uuid, app_name, column_names, creation_time FROM tracing_run WHERE app_name = ? ORDER BY creation_time DESC, rowid DESC`
)

// Options configures the backend.
type Options struct {
	// Path is the database file.
	Path     string
	MinConns int
	MaxConns int
	Logger   logger.Logger
}

// Backend stores runs in SQLite.
type Backend struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens or creates the database file and applies the schema.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required: %w", core.ErrMissingConfiguration)
	}
	dsn := filepath.Clean(opts.Path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeErr("sqlite.Open", "", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		db.SetMaxIdleConns(opts.MinConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storeErr("sqlite.Open", "", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, storeErr("sqlite.Open", "", err)
	}

	b := &Backend{db: db, logger: &logger.NoOpLogger{}}
	if opts.Logger != nil {
		b.logger = logger.WithComponent(opts.Logger, "store/sqlite")
	}
	b.logger.Info("Opened SQLite store", map[string]interface{}{
		"path":      opts.Path,
		"max_conns": opts.MaxConns,
	})
	return b, nil
}

// CreateRun inserts the run header.
func (b *Backend) CreateRun(ctx context.Context, run store.Run) error {
	columns, err := json.Marshal(nonNil(run.ColumnNames))
	if err != nil {
		return storeErr("sqlite.CreateRun", run.ID, err)
	}
	_, err = b.db.ExecContext(ctx, sqlInsertRun, run.ID, run.AppName, string(columns), run.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return &core.PulseError{Op: "sqlite.CreateRun", Kind: "store", ID: run.ID, Err: core.ErrRunExists}
		}
		return storeErr("sqlite.CreateRun", run.ID, err)
	}
	return nil
}

// InsertRow inserts one row into an existing run.
func (b *Backend) InsertRow(ctx context.Context, row store.Row) error {
	values, err := json.Marshal(nonNilValues(row.Values))
	if err != nil {
		return storeErr("sqlite.InsertRow", row.RunID, err)
	}
	res, err := b.db.ExecContext(ctx, sqlInsertRow, row.RunID, string(values), row.ArrivedAt.UnixNano(), row.RunID)
	if err != nil {
		return storeErr("sqlite.InsertRow", row.RunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("sqlite.InsertRow", row.RunID, err)
	}
	if n == 0 {
		return notFound("sqlite.InsertRow", row.RunID)
	}
	return nil
}

// Run returns a run header.
func (b *Backend) Run(ctx context.Context, runID string) (store.Run, error) {
	var columns string
	var created int64
	run := store.Run{ID: runID}
	err := b.db.QueryRowContext(ctx, sqlSelectRun, runID).Scan(&run.AppName, &columns, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, notFound("sqlite.Run", runID)
	}
	if err != nil {
		return store.Run{}, storeErr("sqlite.Run", runID, err)
	}
	if err := json.Unmarshal([]byte(columns), &run.ColumnNames); err != nil {
		return store.Run{}, storeErr("sqlite.Run", runID, err)
	}
	run.ColumnNames = nonNil(run.ColumnNames)
	run.CreatedAt = time.Unix(0, created).UTC()
	return run, nil
}

// Rows streams the run's rows ordered by insertion.
func (b *Backend) Rows(ctx context.Context, runID string, fn func(store.Row) error) error {
	if _, err := b.Run(ctx, runID); err != nil {
		return err
	}

	rows, err := b.db.QueryContext(ctx, sqlSelectRows, runID)
	if err != nil {
		return storeErr("sqlite.Rows", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		var arrived int64
		if err := rows.Scan(&data, &arrived); err != nil {
			return storeErr("sqlite.Rows", runID, err)
		}
		row := store.Row{RunID: runID, ArrivedAt: time.Unix(0, arrived).UTC()}
		if err := json.Unmarshal([]byte(data), &row.Values); err != nil {
			return storeErr("sqlite.Rows", runID, err)
		}
		row.Values = nonNilValues(row.Values)
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storeErr("sqlite.Rows", runID, err)
	}
	return nil
}

// RunStats aggregates the run's rows in one query.
func (b *Backend) RunStats(ctx context.Context, runID string) (store.RunStats, error) {
	if _, err := b.Run(ctx, runID); err != nil {
		return store.RunStats{}, err
	}

	var stats store.RunStats
	var first, last int64
	if err := b.db.QueryRowContext(ctx, sqlRunStats, runID).Scan(&stats.RowCount, &first, &last); err != nil {
		return store.RunStats{}, storeErr("sqlite.RunStats", runID, err)
	}
	if stats.RowCount > 0 {
		stats.First = time.Unix(0, first).UTC()
		stats.Last = time.Unix(0, last).UTC()
	}
	return stats, nil
}

// Runs lists run headers, newest first.
func (b *Backend) Runs(ctx context.Context, appName string) ([]store.Run, error) {
	var rows *sql.Rows
	var err error
	if appName == "" {
		rows, err = b.db.QueryContext(ctx, sqlAllRuns)
	} else {
		rows, err = b.db.QueryContext(ctx, sqlAppRuns, appName)
	}
	if err != nil {
		return nil, storeErr("sqlite.Runs", appName, err)
	}
	defer rows.Close()

	var out []store.Run
	for rows.Next() {
		var run store.Run
		var columns string
		var created int64
		if err := rows.Scan(&run.ID, &run.AppName, &columns, &created); err != nil {
			return nil, storeErr("sqlite.Runs", appName, err)
		}
		if err := json.Unmarshal([]byte(columns), &run.ColumnNames); err != nil {
			return nil, storeErr("sqlite.Runs", run.ID, err)
		}
		run.ColumnNames = nonNil(run.ColumnNames)
		run.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("sqlite.Runs", appName, err)
	}
	return out, nil
}

// Close closes the database handle.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilValues(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func notFound(op, runID string) error {
	return &core.PulseError{Op: op, Kind: "store", ID: runID, Err: core.ErrRunNotFound}
}

func storeErr(op, runID string, err error) error {
	return &core.PulseError{Op: op, Kind: "store", ID: runID, Err: fmt.Errorf("%w: %v", core.ErrStore, err)}
}
