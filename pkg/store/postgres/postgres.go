// Package postgres is a store.Backend on PostgreSQL using a pgx pool.
//
// Runs live in tracing_run with their column names as a text[]; rows live in
// tracing_row as float8[] ordered by a bigserial id, so reading back keeps
// arrival order.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracing_run (
    uuid          text PRIMARY KEY,
    app_name      text NOT NULL,
    column_names  text[] NOT NULL,
    creation_time timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tracing_row (
    id        bigserial PRIMARY KEY,
    uuid      text NOT NULL REFERENCES tracing_run (uuid) ON DELETE CASCADE,
    row_data  float8[] NOT NULL,
    date_time timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tracing_row_uuid_idx ON tracing_row (uuid, id);
CREATE INDEX IF NOT EXISTS tracing_run_app_idx ON tracing_run (app_name, creation_time DESC);
`

const (
	sqlInsertRun  = `INSERT INTO tracing_run (uuid, app_name, column_names, creation_time) VALUES ($1, $2, $3, $4)`
	sqlInsertRow  = `INSERT INTO tracing_row (uuid, row_data, date_time) VALUES ($1, $2, $3)`
	sqlSelectRun  = `SELECT app_name, column_names, creation_time FROM tracing_run WHERE uuid = $1`
	sqlSelectRows = `SELECT row_data, date_time FROM tracing_row WHERE uuid = $1 ORDER BY id`
	sqlRunStats   = `SELECT count(*), min(date_time), max(date_time) FROM tracing_row WHERE uuid = $1`
	sqlAllRuns    = `SELECT uuid, app_name, column_names, creation_time FROM tracing_run ORDER BY creation_time DESC`
	sqlAppRuns    = `SELECT uuid, app_name, column_names, creation_time FROM tracing_run WHERE app_name = $1 ORDER BY creation_time DESC`
)

// Options configures the backend.
type Options struct {
	ConnString string
	MinConns   int
	MaxConns   int
	Logger     logger.Logger
}

// Backend stores runs in PostgreSQL.
type Backend struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects, pings and creates the schema if missing.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.ConnString == "" {
		return nil, fmt.Errorf("postgres connection string is required: %w", core.ErrMissingConfiguration)
	}
	config, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", core.ErrInvalidConfiguration)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		config.MinConns = int32(opts.MinConns)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, classify("postgres.New", "", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("postgres.New", "", err)
	}

	b := NewFromPool(pool)
	if opts.Logger != nil {
		b.logger = logger.WithComponent(opts.Logger, "store/postgres")
	}
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	b.logger.Info("Connected to PostgreSQL", map[string]interface{}{
		"host":      config.ConnConfig.Host,
		"database":  config.ConnConfig.Database,
		"max_conns": config.MaxConns,
		"min_conns": config.MinConns,
	})
	return b, nil
}

// NewFromPool wraps an existing pool. Call EnsureSchema before use on a
// fresh database.
func NewFromPool(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool, logger: &logger.NoOpLogger{}}
}

// Pool exposes the pool so diagnostics can share it.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return classify("postgres.EnsureSchema", "", err)
	}
	return nil
}

// CreateRun inserts the run header.
func (b *Backend) CreateRun(ctx context.Context, run store.Run) error {
	columns := run.ColumnNames
	if columns == nil {
		columns = []string{}
	}
	_, err := b.pool.Exec(ctx, sqlInsertRun, run.ID, run.AppName, columns, run.CreatedAt)
	return classify("postgres.CreateRun", run.ID, err)
}

// InsertRow inserts one row. The foreign key rejects unknown runs.
func (b *Backend) InsertRow(ctx context.Context, row store.Row) error {
	values := row.Values
	if values == nil {
		values = []float64{}
	}
	_, err := b.pool.Exec(ctx, sqlInsertRow, row.RunID, values, row.ArrivedAt)
	return classify("postgres.InsertRow", row.RunID, err)
}

// Run returns a run header.
func (b *Backend) Run(ctx context.Context, runID string) (store.Run, error) {
	run := store.Run{ID: runID}
	err := b.pool.QueryRow(ctx, sqlSelectRun, runID).Scan(&run.AppName, &run.ColumnNames, &run.CreatedAt)
	if err != nil {
		return store.Run{}, classify("postgres.Run", runID, err)
	}
	if run.ColumnNames == nil {
		run.ColumnNames = []string{}
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return run, nil
}

// Rows streams the run's rows ordered by insertion.
func (b *Backend) Rows(ctx context.Context, runID string, fn func(store.Row) error) error {
	if _, err := b.Run(ctx, runID); err != nil {
		return err
	}

	rows, err := b.pool.Query(ctx, sqlSelectRows, runID)
	if err != nil {
		return classify("postgres.Rows", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		row := store.Row{RunID: runID}
		if err := rows.Scan(&row.Values, &row.ArrivedAt); err != nil {
			return classify("postgres.Rows", runID, err)
		}
		if row.Values == nil {
			row.Values = []float64{}
		}
		row.ArrivedAt = row.ArrivedAt.UTC()
		if err := fn(row); err != nil {
			return err
		}
	}
	return classify("postgres.Rows", runID, rows.Err())
}

// RunStats aggregates the run's rows in one query.
func (b *Backend) RunStats(ctx context.Context, runID string) (store.RunStats, error) {
	if _, err := b.Run(ctx, runID); err != nil {
		return store.RunStats{}, err
	}

	var stats store.RunStats
	var first, last *time.Time
	if err := b.pool.QueryRow(ctx, sqlRunStats, runID).Scan(&stats.RowCount, &first, &last); err != nil {
		return store.RunStats{}, classify("postgres.RunStats", runID, err)
	}
	if first != nil {
		stats.First = first.UTC()
	}
	if last != nil {
		stats.Last = last.UTC()
	}
	return stats, nil
}

// Runs lists run headers, newest first.
func (b *Backend) Runs(ctx context.Context, appName string) ([]store.Run, error) {
	var rows pgx.Rows
	var err error
	if appName == "" {
		rows, err = b.pool.Query(ctx, sqlAllRuns)
	} else {
		rows, err = b.pool.Query(ctx, sqlAppRuns, appName)
	}
	if err != nil {
		return nil, classify("postgres.Runs", appName, err)
	}
	defer rows.Close()

	var out []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(&run.ID, &run.AppName, &run.ColumnNames, &run.CreatedAt); err != nil {
			return nil, classify("postgres.Runs", appName, err)
		}
		run.CreatedAt = run.CreatedAt.UTC()
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres.Runs", appName, err)
	}
	return out, nil
}

// Close closes the pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// classify maps driver errors onto the store taxonomy. A nil err stays nil.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &core.PulseError{Op: op, Kind: "store", ID: id, Err: core.ErrRunNotFound}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &core.PulseError{Op: op, Kind: "store", ID: id, Err: core.ErrRunExists}
		case pgForeignKeyViolation:
			return &core.PulseError{Op: op, Kind: "store", ID: id, Err: core.ErrRunNotFound}
		}
	}
	return &core.PulseError{Op: op, Kind: "store", ID: id, Err: fmt.Errorf("%w: %v", core.ErrStore, err)}
}
