package store

import (
	"context"
	"time"
)

// Run is the immutable header of a trace run.
type Run struct {
	ID          string
	AppName     string
	ColumnNames []string
	CreatedAt   time.Time
}

// Row is one sampled snapshot belonging to a run.
type Row struct {
	RunID     string
	ArrivedAt time.Time
	Values    []float64
}

// RunStats summarises the rows stored for a run.
type RunStats struct {
	RowCount int64
	First    time.Time
	Last     time.Time
}

// Backend is the persistence contract behind a TraceStore.
//
// Implementations must be safe for concurrent use. Errors for unknown runs
// wrap core.ErrRunNotFound, duplicate runs wrap core.ErrRunExists and
// connection or query failures wrap core.ErrStore.
type Backend interface {
	// CreateRun stores the run header.
	CreateRun(ctx context.Context, run Run) error

	// InsertRow appends a row to an existing run.
	InsertRow(ctx context.Context, row Row) error

	// Run returns the header of one run.
	Run(ctx context.Context, runID string) (Run, error)

	// Rows calls fn for every row of the run in arrival order. Iteration
	// stops at the first error returned by fn.
	Rows(ctx context.Context, runID string, fn func(Row) error) error

	// RunStats returns the row count and time span of a run.
	RunStats(ctx context.Context, runID string) (RunStats, error)

	// Runs lists run headers, newest first. An empty appName lists every app.
	Runs(ctx context.Context, appName string) ([]Run, error)

	// Close releases the backend's connections.
	Close() error
}
