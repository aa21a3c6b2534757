package store

import (
	"context"
	"sync"

	"github.com/itsneelabh/pulse/pkg/core"
)

// MemoryBackend keeps runs in process memory. Data is lost on exit.
type MemoryBackend struct {
	mu    sync.RWMutex
	runs  map[string]Run
	rows  map[string][]Row
	order []string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		runs: make(map[string]Run),
		rows: make(map[string][]Row),
	}
}

// CreateRun stores the run header.
func (m *MemoryBackend) CreateRun(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return &core.PulseError{Op: "memory.CreateRun", Kind: "store", ID: run.ID, Err: core.ErrRunExists}
	}
	run.ColumnNames = append([]string(nil), run.ColumnNames...)
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	return nil
}

// InsertRow appends a row.
func (m *MemoryBackend) InsertRow(ctx context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[row.RunID]; !exists {
		return notFound("memory.InsertRow", row.RunID)
	}
	row.Values = append([]float64(nil), row.Values...)
	m.rows[row.RunID] = append(m.rows[row.RunID], row)
	return nil
}

// Run returns a run header.
func (m *MemoryBackend) Run(ctx context.Context, runID string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[runID]
	if !exists {
		return Run{}, notFound("memory.Run", runID)
	}
	run.ColumnNames = append([]string(nil), run.ColumnNames...)
	return run, nil
}

// Rows iterates over a snapshot of the run's rows.
func (m *MemoryBackend) Rows(ctx context.Context, runID string, fn func(Row) error) error {
	m.mu.RLock()
	if _, exists := m.runs[runID]; !exists {
		m.mu.RUnlock()
		return notFound("memory.Rows", runID)
	}
	rows := append([]Row(nil), m.rows[runID]...)
	m.mu.RUnlock()

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// RunStats returns the row count and time span.
func (m *MemoryBackend) RunStats(ctx context.Context, runID string) (RunStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.runs[runID]; !exists {
		return RunStats{}, notFound("memory.RunStats", runID)
	}
	rows := m.rows[runID]
	stats := RunStats{RowCount: int64(len(rows))}
	for i, r := range rows {
		if i == 0 || r.ArrivedAt.Before(stats.First) {
			stats.First = r.ArrivedAt
		}
		if i == 0 || r.ArrivedAt.After(stats.Last) {
			stats.Last = r.ArrivedAt
		}
	}
	return stats, nil
}

// Runs lists run headers, newest first.
func (m *MemoryBackend) Runs(ctx context.Context, appName string) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Run
	for i := len(m.order) - 1; i >= 0; i-- {
		run := m.runs[m.order[i]]
		if appName != "" && run.AppName != appName {
			continue
		}
		run.ColumnNames = append([]string(nil), run.ColumnNames...)
		out = append(out, run)
	}
	sortNewestFirst(out)
	return out, nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}

func notFound(op, runID string) error {
	return &core.PulseError{Op: op, Kind: "store", ID: runID, Err: core.ErrRunNotFound}
}
