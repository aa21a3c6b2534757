package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/logger"
)

// RunRef identifies a run in listings.
type RunRef struct {
	RunID     string    `json:"uuid"`
	AppName   string    `json:"app_name"`
	CreatedAt time.Time `json:"creation_time"`
}

// AppRuns groups the runs of one application, newest first.
type AppRuns struct {
	AppName string   `json:"app_name"`
	Runs    []RunRef `json:"runs"`
}

// RunInfo describes a run for display.
type RunInfo struct {
	AppName   string        `json:"app_name"`
	RowCount  int64         `json:"counter"`
	StartTime time.Time     `json:"started"`
	Duration  time.Duration `json:"-"`
	// HasDuration is false for a run without rows.
	HasDuration bool `json:"-"`
}

// TraceStore applies the run and row rules on top of a Backend.
type TraceStore struct {
	backend Backend
	now     func() time.Time
	logger  logger.Logger

	// widths caches column counts of recently used runs. Evicted runs are
	// looked up again on their next row.
	widthCacheSize int
	widths         *lru.Cache
}

// DefaultWidthCacheSize is the number of runs whose column count is cached.
const DefaultWidthCacheSize = 4096

// Option configures a TraceStore.
type Option func(*TraceStore)

// WithClock sets the clock used to stamp rows and runs.
func WithClock(now func() time.Time) Option {
	return func(s *TraceStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *TraceStore) {
		if l != nil {
			s.logger = logger.WithComponent(l, "store")
		}
	}
}

// WithWidthCacheSize bounds the number of runs whose column count is kept
// in memory. Non-positive sizes are ignored.
func WithWidthCacheSize(n int) Option {
	return func(s *TraceStore) {
		if n > 0 {
			s.widthCacheSize = n
		}
	}
}

// New wraps backend.
func New(backend Backend, opts ...Option) *TraceStore {
	s := &TraceStore{
		backend:        backend,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         &logger.NoOpLogger{},
		widthCacheSize: DefaultWidthCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	// lru.New only fails for a non-positive size, which the option rules out
	s.widths, _ = lru.New(s.widthCacheSize)
	return s
}

// Backend returns the underlying backend.
func (s *TraceStore) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *TraceStore) Close() error {
	return s.backend.Close()
}

// CreateRun registers a run and its column order.
func (s *TraceStore) CreateRun(ctx context.Context, runID, appName string, columnNames []string) error {
	if runID == "" || appName == "" {
		return &core.PulseError{
			Op:   "store.CreateRun",
			Kind: "message",
			ID:   runID,
			Err:  fmt.Errorf("%w: run id and app name are required", core.ErrInvalidMessage),
		}
	}

	seen := make(map[string]struct{}, len(columnNames))
	for _, c := range columnNames {
		if _, dup := seen[c]; dup {
			return &core.PulseError{
				Op:   "store.CreateRun",
				Kind: "message",
				ID:   runID,
				Err:  fmt.Errorf("%w: duplicate column %q", core.ErrInvalidMessage, c),
			}
		}
		seen[c] = struct{}{}
	}

	columns := make([]string, len(columnNames))
	copy(columns, columnNames)

	run := Run{ID: runID, AppName: appName, ColumnNames: columns, CreatedAt: s.now()}
	if err := s.backend.CreateRun(ctx, run); err != nil {
		return err
	}

	s.widths.Add(runID, len(columns))

	s.logger.Debug("Run created", map[string]interface{}{
		"run_id":  runID,
		"app":     appName,
		"columns": len(columns),
	})
	return nil
}

// InsertRow appends values to a run, stamped with the store clock.
// The values must match the run's column count.
func (s *TraceStore) InsertRow(ctx context.Context, runID string, values []float64) error {
	width, err := s.width(ctx, runID)
	if err != nil {
		return err
	}
	if len(values) != width {
		return &core.PulseError{
			Op:   "store.InsertRow",
			Kind: "store",
			ID:   runID,
			Err:  fmt.Errorf("%w: want %d values, got %d", core.ErrRowShape, width, len(values)),
		}
	}

	row := Row{RunID: runID, ArrivedAt: s.now(), Values: append([]float64(nil), values...)}
	return s.backend.InsertRow(ctx, row)
}

// width returns the column count of a run, asking the backend once.
func (s *TraceStore) width(ctx context.Context, runID string) (int, error) {
	if w, ok := s.widths.Get(runID); ok {
		return w.(int), nil
	}

	run, err := s.backend.Run(ctx, runID)
	if err != nil {
		return 0, err
	}

	s.widths.Add(runID, len(run.ColumnNames))
	return len(run.ColumnNames), nil
}

// ReadTrace renders a run as CSV text: a header line followed by one line
// per row in arrival order, without a trailing newline.
func (s *TraceStore) ReadTrace(ctx context.Context, runID string) (string, error) {
	run, err := s.backend.Run(ctx, runID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(header(run.ColumnNames))
	width := len(run.ColumnNames)
	err = s.backend.Rows(ctx, runID, func(row Row) error {
		b.WriteByte('\n')
		return writeLine(&b, row, width)
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// ReadTraceJSON returns a run column by column. The "time" key holds the
// formatted arrival times and every other key one column's values.
func (s *TraceStore) ReadTraceJSON(ctx context.Context, runID string) (map[string][]any, error) {
	run, err := s.backend.Run(ctx, runID)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]any, len(run.ColumnNames)+1)
	out["time"] = []any{}
	for _, c := range run.ColumnNames {
		out[c] = []any{}
	}

	err = s.backend.Rows(ctx, runID, func(row Row) error {
		named, err := Decode(run.ColumnNames, row.Values)
		if err != nil {
			return err
		}
		out["time"] = append(out["time"], FormatTime(row.ArrivedAt))
		for _, c := range run.ColumnNames {
			out[c] = append(out[c], named[c])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllRuns lists every run grouped by application. Apps are ordered by
// their newest run and runs within an app newest first.
func (s *TraceStore) GetAllRuns(ctx context.Context) ([]AppRuns, error) {
	runs, err := s.backend.Runs(ctx, "")
	if err != nil {
		return nil, err
	}
	sortNewestFirst(runs)

	var out []AppRuns
	index := make(map[string]int)
	for _, r := range runs {
		i, ok := index[r.AppName]
		if !ok {
			i = len(out)
			index[r.AppName] = i
			out = append(out, AppRuns{AppName: r.AppName})
		}
		out[i].Runs = append(out[i].Runs, refOf(r))
	}
	return out, nil
}

// GetRunsForApp lists the runs of one application, newest first.
func (s *TraceStore) GetRunsForApp(ctx context.Context, appName string) ([]RunRef, error) {
	runs, err := s.backend.Runs(ctx, appName)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(runs)

	out := make([]RunRef, 0, len(runs))
	for _, r := range runs {
		out = append(out, refOf(r))
	}
	return out, nil
}

// LatestRun returns the newest run of an application.
func (s *TraceStore) LatestRun(ctx context.Context, appName string) (RunRef, error) {
	runs, err := s.GetRunsForApp(ctx, appName)
	if err != nil {
		return RunRef{}, err
	}
	if len(runs) == 0 {
		return RunRef{}, &core.PulseError{
			Op:   "store.LatestRun",
			Kind: "store",
			ID:   appName,
			Err:  core.ErrRunNotFound,
		}
	}
	return runs[0], nil
}

// GetRunInfo reports the app, row count, start and duration of a run.
// A run without rows starts at its creation time and has no duration.
func (s *TraceStore) GetRunInfo(ctx context.Context, runID string) (RunInfo, error) {
	run, err := s.backend.Run(ctx, runID)
	if err != nil {
		return RunInfo{}, err
	}
	stats, err := s.backend.RunStats(ctx, runID)
	if err != nil {
		return RunInfo{}, err
	}

	info := RunInfo{AppName: run.AppName, RowCount: stats.RowCount, StartTime: run.CreatedAt}
	if stats.RowCount > 0 {
		info.StartTime = stats.First
		info.Duration = stats.Last.Sub(stats.First)
		info.HasDuration = true
	}
	return info, nil
}

func refOf(r Run) RunRef {
	return RunRef{RunID: r.ID, AppName: r.AppName, CreatedAt: r.CreatedAt}
}

func sortNewestFirst(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
