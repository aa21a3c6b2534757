// Package storetest holds the conformance suite every store.Backend must
// pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/store"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) store.Backend

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"CreateAndGetRun", testCreateAndGetRun},
		{"DuplicateRun", testDuplicateRun},
		{"UnknownRun", testUnknownRun},
		{"RowsInArrivalOrder", testRowsInArrivalOrder},
		{"RowsStopOnError", testRowsStopOnError},
		{"RunStats", testRunStats},
		{"RunsNewestFirst", testRunsNewestFirst},
		{"EmptyColumns", testEmptyColumns},
		{"TraceStoreReadTrace", testTraceStoreReadTrace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tt.fn(t, b)
		})
	}
}

func testCreateAndGetRun(t *testing.T, b store.Backend) {
	ctx := context.Background()
	run := store.Run{ID: "run-1", AppName: "app", ColumnNames: []string{"v1", "v2", "v3"}, CreatedAt: base}
	require.NoError(t, b.CreateRun(ctx, run))

	got, err := b.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, "app", got.AppName)
	assert.Equal(t, []string{"v1", "v2", "v3"}, got.ColumnNames)
	assert.True(t, base.Equal(got.CreatedAt), "created at %v, want %v", got.CreatedAt, base)
}

func testDuplicateRun(t *testing.T, b store.Backend) {
	ctx := context.Background()
	run := store.Run{ID: "dup", AppName: "app", ColumnNames: []string{"a"}, CreatedAt: base}
	require.NoError(t, b.CreateRun(ctx, run))

	err := b.CreateRun(ctx, run)
	assert.ErrorIs(t, err, core.ErrRunExists)
}

func testUnknownRun(t *testing.T, b store.Backend) {
	ctx := context.Background()

	_, err := b.Run(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrRunNotFound)

	err = b.InsertRow(ctx, store.Row{RunID: "missing", ArrivedAt: base, Values: []float64{1}})
	assert.ErrorIs(t, err, core.ErrRunNotFound)

	err = b.Rows(ctx, "missing", func(store.Row) error { return nil })
	assert.ErrorIs(t, err, core.ErrRunNotFound)

	_, err = b.RunStats(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrRunNotFound)
}

func testRowsInArrivalOrder(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRun(ctx, store.Run{ID: "r", AppName: "app", ColumnNames: []string{"x", "y"}, CreatedAt: base}))

	want := [][]float64{
		{1, 2},
		{0.1, -3.5},
		{1e-9, 123456789.125},
		{0, 0},
	}
	for i, v := range want {
		require.NoError(t, b.InsertRow(ctx, store.Row{RunID: "r", ArrivedAt: base.Add(time.Duration(i) * time.Second), Values: v}))
	}

	var got [][]float64
	var times []time.Time
	require.NoError(t, b.Rows(ctx, "r", func(row store.Row) error {
		assert.Equal(t, "r", row.RunID)
		got = append(got, row.Values)
		times = append(times, row.ArrivedAt)
		return nil
	}))

	assert.Equal(t, want, got)
	require.Len(t, times, len(want))
	for i, ts := range times {
		assert.True(t, base.Add(time.Duration(i)*time.Second).Equal(ts), "row %d at %v", i, ts)
	}
}

func testRowsStopOnError(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRun(ctx, store.Run{ID: "r", AppName: "app", ColumnNames: []string{"x"}, CreatedAt: base}))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.InsertRow(ctx, store.Row{RunID: "r", ArrivedAt: base.Add(time.Duration(i) * time.Second), Values: []float64{float64(i)}}))
	}

	stop := errors.New("stop")
	calls := 0
	err := b.Rows(ctx, "r", func(store.Row) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func testRunStats(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRun(ctx, store.Run{ID: "r", AppName: "app", ColumnNames: []string{"x"}, CreatedAt: base}))

	stats, err := b.RunStats(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.RowCount)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.InsertRow(ctx, store.Row{RunID: "r", ArrivedAt: base.Add(time.Duration(i) * 10 * time.Second), Values: []float64{1}}))
	}
	stats, err = b.RunStats(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.RowCount)
	assert.True(t, base.Equal(stats.First), "first %v", stats.First)
	assert.True(t, base.Add(40*time.Second).Equal(stats.Last), "last %v", stats.Last)
}

func testRunsNewestFirst(t *testing.T, b store.Backend) {
	ctx := context.Background()
	runs := []store.Run{
		{ID: "a1", AppName: "a", ColumnNames: []string{"x"}, CreatedAt: base},
		{ID: "b1", AppName: "b", ColumnNames: []string{"x"}, CreatedAt: base.Add(time.Minute)},
		{ID: "a2", AppName: "a", ColumnNames: []string{"x"}, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		require.NoError(t, b.CreateRun(ctx, r))
	}

	all, err := b.Runs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "b1", "a1"}, ids(all))

	onlyA, err := b.Runs(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1"}, ids(onlyA))

	none, err := b.Runs(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testEmptyColumns(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRun(ctx, store.Run{ID: "e", AppName: "app", ColumnNames: []string{}, CreatedAt: base}))
	require.NoError(t, b.InsertRow(ctx, store.Row{RunID: "e", ArrivedAt: base, Values: []float64{}}))

	run, err := b.Run(ctx, "e")
	require.NoError(t, err)
	assert.Empty(t, run.ColumnNames)

	count := 0
	require.NoError(t, b.Rows(ctx, "e", func(row store.Row) error {
		count++
		assert.Empty(t, row.Values)
		return nil
	}))
	assert.Equal(t, 1, count)
}

func testTraceStoreReadTrace(t *testing.T, b store.Backend) {
	ctx := context.Background()
	tick := base
	s := store.New(b, store.WithClock(func() time.Time {
		now := tick
		tick = tick.Add(time.Second)
		return now
	}))

	require.NoError(t, s.CreateRun(ctx, "U", "app", []string{"v1", "v2"}))
	require.NoError(t, s.InsertRow(ctx, "U", []float64{1, 2}))
	require.NoError(t, s.InsertRow(ctx, "U", []float64{3, 4}))
	require.NoError(t, s.InsertRow(ctx, "U", []float64{5, 6}))

	got, err := s.ReadTrace(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, "time,v1,v2\n"+
		"2024-03-01 12:00:01,1,2\n"+
		"2024-03-01 12:00:02,3,4\n"+
		"2024-03-01 12:00:03,5,6", got)
}

func ids(runs []store.Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
