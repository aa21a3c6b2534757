package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/store"
	"github.com/itsneelabh/pulse/pkg/store/storetest"
)

// setupTestRedis starts a miniredis instance that lives for the test.
func setupTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

func newTestBackend(t *testing.T, mr *miniredis.Miniredis) *Backend {
	t.Helper()
	b, err := New(context.Background(), Options{URL: "redis://" + mr.Addr(), MinConns: 1, MaxConns: 4})
	require.NoError(t, err)
	return b
}

func TestBackend_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return newTestBackend(t, setupTestRedis(t))
	})
}

func TestBackend_KeyLayout(t *testing.T) {
	mr := setupTestRedis(t)
	b := newTestBackend(t, mr)
	defer b.Close()
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.CreateRun(ctx, store.Run{ID: "U", AppName: "svc", ColumnNames: []string{"a", "b"}, CreatedAt: created}))
	require.NoError(t, b.InsertRow(ctx, store.Row{RunID: "U", ArrivedAt: created, Values: []float64{1, 2.5}}))

	assert.Equal(t, "svc", mr.HGet("pulse:run:U", "app_name"))
	assert.Equal(t, `["a","b"]`, mr.HGet("pulse:run:U", "column_names"))

	rows, err := mr.List("pulse:rows:U")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"t":1714557600000000000,"v":[1,2.5]}`, rows[0])

	members, err := mr.ZMembers("pulse:app:svc:runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"U"}, members)

	ok, err := mr.SIsMember("pulse:apps", "svc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackend_Namespace(t *testing.T) {
	mr := setupTestRedis(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewFromClient(client, "custom")
	defer b.Close()

	require.NoError(t, b.CreateRun(context.Background(), store.Run{ID: "U", AppName: "svc", ColumnNames: []string{"a"}}))
	assert.True(t, mr.Exists("custom:run:U"))
	assert.False(t, mr.Exists("pulse:run:U"))
}

func TestBackend_InsertRowDoesNotCreateOrphans(t *testing.T) {
	mr := setupTestRedis(t)
	b := newTestBackend(t, mr)
	defer b.Close()

	err := b.InsertRow(context.Background(), store.Row{RunID: "ghost", ArrivedAt: time.Now(), Values: []float64{1}})
	assert.True(t, core.IsNotFound(err))
	assert.False(t, mr.Exists("pulse:rows:ghost"))
}

func TestBackend_RowsPaging(t *testing.T) {
	mr := setupTestRedis(t)
	b := newTestBackend(t, mr)
	defer b.Close()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.CreateRun(ctx, store.Run{ID: "U", AppName: "svc", ColumnNames: []string{"i"}, CreatedAt: base}))
	total := pageSize*2 + 7
	for i := 0; i < total; i++ {
		require.NoError(t, b.InsertRow(ctx, store.Row{RunID: "U", ArrivedAt: base.Add(time.Duration(i) * time.Millisecond), Values: []float64{float64(i)}}))
	}

	next := 0
	require.NoError(t, b.Rows(ctx, "U", func(row store.Row) error {
		assert.Equal(t, float64(next), row.Values[0])
		next++
		return nil
	}))
	assert.Equal(t, total, next)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)

	_, err = New(context.Background(), Options{URL: "http://not-redis"})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	mr := setupTestRedis(t)
	addr := mr.Addr()
	mr.Close()
	_, err = New(context.Background(), Options{URL: "redis://" + addr})
	assert.True(t, core.IsStoreError(err))
}

func TestBackend_StoreErrors(t *testing.T) {
	mr := setupTestRedis(t)
	b := newTestBackend(t, mr)
	defer b.Close()
	mr.Close()

	_, err := b.Run(context.Background(), "U")
	assert.True(t, core.IsStoreError(err))
}
