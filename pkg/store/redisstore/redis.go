// Package redisstore is a store.Backend on Redis.
//
// Key layout, all under a namespace prefix ("pulse" by default):
//
//	<ns>:run:<id>          hash  app_name, column_names (JSON), creation_time (unix ns)
//	<ns>:rows:<id>         list  one JSON {"t":<unix ns>,"v":[...]} per row, arrival order
//	<ns>:app:<name>:runs   zset  run ids scored by creation time (unix µs)
//	<ns>:apps              set   app names
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/store"
)

// DefaultNamespace prefixes every key when Options.Namespace is empty.
const DefaultNamespace = "pulse"

const pageSize = 512

// appendIfExists pushes a row only when the run hash exists.
var appendIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('RPUSH', KEYS[2], ARGV[1])
`)

// Options configures the backend.
type Options struct {
	URL       string
	Namespace string
	MinConns  int
	MaxConns  int
	Logger    logger.Logger
}

// Backend stores runs in Redis.
type Backend struct {
	client    *redis.Client
	namespace string
	logger    logger.Logger
}

type rowRecord struct {
	T int64     `json:"t"`
	V []float64 `json:"v"`
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrMissingConfiguration)
	}
	redisOpt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}
	if opts.MaxConns > 0 {
		redisOpt.PoolSize = opts.MaxConns
	}
	if opts.MinConns > 0 {
		redisOpt.MinIdleConns = opts.MinConns
	}

	client := redis.NewClient(redisOpt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storeErr("redisstore.New", "", err)
	}

	b := NewFromClient(client, opts.Namespace)
	if opts.Logger != nil {
		b.logger = logger.WithComponent(opts.Logger, "store/redis")
	}
	b.logger.Info("Connected to Redis", map[string]interface{}{
		"addr":      redisOpt.Addr,
		"db":        redisOpt.DB,
		"namespace": b.namespace,
		"pool_size": redisOpt.PoolSize,
	})
	return b, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, namespace string) *Backend {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Backend{client: client, namespace: namespace, logger: &logger.NoOpLogger{}}
}

func (b *Backend) runKey(id string) string   { return fmt.Sprintf("%s:run:%s", b.namespace, id) }
func (b *Backend) rowsKey(id string) string  { return fmt.Sprintf("%s:rows:%s", b.namespace, id) }
func (b *Backend) appKey(name string) string { return fmt.Sprintf("%s:app:%s:runs", b.namespace, name) }
func (b *Backend) appsKey() string           { return b.namespace + ":apps" }

// CreateRun stores the run header and indexes it under its app.
func (b *Backend) CreateRun(ctx context.Context, run store.Run) error {
	columns, err := json.Marshal(nonNil(run.ColumnNames))
	if err != nil {
		return storeErr("redisstore.CreateRun", run.ID, err)
	}
	key := b.runKey(run.ID)

	err = b.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return core.ErrRunExists
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key,
				"app_name", run.AppName,
				"column_names", string(columns),
				"creation_time", strconv.FormatInt(run.CreatedAt.UnixNano(), 10))
			p.ZAdd(ctx, b.appKey(run.AppName), &redis.Z{
				Score:  float64(run.CreatedAt.UnixMicro()),
				Member: run.ID,
			})
			p.SAdd(ctx, b.appsKey(), run.AppName)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrRunExists), errors.Is(err, redis.TxFailedErr):
		return &core.PulseError{Op: "redisstore.CreateRun", Kind: "store", ID: run.ID, Err: core.ErrRunExists}
	default:
		return storeErr("redisstore.CreateRun", run.ID, err)
	}
}

// InsertRow appends a row to the run's list.
func (b *Backend) InsertRow(ctx context.Context, row store.Row) error {
	data, err := json.Marshal(rowRecord{T: row.ArrivedAt.UnixNano(), V: nonNilValues(row.Values)})
	if err != nil {
		return storeErr("redisstore.InsertRow", row.RunID, err)
	}

	n, err := appendIfExists.Run(ctx, b.client, []string{b.runKey(row.RunID), b.rowsKey(row.RunID)}, data).Int64()
	if err != nil {
		return storeErr("redisstore.InsertRow", row.RunID, err)
	}
	if n < 0 {
		return notFound("redisstore.InsertRow", row.RunID)
	}
	return nil
}

// Run returns a run header.
func (b *Backend) Run(ctx context.Context, runID string) (store.Run, error) {
	fields, err := b.client.HGetAll(ctx, b.runKey(runID)).Result()
	if err != nil {
		return store.Run{}, storeErr("redisstore.Run", runID, err)
	}
	if len(fields) == 0 {
		return store.Run{}, notFound("redisstore.Run", runID)
	}
	return decodeRun(runID, fields)
}

// Rows pages through the run's list in arrival order.
func (b *Backend) Rows(ctx context.Context, runID string, fn func(store.Row) error) error {
	if err := b.requireRun(ctx, "redisstore.Rows", runID); err != nil {
		return err
	}

	key := b.rowsKey(runID)
	for start := int64(0); ; start += pageSize {
		page, err := b.client.LRange(ctx, key, start, start+pageSize-1).Result()
		if err != nil {
			return storeErr("redisstore.Rows", runID, err)
		}
		for _, raw := range page {
			row, err := decodeRow(runID, raw)
			if err != nil {
				return err
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// RunStats reads the list length and its first and last rows.
func (b *Backend) RunStats(ctx context.Context, runID string) (store.RunStats, error) {
	if err := b.requireRun(ctx, "redisstore.RunStats", runID); err != nil {
		return store.RunStats{}, err
	}

	key := b.rowsKey(runID)
	var count *redis.IntCmd
	var first, last *redis.StringCmd
	_, err := b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		count = p.LLen(ctx, key)
		first = p.LIndex(ctx, key, 0)
		last = p.LIndex(ctx, key, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.RunStats{}, storeErr("redisstore.RunStats", runID, err)
	}

	stats := store.RunStats{RowCount: count.Val()}
	if stats.RowCount == 0 {
		return stats, nil
	}
	f, err := decodeRow(runID, first.Val())
	if err != nil {
		return store.RunStats{}, err
	}
	l, err := decodeRow(runID, last.Val())
	if err != nil {
		return store.RunStats{}, err
	}
	stats.First, stats.Last = f.ArrivedAt, l.ArrivedAt
	return stats, nil
}

// Runs lists run headers, newest first.
func (b *Backend) Runs(ctx context.Context, appName string) ([]store.Run, error) {
	apps := []string{appName}
	if appName == "" {
		var err error
		apps, err = b.client.SMembers(ctx, b.appsKey()).Result()
		if err != nil {
			return nil, storeErr("redisstore.Runs", "", err)
		}
	}

	var ids []string
	for _, app := range apps {
		members, err := b.client.ZRevRange(ctx, b.appKey(app), 0, -1).Result()
		if err != nil {
			return nil, storeErr("redisstore.Runs", app, err)
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringStringMapCmd, len(ids))
	_, err := b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, b.runKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("redisstore.Runs", appName, err)
	}

	runs := make([]store.Run, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		run, err := decodeRun(ids[i], fields)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	sortNewestFirst(runs)
	return runs, nil
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) requireRun(ctx context.Context, op, runID string) error {
	n, err := b.client.Exists(ctx, b.runKey(runID)).Result()
	if err != nil {
		return storeErr(op, runID, err)
	}
	if n == 0 {
		return notFound(op, runID)
	}
	return nil
}

func decodeRun(id string, fields map[string]string) (store.Run, error) {
	var columns []string
	if err := json.Unmarshal([]byte(fields["column_names"]), &columns); err != nil {
		return store.Run{}, storeErr("redisstore.decodeRun", id, err)
	}
	nanos, err := strconv.ParseInt(fields["creation_time"], 10, 64)
	if err != nil {
		return store.Run{}, storeErr("redisstore.decodeRun", id, err)
	}
	return store.Run{
		ID:          id,
		AppName:     fields["app_name"],
		ColumnNames: nonNil(columns),
		CreatedAt:   time.Unix(0, nanos).UTC(),
	}, nil
}

func decodeRow(runID, raw string) (store.Row, error) {
	var rec rowRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return store.Row{}, storeErr("redisstore.decodeRow", runID, err)
	}
	return store.Row{RunID: runID, ArrivedAt: time.Unix(0, rec.T).UTC(), Values: nonNilValues(rec.V)}, nil
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

func sortNewestFirst(runs []store.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

func notFound(op, runID string) error {
	return &core.PulseError{Op: op, Kind: "store", ID: runID, Err: core.ErrRunNotFound}
}

func storeErr(op, runID string, err error) error {
	return &core.PulseError{Op: op, Kind: "store", ID: runID, Err: fmt.Errorf("%w: %v", core.ErrStore, err)}
}
