package server_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/server"
	"github.com/itsneelabh/pulse/pkg/store"
	"github.com/itsneelabh/pulse/pkg/telemetry"
	"github.com/itsneelabh/pulse/pkg/transport"
	"github.com/itsneelabh/pulse/pkg/wire"
)

const runID = "4f9a8d0e-6c1b-4d57-9b1e-2f7c6a3e8d21"

type harness struct {
	router *server.Router
	store  *store.TraceStore
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T, backend store.Backend, opts ...server.Option) *harness {
	t.Helper()
	if backend == nil {
		backend = store.NewMemoryBackend()
	}
	ts := store.New(backend)

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := telemetry.NewInstruments(mp.Meter("test"))
	require.NoError(t, err)

	r, err := server.Listen("127.0.0.1:0", ts, append([]server.Option{
		server.WithTracerProvider(tp),
		server.WithInstruments(inst),
	}, opts...)...)
	require.NoError(t, err)
	return &harness{router: r, store: ts, spans: spans, reader: reader}
}

func (h *harness) counter(t *testing.T, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				reason, _ := dp.Attributes.Value("reason")
				out[reason.AsString()] += dp.Value
			}
		}
	}
	return out
}

func encode(t *testing.T, m wire.Message) []byte {
	t.Helper()
	b, err := wire.Encode(m)
	require.NoError(t, err)
	return b
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := server.New(nil, store.New(store.NewMemoryBackend()))
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)

	l, err := transport.ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	_, err = server.New(l, nil)
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
}

func TestDispatch_CreateAndRows(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.router.Dispatch(ctx, encode(t, wire.NewCreateTraceRun(runID, "billing", []string{"v1", "v2"}))))
	require.NoError(t, h.router.Dispatch(ctx, encode(t, wire.NewRow(runID, []float64{1, 2}))))
	require.NoError(t, h.router.Dispatch(ctx, encode(t, wire.NewRow(runID, []float64{3, 4}))))

	trace, err := h.store.ReadTrace(ctx, runID)
	require.NoError(t, err)
	lines := strings.Split(trace, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time,v1,v2", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",1,2"))
	assert.True(t, strings.HasSuffix(lines[2], ",3,4"))

	spans := h.spans.Ended()
	require.Len(t, spans, 3)
	for _, s := range spans {
		assert.Equal(t, "pulse.dispatch", s.Name())
		assert.Equal(t, codes.Ok, s.Status().Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(ctx, &rm))
	persisted := int64(0)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "pulse_rows_persisted_total" {
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					persisted += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), persisted)
}

func TestDispatch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   bool
		payload []byte
		cause   error
		reason  string
	}{
		{"malformed", false, []byte("{not json"), core.ErrInvalidMessage, "invalid_message"},
		{"create missing uuid", false, []byte(`{"msg_type":"create_trace_run","app_name":"billing","column_names":["v1"]}`), core.ErrInvalidMessage, "invalid_message"},
		{"create duplicate column", false, []byte(`{"msg_type":"create_trace_run","uuid":"x","app_name":"billing","column_names":["v1","v1"]}`), core.ErrInvalidMessage, "invalid_message"},
		{"missing app name", false, []byte(`{"msg_type":"create_trace_run","uuid":"x","column_names":[]}`), core.ErrInvalidMessage, "invalid_message"},
		{"unknown type", false, []byte(`{"msg_type":"ping","uuid":"x"}`), core.ErrInvalidMessage, "invalid_message"},
		{"row for unknown run", false, []byte(`{"msg_type":"row","uuid":"nope","row_data":[1]}`), core.ErrRunNotFound, "run_not_found"},
		{"row of wrong width", true, []byte(`{"msg_type":"row","uuid":"` + runID + `","row_data":[1,2,3]}`), core.ErrRowShape, "row_shape"},
		{"duplicate run", true, []byte(`{"msg_type":"create_trace_run","uuid":"` + runID + `","app_name":"a","column_names":["v1","v2"]}`), core.ErrRunExists, "run_exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			if tt.setup {
				require.NoError(t, h.store.CreateRun(ctx, runID, "billing", []string{"v1", "v2"}))
			}

			err := h.router.Dispatch(ctx, tt.payload)
			require.Error(t, err)
			assert.True(t, core.IsInvalidMessage(err))
			assert.ErrorIs(t, err, tt.cause)

			spans := h.spans.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, codes.Error, spans[0].Status().Code)

			assert.Equal(t, map[string]int64{tt.reason: 1}, h.counter(t, "pulse_messages_rejected_total"))

			// A rejected message leaves no run or row behind
			runs, err := h.store.GetAllRuns(ctx)
			require.NoError(t, err)
			if !tt.setup {
				assert.Empty(t, runs)
				return
			}
			require.Len(t, runs, 1)
			require.Len(t, runs[0].Runs, 1)
			assert.Equal(t, "billing", runs[0].AppName)
			info, err := h.store.GetRunInfo(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), info.RowCount)
		})
	}
}

func TestServe_OverUDP(t *testing.T) {
	var mu sync.Mutex
	var failures []error
	h := newHarness(t, nil, server.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- h.router.Serve(ctx) }()

	sender, err := transport.NewUDPSender(context.Background(), h.router.Addr().String())
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.Send(ctx, encode(t, wire.NewCreateTraceRun(runID, "billing", []string{"x"}))))
	require.Eventually(t, func() bool {
		_, err := h.store.GetRunInfo(context.Background(), runID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, sender.Send(ctx, encode(t, wire.NewRow(runID, []float64{float64(i)}))))
	}
	require.NoError(t, sender.Send(ctx, []byte("garbage")))

	require.Eventually(t, func() bool {
		info, err := h.store.GetRunInfo(context.Background(), runID)
		mu.Lock()
		defer mu.Unlock()
		return err == nil && info.RowCount == 5 && len(failures) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.True(t, core.IsInvalidMessage(failures[0]))
	mu.Unlock()

	assert.Equal(t, int64(7), h.counter(t, "pulse_messages_received_total")[""])

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_Twice(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.router.Serve(ctx))
	assert.ErrorIs(t, h.router.Serve(ctx), core.ErrAlreadyStarted)
}

// blockingBackend holds every InsertRow until release is closed or the
// context ends.
type blockingBackend struct {
	store.Backend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) InsertRow(ctx context.Context, row store.Row) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return b.Backend.InsertRow(ctx, row)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestServe_WaitsForInFlight(t *testing.T) {
	backend := &blockingBackend{
		Backend: store.NewMemoryBackend(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, backend, server.WithGracePeriod(2*time.Second))
	require.NoError(t, h.store.CreateRun(context.Background(), runID, "billing", []string{"x"}))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- h.router.Serve(ctx) }()

	sender, err := transport.NewUDPSender(context.Background(), h.router.Addr().String())
	require.NoError(t, err)
	defer sender.Close()
	require.NoError(t, sender.Send(context.Background(), encode(t, wire.NewRow(runID, []float64{1}))))

	<-backend.entered
	cancel()
	time.AfterFunc(50*time.Millisecond, func() { close(backend.release) })

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}

	info, err := h.store.GetRunInfo(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RowCount)
}

func TestServe_GracePeriodExpires(t *testing.T) {
	backend := &blockingBackend{
		Backend: store.NewMemoryBackend(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	var mu sync.Mutex
	var failures []error
	h := newHarness(t, backend,
		server.WithGracePeriod(50*time.Millisecond),
		server.OnError(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, err)
		}),
	)
	require.NoError(t, h.store.CreateRun(context.Background(), runID, "billing", []string{"x"}))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- h.router.Serve(ctx) }()

	sender, err := transport.NewUDPSender(context.Background(), h.router.Addr().String())
	require.NoError(t, err)
	defer sender.Close()
	require.NoError(t, sender.Send(context.Background(), encode(t, wire.NewRow(runID, []float64{1}))))

	<-backend.entered
	start := time.Now()
	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the grace period")
	}
	assert.Less(t, time.Since(start), time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 1 && errors.Is(failures[0], context.Canceled)
	}, time.Second, 5*time.Millisecond)
}
