package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/pulse/pkg/config"
	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/store"
	"github.com/itsneelabh/pulse/pkg/telemetry"
	"github.com/itsneelabh/pulse/pkg/transport"
	"github.com/itsneelabh/pulse/pkg/wire"
)

// Router reads datagrams from a listener and applies them to a TraceStore.
type Router struct {
	listener    *transport.UDPListener
	store       *store.TraceStore
	logger      logger.Logger
	instruments *telemetry.Instruments
	tracer      trace.Tracer
	onError     func(error)
	grace       time.Duration

	mu      sync.Mutex
	serving bool
	wg      sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = logger.WithComponent(l, "router")
		}
	}
}

// WithInstruments sets the metrics the router records.
func WithInstruments(i *telemetry.Instruments) Option {
	return func(r *Router) {
		if i != nil {
			r.instruments = i
		}
	}
}

// WithTracerProvider sets where dispatch spans go. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Router) {
		if tp != nil {
			r.tracer = tp.Tracer(telemetry.InstrumentationName)
		}
	}
}

// OnError registers a hook called with every dispatch failure. The error
// always matches core.ErrInvalidMessage.
func OnError(fn func(error)) Option {
	return func(r *Router) {
		r.onError = fn
	}
}

// WithGracePeriod bounds how long Serve waits for in-flight dispatches after
// ctx ends.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Router) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// New creates a router over an open listener. The router owns the listener
// and closes it when Serve returns.
func New(l *transport.UDPListener, ts *store.TraceStore, opts ...Option) (*Router, error) {
	if l == nil {
		return nil, &core.PulseError{Op: "server.New", Kind: "config", Message: "listener is required", Err: core.ErrMissingConfiguration}
	}
	if ts == nil {
		return nil, &core.PulseError{Op: "server.New", Kind: "config", Message: "trace store is required", Err: core.ErrMissingConfiguration}
	}

	r := &Router{
		listener:    l,
		store:       ts,
		logger:      &logger.NoOpLogger{},
		instruments: telemetry.NoopInstruments(),
		tracer:      otel.Tracer(telemetry.InstrumentationName),
		grace:       config.DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Listen binds addr and creates a router on it.
func Listen(addr string, ts *store.TraceStore, opts ...Option) (*Router, error) {
	l, err := transport.ListenUDP(addr)
	if err != nil {
		return nil, err
	}
	r, err := New(l, ts, opts...)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return r, nil
}

// Addr returns the bound address.
func (r *Router) Addr() net.Addr {
	return r.listener.Addr()
}

// Serve receives datagrams until ctx ends, then closes the socket and waits
// up to the grace period for in-flight dispatches. Dispatches still running
// after that have their context cancelled.
func (r *Router) Serve(ctx context.Context) error {
	r.mu.Lock()
	if r.serving {
		r.mu.Unlock()
		return &core.PulseError{Op: "server.Serve", Kind: "state", Err: core.ErrAlreadyStarted}
	}
	r.serving = true
	r.mu.Unlock()

	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatch()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = r.listener.Close()
	}()

	r.logger.Info("Router listening", map[string]interface{}{
		"address": r.listener.Addr().String(),
	})

	for {
		payload, from, err := r.listener.ReadFrom()
		if err != nil {
			if transport.IsClosed(err) || ctx.Err() != nil {
				break
			}
			r.logger.Warn("Failed to read datagram", map[string]interface{}{"error": err})
			continue
		}
		r.instruments.MessageReceived(dispatchCtx)

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handle(dispatchCtx, payload, from)
		}()
	}

	r.drain(cancelDispatch)
	return nil
}

func (r *Router) drain(cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Router stopped", nil)
	case <-time.After(r.grace):
		r.logger.Warn("Grace period expired with dispatches in flight", map[string]interface{}{
			"grace_period": r.grace.String(),
		})
		cancel()
	}
}

func (r *Router) handle(ctx context.Context, payload []byte, from net.Addr) {
	err := r.Dispatch(ctx, payload)
	if err == nil {
		return
	}
	fields := map[string]interface{}{
		"error": err,
		"bytes": len(payload),
	}
	if from != nil {
		fields["from"] = from.String()
	}
	r.logger.Error("Failed to dispatch datagram", fields)
	if r.onError != nil {
		r.onError(err)
	}
}

// Dispatch decodes one payload and applies it to the store. Any failure is
// returned wrapped so that it matches core.ErrInvalidMessage, alongside the
// underlying cause.
func (r *Router) Dispatch(ctx context.Context, payload []byte) error {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "pulse.dispatch", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	msgType := "unknown"
	msg, err := wire.Decode(payload)
	if err == nil {
		msgType = msg.Type
		span.SetAttributes(
			attribute.String("pulse.msg_type", msg.Type),
			attribute.String("pulse.run_id", msg.RunID),
		)
		err = r.apply(ctx, msg)
	}
	r.instruments.ObserveDispatch(ctx, msgType, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.instruments.MessageRejected(ctx, rejectReason(err))
		return normalise(msg.RunID, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *Router) apply(ctx context.Context, msg wire.Message) error {
	switch msg.Type {
	case wire.TypeCreateTraceRun:
		return r.store.CreateRun(ctx, msg.RunID, msg.AppName, msg.ColumnNames)
	case wire.TypeRow:
		if err := r.store.InsertRow(ctx, msg.RunID, msg.RowData); err != nil {
			return err
		}
		r.instruments.RowPersisted(ctx)
		return nil
	}
	// Decode rejects other types
	return fmt.Errorf("%w: unknown msg_type %q", core.ErrInvalidMessage, msg.Type)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrRowShape):
		return "row_shape"
	case errors.Is(err, core.ErrRunNotFound):
		return "run_not_found"
	case errors.Is(err, core.ErrRunExists):
		return "run_exists"
	case errors.Is(err, core.ErrStore):
		return "store"
	case errors.Is(err, core.ErrInvalidMessage):
		return "invalid_message"
	default:
		return "error"
	}
}

func normalise(runID string, err error) error {
	if core.IsInvalidMessage(err) {
		return err
	}
	return &core.PulseError{
		Op:   "server.Dispatch",
		Kind: "message",
		ID:   runID,
		Err:  fmt.Errorf("%w: %w", core.ErrInvalidMessage, err),
	}
}

// Close releases the socket. A running Serve returns as if ctx had ended.
func (r *Router) Close() error {
	if err := r.listener.Close(); err != nil && !transport.IsClosed(err) {
		return err
	}
	return nil
}
