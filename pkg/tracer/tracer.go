package tracer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/diagnostics"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/profiler"
	"github.com/itsneelabh/pulse/pkg/transport"
	"github.com/itsneelabh/pulse/pkg/wire"
)

// Tracer samples a fixed list of diagnostics for one run.
type Tracer struct {
	appName     string
	addr        string
	diagnostics []diagnostics.Diagnostic
	registries  []*profiler.Registry
	verbose     bool
	logger      logger.Logger
	sender      transport.Sender
	newRunID    func() string

	mu      sync.Mutex
	started bool
	runID   string
	active  []diagnostics.Diagnostic
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithDiagnostics appends diagnostics to sample, in order.
func WithDiagnostics(ds ...diagnostics.Diagnostic) Option {
	return func(t *Tracer) {
		t.diagnostics = append(t.diagnostics, ds...)
	}
}

// WithProfiler appends the hits, active and average diagnostics of every
// callable registered in r when Start runs.
func WithProfiler(r *profiler.Registry) Option {
	return func(t *Tracer) {
		if r != nil {
			t.registries = append(t.registries, r)
		}
	}
}

// WithVerbose logs every row sent.
func WithVerbose(verbose bool) Option {
	return func(t *Tracer) {
		t.verbose = verbose
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracer) {
		if l != nil {
			t.logger = logger.WithComponent(l, "tracer")
		}
	}
}

// WithSender replaces the UDP sender. The tracer closes it on Close.
func WithSender(s transport.Sender) Option {
	return func(t *Tracer) {
		t.sender = s
	}
}

// New creates a tracer for appName that reports to the collector at addr.
func New(appName, addr string, opts ...Option) (*Tracer, error) {
	t := &Tracer{
		appName:  appName,
		addr:     addr,
		logger:   &logger.NoOpLogger{},
		newRunID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(t)
	}

	if appName == "" {
		return nil, &core.PulseError{Op: "tracer.New", Kind: "config", Message: "app name is required", Err: core.ErrMissingConfiguration}
	}
	if addr == "" && t.sender == nil {
		return nil, &core.PulseError{Op: "tracer.New", Kind: "config", Message: "collector address is required", Err: core.ErrMissingConfiguration}
	}
	return t, nil
}

// RunID returns the current run ID, empty before Start.
func (t *Tracer) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runID
}

// ColumnNames returns the names of the sampled diagnostics, fixed by Start.
func (t *Tracer) ColumnNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return diagnostics.Names(t.active)
}

// Start opens the sender if needed, picks a fresh run ID and announces the
// run to the collector.
func (t *Tracer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return &core.PulseError{Op: "tracer.Start", Kind: "state", ID: t.runID, Err: core.ErrAlreadyStarted}
	}

	active := append([]diagnostics.Diagnostic(nil), t.diagnostics...)
	for _, r := range t.registries {
		active = append(active, r.Diagnostics(true)...)
	}
	if err := diagnostics.Validate(active); err != nil {
		return err
	}

	if t.sender == nil {
		sender, err := transport.NewUDPSender(ctx, t.addr)
		if err != nil {
			return err
		}
		t.sender = sender
	}

	runID := t.newRunID()
	columns := diagnostics.Names(active)
	payload, err := wire.Encode(wire.NewCreateTraceRun(runID, t.appName, columns))
	if err != nil {
		return err
	}
	if err := t.sender.Send(ctx, payload); err != nil {
		return err
	}

	t.started = true
	t.runID = runID
	t.active = active

	t.logger.Info("Trace run started", map[string]interface{}{
		"run_id":  runID,
		"app":     t.appName,
		"columns": len(columns),
	})
	return nil
}

// Run samples and sends a row every frequency until ctx ends, returning
// ctx.Err(), or until a sample fails, returning that error.
func (t *Tracer) Run(ctx context.Context, frequency time.Duration) error {
	if frequency <= 0 {
		return &core.PulseError{
			Op:   "tracer.Run",
			Kind: "config",
			Err:  fmt.Errorf("%w: frequency must be positive, got %s", core.ErrInvalidConfiguration, frequency),
		}
	}
	if t.RunID() == "" {
		return &core.PulseError{Op: "tracer.Run", Kind: "state", Err: core.ErrNotStarted}
	}

	ticker := time.NewTicker(frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.Sample(ctx); err != nil {
				return err
			}
		}
	}
}

// Sample evaluates every diagnostic once and sends the row. Diagnostics run
// concurrently; values keep diagnostic order.
func (t *Tracer) Sample(ctx context.Context) ([]float64, error) {
	t.mu.Lock()
	runID, active, sender := t.runID, t.active, t.sender
	t.mu.Unlock()

	if runID == "" {
		return nil, &core.PulseError{Op: "tracer.Sample", Kind: "state", Err: core.ErrNotStarted}
	}

	values, err := evaluate(ctx, active)
	if err != nil {
		return nil, &core.PulseError{Op: "tracer.Sample", Kind: "diagnostic", ID: runID, Err: err}
	}

	payload, err := wire.Encode(wire.NewRow(runID, values))
	if err != nil {
		return nil, err
	}
	if err := sender.Send(ctx, payload); err != nil {
		return nil, err
	}

	if t.verbose {
		fields := make(map[string]interface{}, len(active)+1)
		fields["run_id"] = runID
		for i, d := range active {
			fields[d.Name] = values[i]
		}
		t.logger.Info("Row sent", fields)
	}
	return values, nil
}

func evaluate(ctx context.Context, ds []diagnostics.Diagnostic) ([]float64, error) {
	values := make([]float64, len(ds))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range ds {
		i, d := i, d
		g.Go(func() error {
			v, err := d.Producer.Produce(gctx)
			if err != nil {
				return fmt.Errorf("diagnostic %q: %w", d.Name, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// Close releases the sender.
func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sender == nil {
		return nil
	}
	return t.sender.Close()
}
