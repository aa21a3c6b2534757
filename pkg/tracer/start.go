package tracer

import (
	"context"
	"errors"
	"os"

	"github.com/itsneelabh/pulse/pkg/config"
	"github.com/itsneelabh/pulse/pkg/diagnostics"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/profiler"
)

// Exit terminates the process when StartTracer fails. Tests replace it.
var Exit = os.Exit

// StartTracer traces the process until ctx ends. It samples ds followed by
// the profiler.Default diagnostics every cfg.Frequency.
//
// Tracing is fail-fast: if the tracer cannot start, or any sample fails,
// the error is logged and the process exits with status 1. Cancelling ctx
// is a clean stop.
func StartTracer(ctx context.Context, cfg config.TracerConfig, ds ...diagnostics.Diagnostic) {
	var log logger.Logger = &logger.NoOpLogger{}
	if zl, err := logger.NewProductionLogger(cfg.AppName); err == nil {
		defer func() { _ = zl.Sync() }()
		log = zl
	}
	startTracer(ctx, cfg, log, ds)
}

func startTracer(ctx context.Context, cfg config.TracerConfig, log logger.Logger, ds []diagnostics.Diagnostic, extra ...Option) {
	err := runTracer(ctx, cfg, log, ds, extra)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	log.Error("Tracer failed, exiting", map[string]interface{}{
		"error":     err,
		"app":       cfg.AppName,
		"collector": cfg.CollectorAddress,
	})
	Exit(1)
}

func runTracer(ctx context.Context, cfg config.TracerConfig, log logger.Logger, ds []diagnostics.Diagnostic, extra []Option) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := []Option{
		WithDiagnostics(ds...),
		WithProfiler(profiler.Default),
		WithVerbose(cfg.Verbose),
		WithLogger(log),
	}
	t, err := New(cfg.AppName, cfg.CollectorAddress, append(opts, extra...)...)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := t.Start(ctx); err != nil {
		return err
	}
	return t.Run(ctx, cfg.Frequency)
}
