// Package tracer samples diagnostics in an instrumented process and sends
// them to a pulse collector.
//
// A Tracer owns one run. Start announces the run and its column names, one
// per diagnostic in order. Run then samples every diagnostic at a fixed
// frequency and sends each snapshot as a row until its context ends:
//
//	t, err := tracer.New("billing", "127.0.0.1:9999",
//	    tracer.WithDiagnostics(diagnostics.System()...),
//	    tracer.WithProfiler(profiler.Default),
//	)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//	if err := t.Start(ctx); err != nil {
//	    return err
//	}
//	return t.Run(ctx, time.Second)
//
// Any diagnostic, encoding or send failure ends Run with an error.
// StartTracer wraps the whole sequence for processes that would rather
// exit than run untraced.
package tracer
