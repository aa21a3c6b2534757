// Package profiler keeps per-callable call statistics: how many times a
// callable was entered, how many invocations are currently in flight, and the
// running mean duration of completed invocations.
//
// Statistics live in an explicit Registry. Each invocation gets its own
// CallID, so overlapping calls of the same callable are timed independently:
//
//	reg := profiler.NewRegistry()
//
//	fetch := reg.WrapContext("fetch", func(ctx context.Context) error {
//	    return client.Fetch(ctx)
//	})
//
//	func handle() {
//	    defer reg.Track("handle")()
//	    ...
//	}
//
// Registry.Diagnostics turns every tracked name into three producers
// (<name>_hits, <name>_active_instances, <name>_average_time) ready to be
// sampled by a tracer.
//
// Default is a process-wide registry for callers that prefer package-level
// helpers; every operation is also available on a Registry value.
package profiler
