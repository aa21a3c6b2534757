// Package diagnostics defines the producer model shared by the profiler, the
// speedometer and the tracer, and ships a set of ready-made producers.
//
// A Diagnostic is a named, zero-argument source of one scalar. Its name
// becomes the column name of the trace run it is sampled into. Producers come
// in two variants:
//
//	diagnostics.Func(func() float64 { ... })                                 // synchronous
//	diagnostics.ContextFunc(func(ctx context.Context) (float64, error) { ... }) // may block on I/O
//
// Both satisfy Producer, so callers evaluate them uniformly.
//
// # Built-in Producers
//
// Runtime: HeapAllocMB, Goroutines.
// Host (gopsutil): CPUPercent, VirtualMemoryPercent, ProcessMemoryGB.
// Postgres (pgxpool): PostgresDiagnostics.LiveTuples, DeadTuples,
// IdleSessions, Connections.
// RabbitMQ (management API over a traced http.Client): RabbitMQStats.Connections,
// Channels, Queues, Bindings, sharing one throttled refresh.
package diagnostics
