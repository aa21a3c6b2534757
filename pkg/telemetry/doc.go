// Package telemetry wires OpenTelemetry into the pulse collector.
//
// NewProvider builds a TracerProvider and a MeterProvider from a
// config.TelemetryConfig. Spans go to an OTLP gRPC collector, to stdout, or
// nowhere depending on the configured exporter. Metrics are exposed through
// the SDK meter provider so any reader attached with WithMetricReader can
// collect them.
//
// Instruments groups the collector's own metrics:
//
//	pulse_messages_received_total    datagrams read from the socket
//	pulse_messages_rejected_total    datagrams that failed to dispatch, by reason
//	pulse_rows_persisted_total       rows written to the store
//	pulse_dispatch_duration_seconds  time spent dispatching one datagram
//
// RequestIDMiddleware and EnrichLogFields tie HTTP requests and log lines to
// the active trace.
package telemetry
