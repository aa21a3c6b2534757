package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments are the collector's metrics.
type Instruments struct {
	received         metric.Int64Counter
	rejected         metric.Int64Counter
	persisted        metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

// NewInstruments registers the collector metrics on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	received, err := meter.Int64Counter("pulse_messages_received_total",
		metric.WithDescription("Datagrams received by the collector"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("pulse_messages_rejected_total",
		metric.WithDescription("Datagrams that failed to dispatch"))
	if err != nil {
		return nil, err
	}
	persisted, err := meter.Int64Counter("pulse_rows_persisted_total",
		metric.WithDescription("Rows written to the trace store"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("pulse_dispatch_duration_seconds",
		metric.WithDescription("Time spent dispatching one datagram"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Instruments{
		received:         received,
		rejected:         rejected,
		persisted:        persisted,
		dispatchDuration: duration,
	}, nil
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	i, _ := NewInstruments(noop.NewMeterProvider().Meter(InstrumentationName))
	return i
}

// MessageReceived counts one datagram.
func (i *Instruments) MessageReceived(ctx context.Context) {
	i.received.Add(ctx, 1)
}

// MessageRejected counts one failed dispatch.
func (i *Instruments) MessageRejected(ctx context.Context, reason string) {
	i.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RowPersisted counts one stored row.
func (i *Instruments) RowPersisted(ctx context.Context) {
	i.persisted.Add(ctx, 1)
}

// ObserveDispatch records how long a dispatch of msgType took.
func (i *Instruments) ObserveDispatch(ctx context.Context, msgType string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	i.dispatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("msg_type", msgType),
		attribute.String("status", status),
	))
}
