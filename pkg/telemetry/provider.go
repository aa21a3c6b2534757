package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/pulse/pkg/config"
	"github.com/itsneelabh/pulse/pkg/core"
)

// InstrumentationName names the tracer and meter of the collector.
const InstrumentationName = "github.com/itsneelabh/pulse"

// Provider owns the tracer and meter providers of the process.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
}

type providerOptions struct {
	spanProcessors []sdktrace.SpanProcessor
	readers        []sdkmetric.Reader
	version        string
}

// Option customises NewProvider.
type Option func(*providerOptions)

// WithSpanProcessor adds a span processor, such as a tracetest recorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *providerOptions) { o.spanProcessors = append(o.spanProcessors, sp) }
}

// WithMetricReader attaches a metric reader to the meter provider.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *providerOptions) { o.readers = append(o.readers, r) }
}

// WithServiceVersion sets service.version on the resource.
func WithServiceVersion(version string) Option {
	return func(o *providerOptions) { o.version = version }
}

// NewProvider builds the providers described by cfg. A disabled config
// still yields working providers; they just export nothing unless options
// attach processors or readers.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (*Provider, error) {
	o := providerOptions{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pulse-collector"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(o.version),
		semconv.K8SNamespaceNameKey.String(os.Getenv("KUBERNETES_NAMESPACE")),
		semconv.K8SPodNameKey.String(os.Getenv("HOSTNAME")),
	)

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg)),
	}
	if cfg.Enabled {
		exporter, err := newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if exporter != nil {
			traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
		}
	}
	for _, sp := range o.spanProcessors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Enabled && cfg.MetricsEndpoint != "" {
		reader, err := newMetricReader(ctx, cfg)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
	}
	for _, r := range o.readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	return &Provider{
		TracerProvider: tp,
		MeterProvider:  mp,
		Tracer:         tp.Tracer(InstrumentationName),
		Meter:          mp.Meter(InstrumentationName),
	}, nil
}

func newSpanExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case config.ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exporter, nil
	case config.ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP/HTTP exporter: %w", err)
		}
		return exporter, nil
	case config.ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case config.ExporterNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q: %w", cfg.Exporter, core.ErrInvalidConfiguration)
	}
}

// newMetricReader pushes metrics to an OTLP/HTTP endpoint every
// cfg.MetricsInterval.
func newMetricReader(ctx context.Context, cfg config.TelemetryConfig) (sdkmetric.Reader, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.MetricsEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.MetricsInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricsInterval))
	}
	return sdkmetric.NewPeriodicReader(exporter, readerOpts...), nil
}

func sampler(cfg config.TelemetryConfig) sdktrace.Sampler {
	if !cfg.Enabled || cfg.SamplingRate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))
}

// SetGlobal installs the providers as the otel globals.
func (p *Provider) SetGlobal() {
	otel.SetTracerProvider(p.TracerProvider)
	otel.SetMeterProvider(p.MeterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
	)
}
