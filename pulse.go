// Package pulse re-exports the pieces an instrumented process needs.
// Import the sub-packages directly for anything beyond this:
//   - github.com/itsneelabh/pulse/pkg/tracer - For the sampling loop
//   - github.com/itsneelabh/pulse/pkg/profiler - For call statistics
//   - github.com/itsneelabh/pulse/pkg/store - For reading traces back
package pulse

import (
	"context"

	"github.com/itsneelabh/pulse/pkg/config"
	"github.com/itsneelabh/pulse/pkg/diagnostics"
	"github.com/itsneelabh/pulse/pkg/profiler"
	"github.com/itsneelabh/pulse/pkg/speedometer"
	"github.com/itsneelabh/pulse/pkg/tracer"
)

// Re-export the types used to describe what gets traced
type (
	Diagnostic   = diagnostics.Diagnostic
	Producer     = diagnostics.Producer
	Func         = diagnostics.Func
	ContextFunc  = diagnostics.ContextFunc
	Registry     = profiler.Registry
	Speedometer  = speedometer.Speedometer
	Tracer       = tracer.Tracer
	TracerConfig = config.TracerConfig
)

// Re-export constructors and the default registry helpers
var (
	NewDiagnostic  = diagnostics.New
	NewRegistry    = profiler.NewRegistry
	NewSpeedometer = speedometer.New
	NewTracer      = tracer.New
	StartTracer    = tracer.StartTracer

	Track       = profiler.Track
	Wrap        = profiler.Wrap
	WrapContext = profiler.WrapContext

	SystemDiagnostics = diagnostics.System
)

// Trace runs a tracer for appName until ctx ends, reading the collector
// address, frequency and verbosity from PULSE_* environment variables.
// It exits the process if tracing fails.
func Trace(ctx context.Context, appName string, ds ...Diagnostic) error {
	cfg, err := TracerConfigFromEnv(appName)
	if err != nil {
		return err
	}
	StartTracer(ctx, cfg, ds...)
	return nil
}

// RabbitMQDiagnostics returns the rabbitmq_connections, rabbitmq_channels,
// rabbitmq_queues and rabbitmq_bindings producers for the broker named by
// RMQ_SERVER, refreshed at most once per MIN_RMQ_UPDATE_INTERVAL.
func RabbitMQDiagnostics() ([]Diagnostic, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.RabbitMQ.Validate(); err != nil {
		return nil, err
	}
	stats, err := diagnostics.NewRabbitMQStats(cfg.RabbitMQ.Server, cfg.RabbitMQ.MinUpdateInterval)
	if err != nil {
		return nil, err
	}
	return stats.All(), nil
}

// TracerConfigFromEnv returns the tracer settings for appName, with
// defaults overlaid by the environment.
func TracerConfigFromEnv(appName string) (TracerConfig, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return TracerConfig{}, err
	}
	cfg.Tracer.AppName = appName
	if err := cfg.Tracer.Validate(); err != nil {
		return TracerConfig{}, err
	}
	return cfg.Tracer, nil
}
