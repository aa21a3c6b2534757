// Package logger provides structured logging for the Pulse collector and tracer.
//
// The Logger interface mirrors the one used across the rest of the module:
//
//	type Logger interface {
//	    Debug(msg string, fields map[string]interface{})
//	    Info(msg string, fields map[string]interface{})
//	    Warn(msg string, fields map[string]interface{})
//	    Error(msg string, fields map[string]interface{})
//	}
//
// # Implementations
//
// ZapLogger is the production implementation, backed by go.uber.org/zap:
//   - JSON output in Kubernetes (KUBERNETES_SERVICE_HOST set) or when format is "json"
//   - Console output for local development
//   - Error logs rate limited so a burst of malformed datagrams cannot flood the output
//
// NoOpLogger discards everything and is the default for library types that
// were not given a logger.
//
// # Configuration
//
//   - PULSE_LOG_LEVEL: Minimum log level (debug, info, warn, error)
//   - PULSE_LOG_FORMAT: Output format (json, text)
//
// # Component Loggers
//
// WithComponent returns a child logger tagging every entry:
//
//	routerLog := logger.WithComponent(base, "router")
//	routerLog.Info("Listening", map[string]interface{}{"address": addr})
package logger
