package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a ZapLogger.
type Options struct {
	ServiceName string
	Level       string // debug, info, warn, error
	Format      string // json or text
	// ErrorInterval bounds error log frequency; zero disables limiting.
	ErrorInterval time.Duration
}

// ZapLogger implements Logger on top of a zap.Logger.
type ZapLogger struct {
	base         *zap.Logger
	errorLimiter *RateLimiter
}

// NewProductionLogger creates a logger configured from the environment.
// Configuration priority:
//  1. PULSE_LOG_LEVEL / PULSE_LOG_FORMAT
//  2. Auto-detection (JSON in Kubernetes)
//  3. Defaults (info, text)
func NewProductionLogger(serviceName string) (*ZapLogger, error) {
	return NewServiceLogger(serviceName, os.Getenv("PULSE_LOG_LEVEL"), os.Getenv("PULSE_LOG_FORMAT"))
}

// NewServiceLogger creates a rate limited logger for a service. An empty
// level means info; an empty format means json in Kubernetes and text
// elsewhere.
func NewServiceLogger(serviceName, level, format string) (*ZapLogger, error) {
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "text"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		}
	}

	return New(Options{
		ServiceName:   serviceName,
		Level:         level,
		Format:        format,
		ErrorInterval: time.Second,
	})
}

// New builds a ZapLogger writing to stdout.
func New(opts Options) (*ZapLogger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	case "", "text", "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	l := NewWithCore(core, opts.ErrorInterval)
	if opts.ServiceName != "" {
		l.base = l.base.With(zap.String("service", opts.ServiceName))
	}
	return l, nil
}

// NewWithCore wraps an existing zapcore.Core, mainly for tests using
// zaptest/observer.
func NewWithCore(core zapcore.Core, errorInterval time.Duration) *ZapLogger {
	l := &ZapLogger{base: zap.New(core)}
	if errorInterval > 0 {
		l.errorLimiter = NewRateLimiter(errorInterval)
	}
	return l
}

// WithComponent returns a child logger tagged with component.
func (l *ZapLogger) WithComponent(component string) Logger {
	return &ZapLogger{
		base:         l.base.With(zap.String("component", component)),
		errorLimiter: l.errorLimiter,
	}
}

// Debug logs debug messages
func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, toZapFields(fields)...)
}

// Info logs informational messages
func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, toZapFields(fields)...)
}

// Warn logs warning messages
func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, toZapFields(fields)...)
}

// Error logs error messages with rate limiting
func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	zf := toZapFields(fields)
	if l.errorLimiter != nil {
		ok, dropped := l.errorLimiter.Allow()
		if !ok {
			return
		}
		if dropped > 0 {
			zf = append(zf, zap.Int64("suppressed", dropped))
		}
	}
	l.base.Error(msg, zf...)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// toZapFields converts a field map in key order so output is stable.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
