package logger

// Logger interface - minimal structured logging interface
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// ComponentLogger is implemented by loggers that can derive a child tagged
// with a component name.
type ComponentLogger interface {
	Logger
	WithComponent(component string) Logger
}

// WithComponent returns a child of l tagged with component, or l itself when
// it cannot derive children.
func WithComponent(l Logger, component string) Logger {
	if l == nil {
		return &NoOpLogger{}
	}
	if cl, ok := l.(ComponentLogger); ok {
		return cl.WithComponent(component)
	}
	return l
}

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
