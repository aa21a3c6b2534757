package diagnostics

import (
	"context"
	"fmt"

	"github.com/itsneelabh/pulse/pkg/core"
)

// Producer yields one scalar value per evaluation.
type Producer interface {
	Produce(ctx context.Context) (float64, error)
}

// Func is the synchronous producer variant. It cannot fail.
type Func func() float64

// Produce implements Producer
func (f Func) Produce(ctx context.Context) (float64, error) {
	return f(), nil
}

// ContextFunc is the suspending producer variant. It may block on I/O and
// should honour ctx.
type ContextFunc func(ctx context.Context) (float64, error)

// Produce implements Producer
func (f ContextFunc) Produce(ctx context.Context) (float64, error) {
	return f(ctx)
}

// Diagnostic is a named producer; the name identifies its column.
type Diagnostic struct {
	Name     string
	Producer Producer
}

// New pairs a name with a producer.
func New(name string, p Producer) Diagnostic {
	return Diagnostic{Name: name, Producer: p}
}

// Names returns the diagnostic names in order.
func Names(ds []Diagnostic) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}

// Validate checks that every diagnostic has a producer and a unique,
// non-empty name.
func Validate(ds []Diagnostic) error {
	seen := make(map[string]struct{}, len(ds))
	for i, d := range ds {
		if d.Name == "" {
			return fmt.Errorf("%w: diagnostic %d has no name", core.ErrInvalidConfiguration, i)
		}
		if d.Producer == nil {
			return fmt.Errorf("%w: diagnostic %q has no producer", core.ErrInvalidConfiguration, d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: duplicate diagnostic name %q", core.ErrInvalidConfiguration, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}
