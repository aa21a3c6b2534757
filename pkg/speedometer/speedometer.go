// Package speedometer measures the rate of change of a monotonically
// increasing value, such as a running count of consumed messages.
//
// Recomputation is throttled: calls made within the minimum interval of the
// last refresh return the cached rate.
package speedometer

import (
	"context"
	"sync"
	"time"

	"github.com/itsneelabh/pulse/pkg/diagnostics"
)

// DefaultInterval is the refresh interval used for a negative interval.
const DefaultInterval = 2 * time.Second

// Speedometer reports value-per-second for one monitored quantity.
type Speedometer struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastTime    time.Time
	lastValue   float64
	speed       float64
	started     bool
	now         func() time.Time
}

// New creates a Speedometer that refreshes at most once per minInterval.
// Zero recomputes on every call spaced in time. A negative interval falls
// back to DefaultInterval.
func New(minInterval time.Duration) *Speedometer {
	if minInterval < 0 {
		minInterval = DefaultInterval
	}
	return &Speedometer{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Speed returns the current rate for value in units per second.
//
// The first call only records the starting point and returns 0. A call at the
// same instant as the last refresh returns 0. Calls within the minimum
// interval return the previously computed speed unchanged.
func (s *Speedometer) Speed(value float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.started {
		s.started = true
		s.lastTime = now
		s.lastValue = value
		s.speed = 0
		return 0
	}

	elapsed := now.Sub(s.lastTime)
	switch {
	case elapsed == 0:
		return 0
	case elapsed <= s.minInterval:
		return s.speed
	}

	s.speed = (value - s.lastValue) / elapsed.Seconds()
	s.lastTime = now
	s.lastValue = value
	return s.speed
}

// Diagnostic adapts a monotonic source into a producer reporting its rate.
func (s *Speedometer) Diagnostic(name string, source func() float64) diagnostics.Diagnostic {
	return diagnostics.New(name, diagnostics.Func(func() float64 {
		return s.Speed(source())
	}))
}

// ContextDiagnostic is the suspending form of Diagnostic, for sources that
// need I/O to read the current value.
func (s *Speedometer) ContextDiagnostic(name string, source func(ctx context.Context) (float64, error)) diagnostics.Diagnostic {
	return diagnostics.New(name, diagnostics.ContextFunc(func(ctx context.Context) (float64, error) {
		v, err := source(ctx)
		if err != nil {
			return 0, err
		}
		return s.Speed(v), nil
	}))
}
