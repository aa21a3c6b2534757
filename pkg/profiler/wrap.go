package profiler

import "context"

// Track records the start of an invocation of name and returns the function
// that records its end:
//
//	defer reg.Track("handle")()
func (r *Registry) Track(name string) func() {
	s, id := r.begin(name)
	return func() {
		// The pairing is guaranteed here, so the error cannot occur
		_ = s.exit(id, r.now())
	}
}

// Wrap instruments a synchronous callable. The exit is recorded even if fn
// panics.
func (r *Registry) Wrap(name string, fn func()) func() {
	return func() {
		defer r.Track(name)()
		fn()
	}
}

// WrapErr instruments a synchronous callable that returns an error.
func (r *Registry) WrapErr(name string, fn func() error) func() error {
	return func() error {
		defer r.Track(name)()
		return fn()
	}
}

// WrapContext instruments a callable that may block on ctx.
func (r *Registry) WrapContext(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		defer r.Track(name)()
		return fn(ctx)
	}
}

// Instrument wraps a context-aware callable that returns a value.
func Instrument[T any](r *Registry, name string, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		defer r.Track(name)()
		return fn(ctx)
	}
}

// Track records an invocation on the Default registry.
func Track(name string) func() {
	return Default.Track(name)
}

// Wrap instruments fn on the Default registry.
func Wrap(name string, fn func()) func() {
	return Default.Wrap(name, fn)
}

// WrapContext instruments fn on the Default registry.
func WrapContext(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return Default.WrapContext(name, fn)
}
