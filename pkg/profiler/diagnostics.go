package profiler

import (
	"context"

	"github.com/itsneelabh/pulse/pkg/diagnostics"
)

type statKind int

const (
	statHits statKind = iota
	statActive
	statAverage
)

var statSuffix = map[statKind]string{
	statHits:    "_hits",
	statActive:  "_active_instances",
	statAverage: "_average_time",
}

// statDiagnostic reads one statistic of one tracked name.
type statDiagnostic struct {
	registry *Registry
	name     string
	kind     statKind
}

func (d statDiagnostic) value() float64 {
	st, ok := d.registry.Stats(d.name)
	if !ok {
		return 0
	}
	switch d.kind {
	case statHits:
		return float64(st.Hits)
	case statActive:
		return float64(st.Active)
	default:
		return st.AverageDuration.Seconds()
	}
}

func (d statDiagnostic) producer(useContext bool) diagnostics.Producer {
	if useContext {
		return diagnostics.ContextFunc(func(ctx context.Context) (float64, error) {
			return d.value(), nil
		})
	}
	return diagnostics.Func(d.value)
}

// Diagnostics builds three producers per tracked name, in registration
// order: <name>_hits, <name>_active_instances and <name>_average_time
// (seconds). With useContext the producers are ContextFunc values, otherwise
// Func values.
//
// The set of names is fixed when Diagnostics is called; names first entered
// later are not included.
func (r *Registry) Diagnostics(useContext bool) []diagnostics.Diagnostic {
	names := r.Names()
	out := make([]diagnostics.Diagnostic, 0, len(names)*3)
	for _, name := range names {
		for _, kind := range []statKind{statHits, statActive, statAverage} {
			d := statDiagnostic{registry: r, name: name, kind: kind}
			out = append(out, diagnostics.New(name+statSuffix[kind], d.producer(useContext)))
		}
	}
	return out
}

// Diagnostics returns the producers of the Default registry.
func Diagnostics(useContext bool) []diagnostics.Diagnostic {
	return Default.Diagnostics(useContext)
}
