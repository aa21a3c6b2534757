package profiler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/pulse/pkg/core"
)

// CallID identifies one invocation of a tracked callable.
type CallID = uuid.UUID

// Stats is a snapshot of one callable's statistics.
type Stats struct {
	Name            string
	Hits            int64
	Active          int64
	Completed       int64
	AverageDuration time.Duration
}

// callStat accumulates statistics for one name. Start times are keyed by
// CallID because invocations of the same callable may overlap.
type callStat struct {
	mu        sync.Mutex
	hits      int64
	active    int64
	completed int64
	avg       float64 // seconds
	pending   map[CallID]time.Time
}

func newCallStat() *callStat {
	return &callStat{pending: make(map[CallID]time.Time)}
}

func (s *callStat) enter(id CallID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.active++
	s.pending[id] = now
}

func (s *callStat) exit(id CallID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.pending[id]
	if !ok {
		return core.ErrUnknownCall
	}
	delete(s.pending, id)

	s.active--
	duration := now.Sub(start).Seconds()
	s.avg = (s.avg*float64(s.completed) + duration) / float64(s.completed+1)
	s.completed++
	return nil
}

func (s *callStat) snapshot(name string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Name:            name,
		Hits:            s.hits,
		Active:          s.active,
		Completed:       s.completed,
		AverageDuration: time.Duration(s.avg * float64(time.Second)),
	}
}

// Registry owns the name → statistics mapping. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	stats map[string]*callStat
	order []string
	now   func() time.Time

	// calls maps each open Enter to the accumulator it was recorded on
	callsMu sync.Mutex
	calls   map[CallID]openCall
}

type openCall struct {
	name string
	stat *callStat
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		stats: make(map[string]*callStat),
		now:   time.Now,
		calls: make(map[CallID]openCall),
	}
}

// Default is the process-wide registry used by the package-level helpers.
var Default = NewRegistry()

// lookup returns the accumulator for name, creating it on first use.
func (r *Registry) lookup(name string) *callStat {
	r.mu.RLock()
	s, ok := r.stats[name]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.stats[name]; ok {
		return s
	}
	s = newCallStat()
	r.stats[name] = s
	r.order = append(r.order, name)
	return s
}

// begin records an entry and returns the accumulator it was recorded on, so
// the matching exit lands on the same accumulator even after Clear.
func (r *Registry) begin(name string) (*callStat, CallID) {
	s := r.lookup(name)
	id := uuid.New()
	s.enter(id, r.now())
	return s, id
}

// Enter records the start of an invocation of name and returns its CallID.
func (r *Registry) Enter(name string) CallID {
	s, id := r.begin(name)
	r.callsMu.Lock()
	r.calls[id] = openCall{name: name, stat: s}
	r.callsMu.Unlock()
	return id
}

// Exit records the end of the invocation id of name on the accumulator its
// Enter used, so a Clear in between does not orphan it. Exiting a call that
// was never entered, was already exited, or was entered under another name
// returns core.ErrUnknownCall.
func (r *Registry) Exit(name string, id CallID) error {
	r.callsMu.Lock()
	call, ok := r.calls[id]
	if ok && call.name == name {
		delete(r.calls, id)
	}
	r.callsMu.Unlock()
	if !ok || call.name != name {
		return &core.PulseError{Op: "profiler.Exit", Kind: "profiler", ID: fmt.Sprintf("%s/%s", name, id), Err: core.ErrUnknownCall}
	}
	if err := call.stat.exit(id, r.now()); err != nil {
		return &core.PulseError{Op: "profiler.Exit", Kind: "profiler", ID: fmt.Sprintf("%s/%s", name, id), Err: err}
	}
	return nil
}

// Stats returns the statistics for name, or false if name was never tracked.
func (r *Registry) Stats(name string) (Stats, bool) {
	r.mu.RLock()
	s, ok := r.stats[name]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return s.snapshot(name), true
}

// Names returns tracked names in the order they were first entered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// All returns a snapshot of every tracked callable in registration order.
func (r *Registry) All() []Stats {
	names := r.Names()
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if st, ok := r.Stats(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// Clear drops every accumulator. Calls in flight finish against the
// accumulators they started on and are not reflected afterwards.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[string]*callStat)
	r.order = nil
}
