package listener

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/roach88/tangle/internal/invocation"
	"github.com/roach88/tangle/internal/safe"
)

// Hierarchy answers type-compatibility questions for selection.
// Implemented by *typeindex.Index.
type Hierarchy interface {
	Matches(t, target reflect.Type) bool
}

type entry struct {
	listener *Listener
	seq      uint64
}

// Registry holds registered listeners.
//
// Thread-safety: all methods are safe for concurrent use, including from
// inside handlers. Select works on a snapshot, so listeners added or removed
// during an invocation do not affect it.
type Registry struct {
	mu       sync.RWMutex
	entries  map[*Listener]entry
	seq      uint64
	reserved any
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for filter failures.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReservedOwner makes owner unusable with UnregisterByOwner.
func WithReservedOwner(owner any) RegistryOption {
	return func(r *Registry) {
		r.reserved = owner
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[*Listener]entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds l. Returns false if l is already registered.
func (r *Registry) Register(l *Listener) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[l]; ok {
		return false
	}
	r.seq++
	r.entries[l] = entry{listener: l, seq: r.seq}
	return true
}

// Unregister removes l. Returns true if it was registered.
func (r *Registry) Unregister(l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[l]; !ok {
		return false
	}
	delete(r.entries, l)
	return true
}

// UnregisterByOwner removes every listener owned by owner and reports
// whether any was removed. A nil owner matches nothing.
func (r *Registry) UnregisterByOwner(owner any) (bool, error) {
	if owner == nil {
		return false, nil
	}
	if !reflect.ValueOf(owner).Comparable() {
		return false, fmt.Errorf("unregister owner %T: %w", owner, ErrInvalidOwner)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reserved != nil && reflect.TypeOf(r.reserved) == reflect.TypeOf(owner) && r.reserved == owner {
		return false, fmt.Errorf("unregister owner: %w", ErrReservedOwner)
	}

	removed := false
	for l := range r.entries {
		if l.ownedBy(owner) {
			delete(r.entries, l)
			removed = true
		}
	}
	return removed, nil
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Listeners returns all registered listeners in delivery order.
func (r *Registry) Listeners() []*Listener {
	return r.collect(func(*Listener) bool { return true })
}

// ByOwner returns the listeners owned by owner in delivery order.
func (r *Registry) ByOwner(owner any) []*Listener {
	if owner == nil || !reflect.ValueOf(owner).Comparable() {
		return nil
	}
	return r.collect(func(l *Listener) bool { return l.ownedBy(owner) })
}

// Select returns the listeners interested in inv, highest priority first and
// in registration order within one priority.
//
// A listener is interested when the event's runtime type matches its target,
// the involvement set contains every object of its To list, and all of its
// filters accept the invocation.
func (r *Registry) Select(inv *invocation.Invocation, h Hierarchy) []*Listener {
	event := inv.Event()
	if event == nil {
		return nil
	}
	eventType := reflect.TypeOf(event)
	involved := inv.Involved()

	candidates := r.collect(func(l *Listener) bool {
		return h.Matches(eventType, l.target) && involved.ContainsAll(l.to)
	})

	selected := candidates[:0]
	for _, l := range candidates {
		if r.accepts(l, inv) {
			selected = append(selected, l)
		}
	}
	return selected
}

// accepts runs the filters of l. Filters run outside the registry lock so
// they may call back into the registry.
func (r *Registry) accepts(l *Listener, inv *invocation.Invocation) bool {
	for i, f := range l.filters {
		var ok bool
		err := safe.Call(func() error {
			var err error
			ok, err = f(inv)
			return err
		})
		if err != nil {
			r.logger.Warn("listener filter failed",
				"listener", l.name,
				"submission_id", inv.ID(),
				"error", &FilterError{Listener: l.name, Index: i, Err: err},
			)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// collect snapshots the listeners accepted by keep, sorted for delivery.
func (r *Registry) collect(keep func(*Listener) bool) []*Listener {
	r.mu.RLock()
	matched := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e.listener) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].listener.priority != matched[j].listener.priority {
			return matched[i].listener.priority > matched[j].listener.priority
		}
		return matched[i].seq < matched[j].seq
	})

	out := make([]*Listener, len(matched))
	for i, e := range matched {
		out[i] = e.listener
	}
	return out
}
