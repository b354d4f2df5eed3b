package typeindex

import (
	"fmt"
	"reflect"
	"sync"
)

// MapperFunc expands an object into related objects.
// Nil entries in the returned slice are ignored.
type MapperFunc func(obj any) ([]any, error)

// IdentityFunc returns the canonical key of an object.
type IdentityFunc func(obj any) any

// UpcastFunc converts a child value into its declared parent type.
type UpcastFunc func(obj any) any

// Mapper is a single mapper registration.
// Registrations are distinct even when two of them share a function.
type Mapper struct {
	Type reflect.Type
	Fn   MapperFunc
	seq  int
}

// Binding pairs a mapper with the conversion needed to feed it an object of
// the type it was resolved for.
type Binding struct {
	Mapper *Mapper
	Upcast UpcastFunc // nil when the object can be passed as-is
}

// Apply runs the mapper on obj, converting it first when required.
func (b Binding) Apply(obj any) ([]any, error) {
	if b.Upcast != nil {
		obj = b.Upcast(obj)
	}
	return b.Mapper.Fn(obj)
}

// Ancestor is one entry of a type's ancestor chain.
type Ancestor struct {
	Type   reflect.Type
	Depth  int        // 0 for the type itself
	Upcast UpcastFunc // nil when no conversion is needed
}

type parentEdge struct {
	parent reflect.Type
	upcast UpcastFunc
}

// Index stores mappers, identities and declared parents per type.
//
// Thread-safety: all methods are safe for concurrent use. Lookups observe
// every registration that happened before them.
type Index struct {
	mu         sync.RWMutex
	mappers    map[reflect.Type][]*Mapper
	identities map[reflect.Type]IdentityFunc
	parents    map[reflect.Type][]parentEdge
	interfaces map[reflect.Type]struct{} // registered keys of interface kind
	seq        int

	// ancestors is a derived cache, dropped on every registration because a
	// new interface key or parent edge can change any type's chain.
	ancestors map[reflect.Type][]Ancestor
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		mappers:    make(map[reflect.Type][]*Mapper),
		identities: make(map[reflect.Type]IdentityFunc),
		parents:    make(map[reflect.Type][]parentEdge),
		interfaces: make(map[reflect.Type]struct{}),
		ancestors:  make(map[reflect.Type][]Ancestor),
	}
}

// Of returns the reflect.Type of T, including interface types.
func Of[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// RegisterMapper adds fn to the mappers of t. Mappers accumulate.
func (x *Index) RegisterMapper(t reflect.Type, fn MapperFunc) *Mapper {
	if t == nil || fn == nil {
		panic("typeindex: RegisterMapper requires a type and a function")
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	x.seq++
	m := &Mapper{Type: t, Fn: fn, seq: x.seq}
	x.mappers[t] = append(x.mappers[t], m)
	x.noteKeyLocked(t)
	return m
}

// RegisterIdentity sets the identity function of the exact type t.
// Returns DuplicateIdentityError if t already has one; the first
// registration stays in place.
func (x *Index) RegisterIdentity(t reflect.Type, fn IdentityFunc) error {
	if t == nil || fn == nil {
		return fmt.Errorf("register identity: %w", ErrInvalidRegistration)
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.identities[t]; exists {
		return &DuplicateIdentityError{Type: t}
	}
	x.identities[t] = fn
	x.noteKeyLocked(t)
	return nil
}

// DeclareParent records that values of child can be viewed as parent values
// through upcast. A nil upcast is only valid when child values already are
// parent values (parent is an interface child implements).
func (x *Index) DeclareParent(child, parent reflect.Type, upcast UpcastFunc) error {
	if child == nil || parent == nil || child == parent {
		return fmt.Errorf("declare parent: %w", ErrInvalidRegistration)
	}
	if upcast == nil && !(parent.Kind() == reflect.Interface && child.Implements(parent)) {
		return fmt.Errorf("declare parent %s of %s: %w: upcast required", parent, child, ErrInvalidRegistration)
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, e := range x.parents[child] {
		if e.parent == parent {
			return &DuplicateParentError{Child: child, Parent: parent}
		}
	}
	x.parents[child] = append(x.parents[child], parentEdge{parent: parent, upcast: upcast})
	x.noteKeyLocked(parent)
	return nil
}

// noteKeyLocked tracks interface keys and invalidates the ancestor cache.
func (x *Index) noteKeyLocked(t reflect.Type) {
	if t.Kind() == reflect.Interface {
		x.interfaces[t] = struct{}{}
	}
	clear(x.ancestors)
}

// Ancestors returns t followed by its ancestors in breadth-first order.
// Neighbours of a type are its declared parents (in declaration order) and
// then every registered interface key it implements. The first path found to
// an ancestor wins, so each ancestor appears once at its minimal depth.
func (x *Index) Ancestors(t reflect.Type) []Ancestor {
	x.mu.RLock()
	cached, ok := x.ancestors[t]
	x.mu.RUnlock()
	if ok {
		return cached
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if cached, ok := x.ancestors[t]; ok {
		return cached
	}
	chain := x.computeAncestorsLocked(t)
	x.ancestors[t] = chain
	return chain
}

func (x *Index) computeAncestorsLocked(t reflect.Type) []Ancestor {
	chain := []Ancestor{{Type: t}}
	seen := map[reflect.Type]bool{t: true}

	for i := 0; i < len(chain); i++ {
		cur := chain[i]
		for _, e := range x.parents[cur.Type] {
			if seen[e.parent] {
				continue
			}
			seen[e.parent] = true
			chain = append(chain, Ancestor{
				Type:   e.parent,
				Depth:  cur.Depth + 1,
				Upcast: compose(cur.Upcast, e.upcast),
			})
		}
		for _, iface := range x.sortedInterfacesLocked() {
			if seen[iface] || !cur.Type.Implements(iface) {
				continue
			}
			seen[iface] = true
			chain = append(chain, Ancestor{Type: iface, Depth: cur.Depth + 1, Upcast: cur.Upcast})
		}
	}
	return chain
}

// sortedInterfacesLocked returns interface keys in a stable order so that
// ancestor chains do not depend on map iteration.
func (x *Index) sortedInterfacesLocked() []reflect.Type {
	out := make([]reflect.Type, 0, len(x.interfaces))
	for t := range x.interfaces {
		out = append(out, t)
	}
	sortTypes(out)
	return out
}

// ResolveMappers returns the mappers of t and of all its ancestors, nearest
// first and in registration order within one type. No mapper appears twice.
func (x *Index) ResolveMappers(t reflect.Type) []Binding {
	chain := x.Ancestors(t)

	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []Binding
	seen := make(map[*Mapper]bool)
	for _, a := range chain {
		for _, m := range x.mappers[a.Type] {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, Binding{Mapper: m, Upcast: a.Upcast})
		}
	}
	return out
}

// ResolveIdentity returns the canonical key of obj using the identity
// function of its exact type, or else of its nearest ancestor that has one.
// Returns false when no identity applies.
func (x *Index) ResolveIdentity(obj any) (any, bool) {
	if obj == nil {
		return nil, false
	}
	chain := x.Ancestors(reflect.TypeOf(obj))

	x.mu.RLock()
	var (
		fn     IdentityFunc
		upcast UpcastFunc
	)
	for _, a := range chain {
		if f, ok := x.identities[a.Type]; ok {
			fn, upcast = f, a.Upcast
			break
		}
	}
	x.mu.RUnlock()

	if fn == nil {
		return nil, false
	}
	if upcast != nil {
		obj = upcast(obj)
	}
	return fn(obj), true
}

// Matches reports whether values of type t are accepted by target: t is
// target, implements it, or reaches it through declared parents.
func (x *Index) Matches(t, target reflect.Type) bool {
	_, ok := x.path(t, target)
	return ok
}

// Upcast converts obj into a value usable as target, following declared
// parents when needed. Returns false when obj does not match target.
func (x *Index) Upcast(obj any, target reflect.Type) (any, bool) {
	if obj == nil {
		return nil, false
	}
	fn, ok := x.path(reflect.TypeOf(obj), target)
	if !ok {
		return nil, false
	}
	if fn != nil {
		obj = fn(obj)
	}
	return obj, true
}

// path finds the conversion from t to target. Unlike Ancestors it does not
// require target to be a registered key.
func (x *Index) path(t, target reflect.Type) (UpcastFunc, bool) {
	if t == nil || target == nil {
		return nil, false
	}
	if t == target {
		return nil, true
	}
	if target.Kind() == reflect.Interface && t.Implements(target) {
		return nil, true
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	type step struct {
		t      reflect.Type
		upcast UpcastFunc
	}
	queue := []step{{t: t}}
	seen := map[reflect.Type]bool{t: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range x.parents[cur.t] {
			if seen[e.parent] {
				continue
			}
			seen[e.parent] = true
			fn := compose(cur.upcast, e.upcast)
			if e.parent == target || (target.Kind() == reflect.Interface && e.parent.Implements(target)) {
				return fn, true
			}
			queue = append(queue, step{t: e.parent, upcast: fn})
		}
	}
	return nil, false
}

// compose chains two optional conversions, applying first then second.
func compose(first, second UpcastFunc) UpcastFunc {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	default:
		return func(obj any) any { return second(first(obj)) }
	}
}
