package invocation

import (
	"fmt"
	"reflect"
	"sync"
)

// Key identifies a DataBag entry: the value's type plus an optional name.
// An empty Name means "unnamed".
type Key struct {
	Type reflect.Type
	Name string
}

func (k Key) String() string {
	if k.Name == "" {
		return fmt.Sprintf("%v", k.Type)
	}
	return fmt.Sprintf("%v(%s)", k.Type, k.Name)
}

// DataBag is the per-submission keyed store shared by all listeners.
// Each key holds at most one value; Put never overwrites.
//
// Thread-safety: DataBag is safe for concurrent use, so child tasks may
// write to it while the handler that spawned them keeps running.
type DataBag struct {
	mu     sync.RWMutex
	values map[Key]any
	order  []Key
}

// NewDataBag creates an empty DataBag.
func NewDataBag() *DataBag {
	return &DataBag{values: make(map[Key]any)}
}

// Put stores v under (typeOf(v), no name).
func (b *DataBag) Put(v any) error {
	return b.PutNamed("", v)
}

// PutNamed stores v under (typeOf(v), name).
// Returns KeyError wrapping ErrDuplicateKey if the key is taken.
func (b *DataBag) PutNamed(name string, v any) error {
	if v == nil {
		return &KeyError{Key: Key{Name: name}, Err: ErrNilValue}
	}
	return b.put(Key{Type: reflect.TypeOf(v), Name: name}, v)
}

func (b *DataBag) put(k Key, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.values[k]; exists {
		return &KeyError{Key: k, Err: ErrDuplicateKey}
	}
	b.values[k] = v
	b.order = append(b.order, k)
	return nil
}

// Get returns the value stored under (t, name).
// Returns KeyError wrapping ErrNotFound if absent.
func (b *DataBag) Get(t reflect.Type, name string) (any, error) {
	k := Key{Type: t, Name: name}
	v, ok := b.lookup(k)
	if !ok {
		return nil, &KeyError{Key: k, Err: ErrNotFound}
	}
	return v, nil
}

// Find returns the value stored under (t, name) and whether it exists.
func (b *DataBag) Find(t reflect.Type, name string) (any, bool) {
	return b.lookup(Key{Type: t, Name: name})
}

func (b *DataBag) lookup(k Key) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[k]
	return v, ok
}

// Keys returns the stored keys in insertion order.
func (b *DataBag) Keys() []Key {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Key, len(b.order))
	copy(out, b.order)
	return out
}

// Len returns the number of entries.
func (b *DataBag) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

// Put stores v under (T, no name). Unlike DataBag.Put the key uses the
// static type T, so Put[error](b, err) is found by Get[error].
func Put[T any](b *DataBag, v T) error {
	return PutNamed(b, "", v)
}

// PutNamed stores v under (T, name).
func PutNamed[T any](b *DataBag, name string, v T) error {
	if any(v) == nil {
		return &KeyError{Key: Key{Type: reflect.TypeFor[T](), Name: name}, Err: ErrNilValue}
	}
	return b.put(Key{Type: reflect.TypeFor[T](), Name: name}, v)
}

// Get returns the value stored under (T, name).
func Get[T any](b *DataBag, name string) (T, error) {
	var zero T
	v, err := b.Get(reflect.TypeFor[T](), name)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Find returns the value stored under (T, name) and whether it exists.
func Find[T any](b *DataBag, name string) (T, bool) {
	var zero T
	v, ok := b.Find(reflect.TypeFor[T](), name)
	if !ok {
		return zero, false
	}
	return v.(T), true
}
