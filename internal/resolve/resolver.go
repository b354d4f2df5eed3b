// Package resolve computes the set of objects involved in an event.
//
// Resolution is a closure over the mapper graph held by a typeindex.Index:
//
//  1. The work queue is seeded with the event.
//  2. Each popped object that has not been expanded yet is expanded by every
//     mapper applicable to its runtime type (including ancestor mappers).
//  3. Every produced non-nil value p contributes identity(p), or p itself when
//     no identity applies, to the result; the original p is queued so mappers
//     keyed on p's own type still fire.
//
// Expansion is gated by a visited set, not by the result set, so mapper
// cycles (A → B → A) and self-producing mappers (A → A) terminate. The seed
// is only part of the result when some mapper produces it again.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/tangle/internal/objset"
	"github.com/roach88/tangle/internal/safe"
	"github.com/roach88/tangle/internal/typeindex"
)

// DefaultMaxExpansions bounds the number of objects expanded for one event.
// This stops runaway non-cyclic expansion (A → B → C → ...), which the
// visited set alone cannot catch.
const DefaultMaxExpansions = 10000

// Resolver computes involvement sets. It holds no per-resolution state and
// is safe for concurrent use.
type Resolver struct {
	index         *typeindex.Index
	maxExpansions int
	logger        *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxExpansions sets the expansion quota per resolution.
// Zero or a negative value disables the quota.
func WithMaxExpansions(n int) Option {
	return func(r *Resolver) {
		r.maxExpansions = n
	}
}

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Resolver over index.
func New(index *typeindex.Index, opts ...Option) *Resolver {
	r := &Resolver{
		index:         index,
		maxExpansions: DefaultMaxExpansions,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the involvement set of event.
//
// A failing or panicking mapper (or identity function) aborts the whole
// resolution with a MapperError. The Resolver itself is unaffected and can
// be used again immediately.
func (r *Resolver) Resolve(ctx context.Context, event any) (*objset.Set, error) {
	result := objset.New()
	if event == nil {
		return result, nil
	}

	guard := newExpansionGuard(r.maxExpansions)
	queue := []any{event}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve cancelled: %w", err)
		}

		obj := queue[0]
		queue[0] = nil
		queue = queue[1:]

		if !guard.Visit(obj) {
			continue
		}
		if err := guard.Check(); err != nil {
			return nil, err
		}

		produced, err := r.expand(obj)
		if err != nil {
			return nil, err
		}

		for _, p := range produced {
			if p == nil {
				continue
			}
			key, err := r.identity(p)
			if err != nil {
				return nil, err
			}
			result.Add(key)
			if !guard.Visited(p) {
				queue = append(queue, p)
			}
		}
	}

	r.logger.Debug("involvement resolved",
		"event_type", reflect.TypeOf(event).String(),
		"expansions", guard.Expansions(),
		"involved", result.Len(),
	)
	return result, nil
}

// expand applies every mapper bound to obj's type.
func (r *Resolver) expand(obj any) ([]any, error) {
	var out []any
	for _, b := range r.index.ResolveMappers(reflect.TypeOf(obj)) {
		var produced []any
		err := safe.Call(func() error {
			var err error
			produced, err = b.Apply(obj)
			return err
		})
		if err != nil {
			return nil, &MapperError{
				ObjectType: reflect.TypeOf(obj),
				MapperType: b.Mapper.Type,
				Err:        err,
			}
		}
		out = append(out, produced...)
	}
	return out, nil
}

// identity substitutes p by its canonical key when one applies.
func (r *Resolver) identity(p any) (any, error) {
	var (
		key any
		ok  bool
	)
	err := safe.Call(func() error {
		key, ok = r.index.ResolveIdentity(p)
		return nil
	})
	if err != nil {
		return nil, &MapperError{ObjectType: reflect.TypeOf(p), Identity: true, Err: err}
	}
	if !ok || key == nil {
		return p, nil
	}
	return key, nil
}
