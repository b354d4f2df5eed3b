package engine

import (
	"context"
	"fmt"

	"github.com/roach88/tangle/internal/invocation"
	"github.com/roach88/tangle/internal/listener"
	"github.com/roach88/tangle/internal/typeindex"
)

// Map registers a typed mapper for T.
func Map[T any](e *Engine, fn func(T) ([]any, error)) error {
	if fn == nil {
		return fmt.Errorf("register mapper: %w", typeindex.ErrInvalidRegistration)
	}
	return e.RegisterMapper(typeindex.Of[T](), func(obj any) ([]any, error) {
		return fn(obj.(T))
	})
}

// Identify registers a typed identity function for the exact type T.
func Identify[T any, K comparable](e *Engine, fn func(T) K) error {
	if fn == nil {
		return fmt.Errorf("register identity: %w", typeindex.ErrInvalidRegistration)
	}
	return e.RegisterIdentity(typeindex.Of[T](), func(obj any) any {
		return fn(obj.(T))
	})
}

// Inherit declares P as a parent of C.
func Inherit[C, P any](e *Engine, upcast func(C) P) error {
	if upcast == nil {
		return e.DeclareParent(typeindex.Of[C](), typeindex.Of[P](), nil)
	}
	return e.DeclareParent(typeindex.Of[C](), typeindex.Of[P](), func(obj any) any {
		return upcast(obj.(C))
	})
}

// On registers a listener for events of type T, or of any type that has T
// as an ancestor. The handler receives the event converted to T.
// cfg.Target and cfg.Handler are overwritten.
func On[T any](e *Engine, cfg listener.Config, fn func(ctx context.Context, event T, inv *invocation.Invocation) error) (*listener.Listener, error) {
	if fn == nil {
		return nil, fmt.Errorf("listener %q: %w", cfg.Name, listener.ErrNilHandler)
	}
	target := typeindex.Of[T]()
	cfg.Target = target
	cfg.Handler = func(ctx context.Context, inv *invocation.Invocation) error {
		v, ok := e.index.Upcast(inv.Event(), target)
		if !ok {
			return fmt.Errorf("event %T is not a %v", inv.Event(), target)
		}
		return fn(ctx, v.(T), inv)
	}
	return e.Listen(cfg)
}
