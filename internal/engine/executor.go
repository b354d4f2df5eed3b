package engine

import (
	"context"
	"sync/atomic"
)

// The executor is a single token. A submission runs synchronous handler code
// only while it holds the token, so no two submissions' listener sections
// interleave. Invocation.Await and the child-task join hand the token back
// temporarily; that is the only way another submission can start before the
// current one finishes.

// lease records whether one running submission currently holds the token.
// It travels in the handler context so re-entrant calls can find it.
type lease struct {
	engine *Engine
	held   atomic.Bool
}

type leaseKey struct{}

func withLease(ctx context.Context, l *lease) context.Context {
	return context.WithValue(ctx, leaseKey{}, l)
}

// withoutLease hides any lease from ctx. Child tasks run on such contexts:
// they never hold the executor.
func withoutLease(ctx context.Context) context.Context {
	return context.WithValue(ctx, leaseKey{}, (*lease)(nil))
}

type dispatchKey struct{}

// withDispatch marks ctx as derived from a submission of e. Handler and
// child contexts carry the mark.
func withDispatch(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, dispatchKey{}, e)
}

// dispatching reports whether ctx belongs to a submission of e.
func (e *Engine) dispatching(ctx context.Context) bool {
	d, _ := ctx.Value(dispatchKey{}).(*Engine)
	return d == e
}

func leaseFrom(ctx context.Context) *lease {
	l, _ := ctx.Value(leaseKey{}).(*lease)
	return l
}

// holding returns the lease of e carried by ctx if it currently holds the
// token.
func (e *Engine) holding(ctx context.Context) *lease {
	l := leaseFrom(ctx)
	if l == nil || l.engine != e || !l.held.Load() {
		return nil
	}
	return l
}

// acquire blocks until the token is free, ctx is done, or the engine stops.
func (e *Engine) acquire(ctx context.Context) bool {
	select {
	case e.token <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	case <-e.stopped:
		return false
	}
}

func (e *Engine) release() {
	<-e.token
}

// Suspend gives the token back if ctx holds it. It implements
// invocation.Suspender.
func (e *Engine) Suspend(ctx context.Context) bool {
	l := leaseFrom(ctx)
	if l == nil || l.engine != e || !l.held.CompareAndSwap(true, false) {
		return false
	}
	e.release()
	return true
}

// Resume takes the token again after Suspend returned true. It waits for the
// submission currently holding it to finish or suspend.
func (e *Engine) Resume(ctx context.Context) {
	l := leaseFrom(ctx)
	e.token <- struct{}{}
	if l != nil {
		l.held.Store(true)
	}
}

// suspended runs fn with the token released when ctx holds it.
func (e *Engine) suspended(ctx context.Context, fn func()) {
	if !e.Suspend(ctx) {
		fn()
		return
	}
	defer e.Resume(ctx)
	fn()
}
