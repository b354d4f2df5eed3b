package invocation

import (
	"context"
	"sync"

	"github.com/roach88/tangle/internal/safe"
)

// Scope tracks the child tasks spawned while handling one submission.
//
// The first failing child cancels the scope context, so siblings observing
// ctx.Done() stop early; Wait still joins every child. Panics in children are
// captured as safe.PanicError.
type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	wg sync.WaitGroup

	mu    sync.Mutex
	err   error
	count int
}

// NewScope creates a scope whose context derives from parent.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancelCause(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context returns the scope context handed to children.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Go starts fn as a child task named name.
func (s *Scope) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := safe.Call(func() error { return fn(s.ctx) }); err != nil {
			s.fail(&ChildError{Name: name, Err: err})
		}
	}()
}

func (s *Scope) fail(err error) {
	s.mu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()

	if first {
		s.cancel(err)
	}
}

// Err returns the first child failure, or nil.
func (s *Scope) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Spawned returns how many children have been started.
func (s *Scope) Spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cancel cancels the scope context with cause, stopping cooperative children.
func (s *Scope) Cancel(cause error) {
	s.cancel(cause)
}

// Wait blocks until every child has returned and reports the first failure.
// The scope context is released afterwards.
func (s *Scope) Wait() error {
	s.wg.Wait()
	s.cancel(context.Canceled)
	return s.Err()
}
