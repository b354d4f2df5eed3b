package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/tangle/internal/invocation"
	"github.com/roach88/tangle/internal/safe"
)

// dispatch processes one submission. ctx holds the executor token.
//
// Failures of user code never touch the registry or the index; the only
// registry change a submission makes is removing the once listeners it
// picked.
func (e *Engine) dispatch(ctx context.Context, event any) (*Result, error) {
	res := &Result{
		id:    e.ids.Generate(),
		seq:   e.clock.Next(),
		event: event,
	}
	log := e.logger.With("submission_id", res.id, "seq", res.seq)
	if event != nil {
		log = log.With("event_type", reflect.TypeOf(event).String())
	}

	e.transition(log, res, StateResolving)
	involved, err := e.resolver.Resolve(ctx, event)
	if err != nil {
		return e.fail(log, res, fmt.Errorf("submission %s: %w", res.id, err))
	}
	res.involved = involved

	e.transition(log, res, StateSelecting)
	scope := invocation.NewScope(withDispatch(withoutLease(ctx), e))
	inv := invocation.New(invocation.Params{
		ID:        res.id,
		Seq:       res.seq,
		Event:     event,
		Involved:  involved,
		Scope:     scope,
		Suspender: e,
	})
	res.inv = inv
	selected := e.registry.Select(inv, e.index)

	// Handlers see cancellation from the caller and from failed children,
	// and still hold the executor.
	hctx := withLease(scope.Context(), leaseFrom(ctx))

	e.transition(log, res, StateInvoking)
	for _, l := range selected {
		if err := ctx.Err(); err != nil {
			scope.Cancel(err)
			e.join(hctx, inv)
			return e.fail(log, res, fmt.Errorf("submission %s: %w", res.id, err))
		}

		// A once listener picked by another submission in the meantime is
		// skipped.
		if l.Once() && !e.registry.Unregister(l) {
			log.Debug("once listener already fired, skipping", "listener", l.Name())
			continue
		}
		res.received = append(res.received, l)

		if err := safe.Call(func() error { return l.Handle(hctx, inv) }); err != nil {
			scope.Cancel(err)
			e.join(hctx, inv)
			return e.fail(log, res, &HandlerError{SubmissionID: res.id, Listener: l.Name(), Err: err})
		}

		if err := scope.Err(); err != nil {
			e.join(hctx, inv)
			return e.fail(log, res, childFailure(res.id, l.Name(), err))
		}

		if d, ok := inv.Discarded(); ok {
			if err := e.join(hctx, inv); err != nil {
				return e.fail(log, res, childFailure(res.id, "", err))
			}
			res.discard = d
			e.transition(log, res, StateDiscarded, "listener", l.Name(), "reason", d.Reason)
			return res, nil
		}
	}

	if err := e.join(hctx, inv); err != nil {
		return e.fail(log, res, childFailure(res.id, "", err))
	}
	// A discard raised by a child after the last handler still counts.
	if d, ok := inv.Discarded(); ok {
		res.discard = d
		e.transition(log, res, StateDiscarded, "reason", d.Reason)
		return res, nil
	}

	e.transition(log, res, StateCompleted, "received", len(res.received))
	return res, nil
}

// join waits for the children of inv. Waiting is a suspension point when
// there is something to wait for.
func (e *Engine) join(ctx context.Context, inv *invocation.Invocation) error {
	scope := inv.Scope()
	if scope.Spawned() == 0 {
		return scope.Wait()
	}
	var err error
	e.suspended(ctx, func() { err = scope.Wait() })
	return err
}

func (e *Engine) transition(log *slog.Logger, res *Result, s State, attrs ...any) {
	res.state = s
	log.Debug("submission state", append([]any{"state", s.String()}, attrs...)...)
}

func (e *Engine) fail(log *slog.Logger, res *Result, err error) (*Result, error) {
	res.state = StateFailed
	res.err = err
	log.Warn("submission failed", "state", StateFailed.String(), "error", err)
	return res, err
}

func childFailure(id, listenerName string, err error) error {
	var ce *invocation.ChildError
	if errors.As(err, &ce) {
		return &HandlerError{SubmissionID: id, Listener: listenerName, Child: ce.Name, Err: ce.Err}
	}
	return &HandlerError{SubmissionID: id, Listener: listenerName, Err: err}
}

var _ invocation.Suspender = (*Engine)(nil)
