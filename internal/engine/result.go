package engine

import (
	"context"

	"github.com/roach88/tangle/internal/invocation"
	"github.com/roach88/tangle/internal/listener"
	"github.com/roach88/tangle/internal/objset"
)

// Result describes a processed submission.
//
// Submit returns a Result for failed submissions too, describing how far
// dispatch got; its Err matches the returned error.
type Result struct {
	id       string
	seq      int64
	event    any
	inv      *invocation.Invocation
	involved *objset.Set
	received []*listener.Listener
	state    State
	discard  invocation.DiscardInfo
	err      error
}

// ID returns the submission ID.
func (r *Result) ID() string { return r.id }

// Seq returns the logical clock value stamped on the submission.
func (r *Result) Seq() int64 { return r.seq }

// Event returns the submitted event.
func (r *Result) Event() any { return r.event }

// Invocation returns the invocation shared by the listeners. Nil when
// resolution failed.
func (r *Result) Invocation() *invocation.Invocation { return r.inv }

// Involved returns the involvement set. Nil when resolution failed.
func (r *Result) Involved() *objset.Set { return r.involved }

// Received returns the listeners invoked, in invocation order.
func (r *Result) Received() []*listener.Listener {
	out := make([]*listener.Listener, len(r.received))
	copy(out, r.received)
	return out
}

// State returns the terminal state.
func (r *Result) State() State { return r.state }

// Discarded reports whether a listener discarded the submission.
func (r *Result) Discarded() bool { return r.state == StateDiscarded }

// DiscardReason returns the reason given with the discard, if any.
func (r *Result) DiscardReason() (string, bool) {
	if r.state != StateDiscarded {
		return "", false
	}
	return r.discard.Reason, r.discard.HasReason
}

// Data returns the DataBag filled by the handlers. Nil when resolution failed.
func (r *Result) Data() *invocation.DataBag {
	if r.inv == nil {
		return nil
	}
	return r.inv.Data()
}

// Err returns the failure, nil unless State is StateFailed.
func (r *Result) Err() error { return r.err }

// Pending is the handle of an asynchronous submission.
type Pending struct {
	done chan struct{}
	res  *Result
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done is closed once the submission has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the submission finishes or ctx is done. Giving up on
// the wait does not cancel the submission.
func (p *Pending) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish is called exactly once.
func (p *Pending) finish(res *Result, err error) {
	p.res, p.err = res, err
	close(p.done)
}
