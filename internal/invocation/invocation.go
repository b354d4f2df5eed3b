// Package invocation holds the per-submission context shared by listeners:
// the event, its involved set, the DataBag, the discard signal, and the
// scope of child tasks started by handlers.
package invocation

import (
	"context"
	"sync"

	"github.com/roach88/tangle/internal/objset"
)

// Suspender lets a handler give the executor back while it waits.
//
// Suspend returns false when ctx does not hold the executor (for example
// inside a child task); Resume is only called after Suspend returned true.
type Suspender interface {
	Suspend(ctx context.Context) bool
	Resume(ctx context.Context)
}

// DiscardInfo describes a discard signal.
type DiscardInfo struct {
	Reason    string
	HasReason bool
}

// Params configures a new Invocation.
type Params struct {
	ID        string
	Seq       int64
	Event     any
	Involved  *objset.Set
	Scope     *Scope
	Suspender Suspender
}

// Invocation is created once per submission and shared by pointer with every
// listener invoked for it. Only the DataBag and the discard flag change after
// construction.
type Invocation struct {
	id        string
	seq       int64
	event     any
	involved  *objset.Set
	data      *DataBag
	scope     *Scope
	suspender Suspender

	mu      sync.Mutex
	discard *DiscardInfo
}

// New creates an Invocation with a fresh DataBag.
func New(p Params) *Invocation {
	involved := p.Involved
	if involved == nil {
		involved = objset.New()
	}
	scope := p.Scope
	if scope == nil {
		scope = NewScope(context.Background())
	}
	return &Invocation{
		id:        p.ID,
		seq:       p.Seq,
		event:     p.Event,
		involved:  involved,
		data:      NewDataBag(),
		scope:     scope,
		suspender: p.Suspender,
	}
}

// ID returns the submission ID.
func (i *Invocation) ID() string { return i.id }

// Seq returns the submission sequence number.
func (i *Invocation) Seq() int64 { return i.seq }

// Event returns the submitted event.
func (i *Invocation) Event() any { return i.event }

// Involved returns the involvement set computed for the event.
func (i *Invocation) Involved() *objset.Set { return i.involved }

// Data returns the shared DataBag.
func (i *Invocation) Data() *DataBag { return i.data }

// Scope returns the child task scope.
func (i *Invocation) Scope() *Scope { return i.scope }

// Discard stops propagation to lower-priority listeners without failing
// the submission.
func (i *Invocation) Discard() {
	i.setDiscard(DiscardInfo{})
}

// DiscardBecause is Discard with a reason that is reported in the result.
func (i *Invocation) DiscardBecause(reason string) {
	i.setDiscard(DiscardInfo{Reason: reason, HasReason: true})
}

func (i *Invocation) setDiscard(d DiscardInfo) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.discard == nil {
		i.discard = &d
	}
}

// Discarded returns the discard signal, if any. The first signal wins.
func (i *Invocation) Discarded() (DiscardInfo, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.discard == nil {
		return DiscardInfo{}, false
	}
	return *i.discard, true
}

// Go starts a child task tied to this invocation. The submission does not
// complete until every child has returned; a failing child fails it.
func (i *Invocation) Go(name string, fn func(ctx context.Context) error) {
	i.scope.Go(name, fn)
}

// Await runs fn, releasing the executor for its duration when ctx holds it,
// so other submissions can make progress while this handler waits.
func (i *Invocation) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	if i.suspender == nil || !i.suspender.Suspend(ctx) {
		return fn(ctx)
	}
	defer i.suspender.Resume(ctx)
	return fn(ctx)
}
