package engine

import (
	"context"
	"sync"
)

// submission is one queued Submit or SubmitAsync call.
type submission struct {
	ctx     context.Context
	event   any
	pending *Pending
}

// submissionQueue is a thread-safe FIFO queue of submissions.
//
// The queue is unbounded so SubmitAsync never blocks, including from inside
// handlers.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type submissionQueue struct {
	mu     sync.Mutex
	items  []*submission
	closed bool
	signal chan struct{} // buffered, size 1
}

func newSubmissionQueue(hint int) *submissionQueue {
	if hint <= 0 {
		hint = 64
	}
	return &submissionQueue{
		items:  make([]*submission, 0, hint),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds s to the back of the queue.
// Returns false if the queue is closed.
func (q *submissionQueue) Enqueue(s *submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, s)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front submission without blocking.
// Returns false if the queue is empty or closed.
func (q *submissionQueue) TryDequeue() (*submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return nil, false
	}

	s := q.items[0]
	q.items[0] = nil // let GC collect the event
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns a channel that signals when submissions may be available.
// It is closed when the queue is closed.
func (q *submissionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *submissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *submissionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting submissions and wakes waiters.
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns everything still queued.
func (q *submissionQueue) Drain() []*submission {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}
