package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrHandler is matched by HandlerError.
	ErrHandler = errors.New("handler failed")

	// ErrStopped is returned for submissions the engine will not process
	// because it has been stopped.
	ErrStopped = errors.New("engine stopped")
)

// HandlerError reports a listener handler, or one of the child tasks it
// started, that failed or panicked. The submission ends in StateFailed.
//
// Panics are wrapped as *safe.PanicError, so errors.Is(err, safe.ErrPanic)
// distinguishes them from returned errors.
type HandlerError struct {
	// SubmissionID identifies the failed submission.
	SubmissionID string

	// Listener is the name of the listener being invoked when the failure
	// was detected. Empty when a child failure surfaced at the final join.
	Listener string

	// Child is the name of the failed child task, empty for handler failures.
	Child string

	Err error
}

func (e *HandlerError) Error() string {
	switch {
	case e.Child != "" && e.Listener != "":
		return fmt.Sprintf("submission %s: listener %q: child task %q failed: %v", e.SubmissionID, e.Listener, e.Child, e.Err)
	case e.Child != "":
		return fmt.Sprintf("submission %s: child task %q failed: %v", e.SubmissionID, e.Child, e.Err)
	default:
		return fmt.Sprintf("submission %s: listener %q failed: %v", e.SubmissionID, e.Listener, e.Err)
	}
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrHandler).
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandler
}

// IsHandlerError returns true if err is or wraps a HandlerError.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}

// IsChildError returns true if err reports a failed child task.
func IsChildError(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Child != ""
	}
	return false
}
