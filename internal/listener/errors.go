package listener

import (
	"errors"
	"fmt"
)

var (
	// ErrNilHandler is returned for a listener without a handler.
	ErrNilHandler = errors.New("listener has no handler")

	// ErrNilTarget is returned for a listener without a target type.
	ErrNilTarget = errors.New("listener has no target type")

	// ErrInvalidOwner is returned for owners that cannot be compared with ==.
	ErrInvalidOwner = errors.New("owner is not comparable")

	// ErrReservedOwner is returned when removing listeners by an owner the
	// registry reserves for itself.
	ErrReservedOwner = errors.New("owner is reserved")
)

// FilterError reports a filter that failed or panicked during selection.
// It is logged and never returned; the listener is treated as not interested.
type FilterError struct {
	Listener string
	Index    int
	Err      error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %d of listener %q: %v", e.Index, e.Listener, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}
