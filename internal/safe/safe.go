// Package safe runs user-supplied callbacks with panic recovery.
package safe

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrPanic is matched by PanicError.
var ErrPanic = errors.New("panic in user code")

// PanicError wraps a recovered panic value with the stack at recovery time.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Is allows errors.Is(err, ErrPanic).
func (e *PanicError) Is(target error) bool {
	return target == ErrPanic
}

// Call runs fn and converts a panic into a PanicError.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

// IsPanic reports whether err wraps a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
