package invocation

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a DataBag key already holds a value.
	ErrDuplicateKey = errors.New("data key already present")

	// ErrNotFound is returned when a DataBag key holds no value.
	ErrNotFound = errors.New("data key not found")

	// ErrNilValue is returned when storing a nil value.
	ErrNilValue = errors.New("nil data value")
)

// KeyError reports a DataBag misuse for a specific key.
type KeyError struct {
	Key Key
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("data %s: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// ChildError reports a failed child task.
type ChildError struct {
	Name string
	Err  error
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("child task %q: %v", e.Name, e.Err)
}

func (e *ChildError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a missing DataBag key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey reports whether err is a taken DataBag key.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}
