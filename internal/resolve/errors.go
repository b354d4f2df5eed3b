package resolve

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrMapper is matched by MapperError.
	ErrMapper = errors.New("mapper failed")

	// ErrExpansionLimit is matched by ExpansionLimitError.
	ErrExpansionLimit = errors.New("expansion limit exceeded")
)

// MapperError reports a mapper (or identity function) that failed while
// resolving involvement. It aborts the resolution of that event only.
type MapperError struct {
	// ObjectType is the runtime type of the object being expanded.
	ObjectType reflect.Type

	// MapperType is the type the failing mapper was registered for.
	// Nil when Identity is true.
	MapperType reflect.Type

	// Identity is true when an identity function failed.
	Identity bool

	Err error
}

func (e *MapperError) Error() string {
	if e.Identity {
		return fmt.Sprintf("identity for %v failed: %v", e.ObjectType, e.Err)
	}
	if e.MapperType != nil && e.MapperType != e.ObjectType {
		return fmt.Sprintf("mapper for %v failed on %v: %v", e.MapperType, e.ObjectType, e.Err)
	}
	return fmt.Sprintf("mapper for %v failed: %v", e.ObjectType, e.Err)
}

func (e *MapperError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrMapper).
func (e *MapperError) Is(target error) bool {
	return target == ErrMapper
}

// ExpansionLimitError is returned when one resolution expands more objects
// than the configured quota allows.
type ExpansionLimitError struct {
	Expansions int
	Limit      int
}

func (e *ExpansionLimitError) Error() string {
	return fmt.Sprintf("involvement expansion exceeded limit: %d expansions > %d limit", e.Expansions, e.Limit)
}

// Is allows errors.Is(err, ErrExpansionLimit).
func (e *ExpansionLimitError) Is(target error) bool {
	return target == ErrExpansionLimit
}

// IsMapperError returns true if err is or wraps a MapperError.
func IsMapperError(err error) bool {
	var me *MapperError
	return errors.As(err, &me)
}
