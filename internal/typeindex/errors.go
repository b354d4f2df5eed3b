package typeindex

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var (
	// ErrDuplicateIdentity is matched by DuplicateIdentityError.
	ErrDuplicateIdentity = errors.New("identity already registered")

	// ErrDuplicateParent is matched by DuplicateParentError.
	ErrDuplicateParent = errors.New("parent already declared")

	// ErrInvalidRegistration is returned for nil types or functions.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// DuplicateIdentityError is returned when a second identity function is
// registered for the same exact type.
type DuplicateIdentityError struct {
	Type reflect.Type
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("identity already registered for type %s", e.Type)
}

// Is allows errors.Is(err, ErrDuplicateIdentity).
func (e *DuplicateIdentityError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}

// DuplicateParentError is returned when the same parent is declared twice
// for a child type.
type DuplicateParentError struct {
	Child  reflect.Type
	Parent reflect.Type
}

func (e *DuplicateParentError) Error() string {
	return fmt.Sprintf("parent %s already declared for type %s", e.Parent, e.Child)
}

// Is allows errors.Is(err, ErrDuplicateParent).
func (e *DuplicateParentError) Is(target error) bool {
	return target == ErrDuplicateParent
}

// IsDuplicateIdentity reports whether err is a duplicate identity error.
func IsDuplicateIdentity(err error) bool {
	var de *DuplicateIdentityError
	return errors.As(err, &de)
}

func sortTypes(ts []reflect.Type) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].PkgPath() != ts[j].PkgPath() {
			return ts[i].PkgPath() < ts[j].PkgPath()
		}
		return ts[i].String() < ts[j].String()
	})
}
