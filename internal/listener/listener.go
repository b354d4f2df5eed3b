// Package listener holds listener definitions and the registry that selects
// them for an invocation.
package listener

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/tangle/internal/invocation"
	"github.com/roach88/tangle/internal/objset"
)

// Handler reacts to an event. Returning an error fails the submission.
type Handler func(ctx context.Context, inv *invocation.Invocation) error

// Filter decides whether a listener is interested in an invocation.
// An error or a panic counts as "not interested".
type Filter func(inv *invocation.Invocation) (bool, error)

// Config describes a listener. It is plain data; New validates it.
type Config struct {
	// Name is used in logs and traces. Defaults to the listener ID.
	Name string

	// Target is the event type the listener reacts to. Events of any type
	// that matches Target in the hierarchy are delivered too.
	Target reflect.Type

	// Owner is an opaque comparable token. Listeners sharing an owner can be
	// removed together. Nil means unowned.
	Owner any

	// Priority orders delivery, highest first.
	Priority int

	// Once removes the listener right before its first invocation.
	Once bool

	// Filters run after the type and involvement checks, in order.
	Filters []Filter

	// To restricts delivery to events whose involvement set contains all of
	// these objects (compared by value, after identity substitution).
	To []any

	Handler Handler
}

// Listener is an immutable, registrable listener.
type Listener struct {
	id       string
	name     string
	target   reflect.Type
	owner    any
	priority int
	once     bool
	filters  []Filter
	to       *objset.Set
	handler  Handler
}

// New validates cfg and builds a Listener identified by id.
func New(cfg Config, id string) (*Listener, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("listener %q: %w", cfg.Name, ErrNilHandler)
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("listener %q: %w", cfg.Name, ErrNilTarget)
	}
	if cfg.Owner != nil && !reflect.ValueOf(cfg.Owner).Comparable() {
		return nil, fmt.Errorf("listener %q: owner %T: %w", cfg.Name, cfg.Owner, ErrInvalidOwner)
	}

	name := cfg.Name
	if name == "" {
		name = id
	}
	filters := make([]Filter, 0, len(cfg.Filters))
	for _, f := range cfg.Filters {
		if f != nil {
			filters = append(filters, f)
		}
	}

	return &Listener{
		id:       id,
		name:     name,
		target:   cfg.Target,
		owner:    cfg.Owner,
		priority: cfg.Priority,
		once:     cfg.Once,
		filters:  filters,
		to:       objset.New(cfg.To...),
		handler:  cfg.Handler,
	}, nil
}

func (l *Listener) ID() string           { return l.id }
func (l *Listener) Name() string         { return l.name }
func (l *Listener) Target() reflect.Type { return l.target }
func (l *Listener) Owner() any           { return l.owner }
func (l *Listener) Priority() int        { return l.priority }
func (l *Listener) Once() bool           { return l.once }

// To returns the required involved objects.
func (l *Listener) To() []any { return l.to.Items() }

// Handle calls the handler.
func (l *Listener) Handle(ctx context.Context, inv *invocation.Invocation) error {
	return l.handler(ctx, inv)
}

func (l *Listener) String() string {
	return fmt.Sprintf("%s(%v, priority=%d)", l.name, l.target, l.priority)
}

// ownedBy reports whether the listener belongs to owner.
// owner must be comparable.
func (l *Listener) ownedBy(owner any) bool {
	if l.owner == nil || owner == nil {
		return false
	}
	if reflect.TypeOf(l.owner) != reflect.TypeOf(owner) {
		return false
	}
	return l.owner == owner
}
