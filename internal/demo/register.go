package demo

import (
	"fmt"
	"reflect"

	"github.com/roach88/tangle/internal/engine"
	"github.com/roach88/tangle/internal/typeindex"
)

// Register installs the domain's mappers, identities and hierarchy on e.
//
// Involvement of each event kind:
//
//	message         author, channel, guild
//	system_message  as message
//	reaction        message, reacting user, and the message's involvement
//	member          user, guild
//	channel         guild
//	typing          user, channel, guild
//
// Every Entity is replaced by its Ref in involvement sets.
func Register(e *engine.Engine) error {
	steps := []func() error{
		func() error {
			return engine.Inherit(e, func(s *SystemMessage) *Message { return &s.Message })
		},
		func() error {
			return engine.Identify(e, func(x Entity) Ref { return x.Ref() })
		},
		func() error {
			return engine.Map(e, func(m *Message) ([]any, error) {
				return nonNil(m.Author, m.Channel), nil
			})
		},
		func() error {
			return engine.Map(e, func(c *Channel) ([]any, error) {
				return nonNil(c.Guild), nil
			})
		},
		func() error {
			return engine.Map(e, func(m *Member) ([]any, error) {
				return nonNil(m.User, m.Guild), nil
			})
		},
		func() error {
			return engine.Map(e, func(r *Reaction) ([]any, error) {
				return nonNil(r.Message, r.User), nil
			})
		},
		func() error {
			return engine.Map(e, func(t *Typing) ([]any, error) {
				return nonNil(t.User, t.Channel), nil
			})
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("register demo domain: %w", err)
		}
	}
	return nil
}

// nonNil drops nil pointers, which would otherwise enter the mapper output as
// typed nils.
func nonNil(values ...any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			continue
		}
		out = append(out, v)
	}
	return out
}

// TypeOf maps a kind name to the Go type listeners target.
// "entity" is the Entity interface and "any" matches every event.
func TypeOf(kind string) (reflect.Type, error) {
	switch kind {
	case KindUser:
		return typeindex.Of[*User](), nil
	case KindGuild:
		return typeindex.Of[*Guild](), nil
	case KindChannel:
		return typeindex.Of[*Channel](), nil
	case KindMember:
		return typeindex.Of[*Member](), nil
	case KindMessage:
		return typeindex.Of[*Message](), nil
	case KindSystemMessage:
		return typeindex.Of[*SystemMessage](), nil
	case KindReaction:
		return typeindex.Of[*Reaction](), nil
	case KindTyping:
		return typeindex.Of[*Typing](), nil
	case "entity":
		return typeindex.Of[Entity](), nil
	case "any":
		return typeindex.Of[any](), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// Kinds lists the event kinds a World can build.
func Kinds() []string {
	return []string{KindUser, KindGuild, KindChannel, KindMember, KindMessage, KindSystemMessage, KindReaction, KindTyping}
}
