package demo

import (
	"fmt"
	"sync"
)

// EventSpec describes an event by reference to entities of a World.
type EventSpec struct {
	Kind    string `yaml:"kind" json:"kind"`
	ID      string `yaml:"id,omitempty" json:"id,omitempty"`
	Text    string `yaml:"text,omitempty" json:"text,omitempty"`
	Author  string `yaml:"author,omitempty" json:"author,omitempty"`
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`
	Guild   string `yaml:"guild,omitempty" json:"guild,omitempty"`
	User    string `yaml:"user,omitempty" json:"user,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
	Emoji   string `yaml:"emoji,omitempty" json:"emoji,omitempty"`
}

// World interns entities by ID so events built from specs share them.
// Safe for concurrent use.
type World struct {
	mu       sync.Mutex
	users    map[string]*User
	guilds   map[string]*Guild
	channels map[string]*Channel
	messages map[string]*Message
}

// NewWorld creates an empty World.
func NewWorld() *World {
	return &World{
		users:    make(map[string]*User),
		guilds:   make(map[string]*Guild),
		channels: make(map[string]*Channel),
		messages: make(map[string]*Message),
	}
}

// Build creates the event described by spec.
func (w *World) Build(spec EventSpec) (any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch spec.Kind {
	case KindUser:
		if err := requireFields(spec, "id", spec.ID); err != nil {
			return nil, err
		}
		return w.user(spec.ID), nil

	case KindGuild:
		if err := requireFields(spec, "id", spec.ID); err != nil {
			return nil, err
		}
		return w.guild(spec.ID), nil

	case KindChannel:
		if err := requireFields(spec, "id", spec.ID); err != nil {
			return nil, err
		}
		return w.channel(spec.ID, spec.Guild), nil

	case KindMember:
		if err := requireFields(spec, "user", spec.User, "guild", spec.Guild); err != nil {
			return nil, err
		}
		return &Member{User: w.user(spec.User), Guild: w.guild(spec.Guild)}, nil

	case KindMessage:
		if err := requireFields(spec, "id", spec.ID, "author", spec.Author, "channel", spec.Channel); err != nil {
			return nil, err
		}
		return w.message(spec), nil

	case KindSystemMessage:
		if err := requireFields(spec, "id", spec.ID, "channel", spec.Channel); err != nil {
			return nil, err
		}
		m := w.message(spec)
		return &SystemMessage{Message: *m}, nil

	case KindReaction:
		if err := requireFields(spec, "message", spec.Message, "user", spec.User); err != nil {
			return nil, err
		}
		emoji := spec.Emoji
		if emoji == "" {
			emoji = "+1"
		}
		msg, ok := w.messages[spec.Message]
		if !ok {
			msg = &Message{ID: spec.Message}
			w.messages[spec.Message] = msg
		}
		return &Reaction{Emoji: emoji, Message: msg, User: w.user(spec.User)}, nil

	case KindTyping:
		if err := requireFields(spec, "user", spec.User, "channel", spec.Channel); err != nil {
			return nil, err
		}
		return &Typing{User: w.user(spec.User), Channel: w.channel(spec.Channel, spec.Guild)}, nil

	default:
		return nil, fmt.Errorf("unknown event kind %q", spec.Kind)
	}
}

func requireFields(spec EventSpec, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%s event requires %q", spec.Kind, pairs[i])
		}
	}
	return nil
}

func (w *World) user(id string) *User {
	u, ok := w.users[id]
	if !ok {
		u = &User{ID: id, Name: id}
		w.users[id] = u
	}
	return u
}

func (w *World) guild(id string) *Guild {
	g, ok := w.guilds[id]
	if !ok {
		g = &Guild{ID: id, Name: id}
		w.guilds[id] = g
	}
	return g
}

// channel interns a channel; a guild given later attaches to a channel first
// seen without one.
func (w *World) channel(id, guildID string) *Channel {
	c, ok := w.channels[id]
	if !ok {
		c = &Channel{ID: id}
		w.channels[id] = c
	}
	if guildID != "" && c.Guild == nil {
		c.Guild = w.guild(guildID)
	}
	return c
}

func (w *World) message(spec EventSpec) *Message {
	m, ok := w.messages[spec.ID]
	if !ok {
		m = &Message{ID: spec.ID}
		w.messages[spec.ID] = m
	}
	if spec.Text != "" {
		m.Text = spec.Text
	}
	if spec.Author != "" && m.Author == nil {
		m.Author = w.user(spec.Author)
	}
	if spec.Channel != "" && m.Channel == nil {
		m.Channel = w.channel(spec.Channel, spec.Guild)
	}
	return m
}
