// Package demo is a small chat domain used by the scenario harness and the
// CLI: users, guilds, channels, members, messages, system messages and
// reactions, wired into an engine with mappers and identities.
package demo

import (
	"fmt"
	"strings"
)

// Ref is the canonical key of an entity. Two entity values with the same Ref
// are the same entity for involvement purposes.
type Ref struct {
	Kind string
	ID   string
}

func (r Ref) String() string {
	return r.Kind + ":" + r.ID
}

// ParseRef parses "kind:id".
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || kind == "" || id == "" {
		return Ref{}, fmt.Errorf("invalid ref %q: want kind:id", s)
	}
	return Ref{Kind: kind, ID: id}, nil
}

// Entity is implemented by every domain object that has a Ref.
type Entity interface {
	Ref() Ref
}

type User struct {
	ID   string
	Name string
}

func (u *User) Ref() Ref { return Ref{Kind: KindUser, ID: u.ID} }

type Guild struct {
	ID   string
	Name string
}

func (g *Guild) Ref() Ref { return Ref{Kind: KindGuild, ID: g.ID} }

type Channel struct {
	ID    string
	Guild *Guild
}

func (c *Channel) Ref() Ref { return Ref{Kind: KindChannel, ID: c.ID} }

// Member is a user's membership in a guild.
type Member struct {
	User  *User
	Guild *Guild
}

func (m *Member) Ref() Ref { return Ref{Kind: KindMember, ID: m.Guild.ID + "/" + m.User.ID} }

type Message struct {
	ID      string
	Text    string
	Author  *User
	Channel *Channel
}

func (m *Message) Ref() Ref { return Ref{Kind: KindMessage, ID: m.ID} }

// SystemMessage is a message posted by the platform. It is declared a child
// of Message, so message listeners and mappers see it too.
type SystemMessage struct {
	Message
}

func (s *SystemMessage) Ref() Ref { return Ref{Kind: KindSystemMessage, ID: s.ID} }

type Reaction struct {
	Emoji   string
	Message *Message
	User    *User
}

func (r *Reaction) Ref() Ref {
	return Ref{Kind: KindReaction, ID: r.Message.ID + "/" + r.User.ID + "/" + r.Emoji}
}

// Typing is a transient event without identity of its own.
type Typing struct {
	User    *User
	Channel *Channel
}

const (
	KindUser          = "user"
	KindGuild         = "guild"
	KindChannel       = "channel"
	KindMember        = "member"
	KindMessage       = "message"
	KindSystemMessage = "system_message"
	KindReaction      = "reaction"
	KindTyping        = "typing"
)
