package convert

import (
	"fmt"
	"time"

	model "github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/protocol"
	u "github.com/gofrs/uuid/v5"
)

// --- helpers ---

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// ParseID parses a user id coming from the wire. Empty or nil ids are rejected.
func ParseID(s string) (u.UUID, error) {
	id, err := u.FromString(s)
	if err != nil {
		return u.Nil, fmt.Errorf("invalid id: %w", err)
	}
	if id == u.Nil {
		return u.Nil, fmt.Errorf("invalid id: nil uuid")
	}
	return id, nil
}

// --- Message ---

// ToWireMessage converts a stored message to its JSON shape.
func ToWireMessage(m model.Message) protocol.Message {
	var readAt *time.Time
	if m.ReadAt != nil {
		r := m.ReadAt.UTC()
		readAt = &r
	}
	return protocol.Message{
		ID:          m.ID,
		SenderID:    m.SenderID.String(),
		RecipientID: m.RecipientID.String(),
		Content:     m.Content,
		CreatedAt:   utc(m.CreatedAt),
		ReadAt:      readAt,
		SenderName:  m.SenderName,
	}
}

// ToWireMessages converts a page of messages; nil gives an empty slice.
func ToWireMessages(ms []model.Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, ToWireMessage(m))
	}
	return out
}

// FromWireMessage converts a pushed record back to the domain type.
func FromWireMessage(in protocol.Message) (model.Message, error) {
	sender, err := ParseID(in.SenderID)
	if err != nil {
		return model.Message{}, fmt.Errorf("sender: %w", err)
	}
	recipient, err := ParseID(in.RecipientID)
	if err != nil {
		return model.Message{}, fmt.Errorf("recipient: %w", err)
	}
	return model.Message{
		ID:          in.ID,
		SenderID:    sender,
		RecipientID: recipient,
		Content:     in.Content,
		CreatedAt:   in.CreatedAt,
		ReadAt:      in.ReadAt,
		SenderName:  in.SenderName,
	}, nil
}

// FromWireMessages converts a page, failing on the first bad record.
func FromWireMessages(in []protocol.Message) ([]model.Message, error) {
	out := make([]model.Message, 0, len(in))
	for i, m := range in {
		d, err := FromWireMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// --- Users / Contacts ---

// ToWireUser drops the password hash.
func ToWireUser(usr model.User) protocol.User {
	return protocol.User{
		ID:        usr.ID.String(),
		Username:  usr.Username,
		Email:     usr.Email,
		CreatedAt: utc(usr.CreatedAt),
	}
}

// ToWireUsers converts search results.
func ToWireUsers(us []model.User) []protocol.User {
	out := make([]protocol.User, 0, len(us))
	for _, usr := range us {
		out = append(out, ToWireUser(usr))
	}
	return out
}

// ToWireContact converts a contact edge; online comes from the live directory.
func ToWireContact(c model.Contact, online bool) protocol.Contact {
	return protocol.Contact{
		ID:             c.ID.String(),
		Username:       c.Username,
		Email:          c.Email,
		ConnectedSince: utc(c.ConnectedSince),
		Online:         online,
	}
}

// ToWireContacts converts a contact list using isOnline for each entry.
func ToWireContacts(cs []model.Contact, isOnline func(u.UUID) bool) []protocol.Contact {
	out := make([]protocol.Contact, 0, len(cs))
	for _, c := range cs {
		out = append(out, ToWireContact(c, isOnline != nil && isOnline(c.ID)))
	}
	return out
}

// --- Unread ---

// ToWireUnread keys the counters by string id for JSON.
func ToWireUnread(c model.UnreadCounts) map[string]int {
	out := make(map[string]int, len(c))
	for id, n := range c {
		out[id.String()] = n
	}
	return out
}

// FromWireUnread parses counters received from the server, skipping malformed keys.
func FromWireUnread(in map[string]int) model.UnreadCounts {
	out := make(model.UnreadCounts, len(in))
	for k, n := range in {
		id, err := ParseID(k)
		if err != nil {
			continue
		}
		out[id] = n
	}
	return out
}
