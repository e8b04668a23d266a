// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User represents a registered account. The password is stored only as a bcrypt hash.
type User struct {
	ID           uuid.UUID // PK
	Username     string    // unique display name
	Email        string    // unique
	PasswordHash []byte
	CreatedAt    time.Time
}

// Contact is one directed edge of the contact graph seen from its owner.
type Contact struct {
	ID             uuid.UUID // contact's user id
	Username       string
	Email          string
	ConnectedSince time.Time
}

// Message is a durable chat message between two users.
type Message struct {
	ID          int64 // server-assigned, monotonic
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Content     string
	CreatedAt   time.Time
	ReadAt      *time.Time // nil until the recipient reads it
	SenderName  string     // filled by conversation reads only
}

// Peer returns the other participant of the message as seen by userID.
func (m Message) Peer(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// UnreadCounts maps sender id to the number of unread messages from that sender.
type UnreadCounts map[uuid.UUID]int
