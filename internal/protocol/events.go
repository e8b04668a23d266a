// Package protocol defines the JSON shapes exchanged over the WebSocket
// connection and the HTTP API.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names. The first three travel client->server, the rest server->client.
const (
	EventLogin       = "login"
	EventSendMessage = "send-message"
	EventTyping      = "typing"

	EventNewMessage   = "new-message"
	EventMessageSent  = "message-sent"
	EventMessageError = "message-error"
	EventUserTyping   = "user-typing"
	EventUserStatus   = "user-status"
)

// Presence values carried by user-status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is one frame on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrEmptyEvent is returned by Decode when a frame has no event name.
var ErrEmptyEvent = errors.New("protocol: empty event name")

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: b}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(event string, payload any) Envelope {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope data into dst.
func (e Envelope) Decode(dst any) error {
	if e.Event == "" {
		return ErrEmptyEvent
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("decode %s: missing data", e.Event)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return nil
}

// Login identifies the connection. On the wire it is either a bare user id
// string or {"userId": "..."}.
type Login struct {
	UserID string `json:"userId"`
}

// UnmarshalJSON accepts both forms of the login payload.
func (l *Login) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		l.UserID = s
		return nil
	}
	type plain Login
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = Login(p)
	return nil
}

// SendMessage asks the server to persist and deliver a message.
// ClientID is an opaque tag echoed back in the ack or error.
type SendMessage struct {
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	ClientID    string `json:"clientId,omitempty"`
}

// Typing is a best-effort typing indicator.
type Typing struct {
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

// MessageSent acknowledges an accepted send to the sender.
type MessageSent struct {
	MessageID   int64     `json:"messageId"`
	Timestamp   time.Time `json:"timestamp"`
	ClientID    string    `json:"clientId,omitempty"`
	RecipientID string    `json:"recipientId,omitempty"`
}

// MessageError reports a rejected event to its sender.
type MessageError struct {
	Error    string `json:"error"`
	ClientID string `json:"clientId,omitempty"`
}

// UserTyping is forwarded to the recipient of a typing signal.
type UserTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UserStatus announces a contact going online or offline.
type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}
