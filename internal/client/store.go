// Package client is the chat client side: the HTTP API client, the realtime
// socket client and the Store that reconciles both into conversation state.
package client

import (
	"time"

	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// DefaultTypingTimeout clears a typing indicator when no stop signal arrives.
const DefaultTypingTimeout = 3 * time.Second

// Entry is one message in a conversation buffer.
type Entry struct {
	ID          int64  // 0 until confirmed
	LocalID     string // set on optimistic sends
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	SenderName  string
	Content     string
	CreatedAt   time.Time
	ReadAt      *time.Time
	Pending     bool
	Failed      string // server error text for a rejected send
}

func entryFrom(m model.Message) Entry {
	return Entry{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		ReadAt:      m.ReadAt,
	}
}

// Event is an input of the Store. The set is closed.
type Event interface{ isEvent() }

type (
	// Sent records an optimistic send before the server answers.
	Sent struct {
		LocalID     string
		RecipientID uuid.UUID
		Content     string
		At          time.Time
	}
	// Ack confirms a send. LocalID and RecipientID are optional hints.
	Ack struct {
		LocalID     string
		RecipientID uuid.UUID
		MessageID   int64
		Timestamp   time.Time
	}
	// SendFailed rejects a send. LocalID is an optional hint.
	SendFailed struct {
		LocalID string
		Reason  string
	}
	// NewMessage is a message pushed by the server.
	NewMessage struct{ Message model.Message }
	// Presence is a contact going online or offline.
	Presence struct {
		UserID uuid.UUID
		Status string
	}
	// Typing is a contact's typing signal.
	Typing struct {
		UserID   uuid.UUID
		IsTyping bool
		At       time.Time
	}
	// Tick advances the clock for timeouts.
	Tick struct{ Now time.Time }
	// ConversationLoaded seeds a buffer from history, newest first.
	ConversationLoaded struct {
		ContactID uuid.UUID
		Messages  []model.Message
	}
	// UnreadLoaded replaces all unread counters.
	UnreadLoaded struct{ Counts model.UnreadCounts }
	// Notice is a server error not tied to a send. The Store ignores it.
	Notice struct{ Text string }
	// Opened makes a conversation active.
	Opened struct {
		ContactID uuid.UUID
		Status    string
	}
)

func (Sent) isEvent()               {}
func (Ack) isEvent()                {}
func (SendFailed) isEvent()         {}
func (NewMessage) isEvent()         {}
func (Presence) isEvent()           {}
func (Typing) isEvent()             {}
func (Tick) isEvent()               {}
func (ConversationLoaded) isEvent() {}
func (UnreadLoaded) isEvent()       {}
func (Notice) isEvent()             {}
func (Opened) isEvent()             {}

// Effect is work the caller must perform after Apply.
type Effect interface{ isEffect() }

// MarkRead asks the caller to mark a message read on the server.
type MarkRead struct{ MessageID int64 }

func (MarkRead) isEffect() {}

// Store holds the client view. It is not safe for concurrent use; feed it
// from one goroutine.
type Store struct {
	self          uuid.UUID
	typingTimeout time.Duration

	active      uuid.UUID
	status      string
	typing      bool
	typingSince time.Time

	convs  map[uuid.UUID][]Entry // newest first
	unread map[uuid.UUID]int
}

// NewStore creates an empty store for the signed-in user.
func NewStore(self uuid.UUID, typingTimeout time.Duration) *Store {
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	return &Store{
		self:          self,
		typingTimeout: typingTimeout,
		convs:         make(map[uuid.UUID][]Entry),
		unread:        make(map[uuid.UUID]int),
	}
}

// Apply reduces one event into the state and returns resulting effects.
func (s *Store) Apply(ev Event) []Effect {
	switch ev := ev.(type) {
	case Opened:
		s.active = ev.ContactID
		s.status = ev.Status
		s.typing = false
		delete(s.unread, ev.ContactID)

	case ConversationLoaded:
		var pending []Entry
		for _, e := range s.convs[ev.ContactID] {
			if e.Pending {
				pending = append(pending, e)
			}
		}
		buf := make([]Entry, 0, len(pending)+len(ev.Messages))
		buf = append(buf, pending...)
		for _, m := range ev.Messages {
			buf = append(buf, entryFrom(m))
		}
		s.convs[ev.ContactID] = buf

	case UnreadLoaded:
		s.unread = make(map[uuid.UUID]int, len(ev.Counts))
		for id, n := range ev.Counts {
			if n > 0 && id != s.active {
				s.unread[id] = n
			}
		}

	case Sent:
		s.prepend(ev.RecipientID, Entry{
			LocalID:     ev.LocalID,
			SenderID:    s.self,
			RecipientID: ev.RecipientID,
			Content:     ev.Content,
			CreatedAt:   ev.At,
			Pending:     true,
		})

	case Ack:
		if e := s.findPending(ev.LocalID, ev.RecipientID); e != nil {
			e.ID = ev.MessageID
			e.CreatedAt = ev.Timestamp
			e.Pending = false
		}

	case SendFailed:
		if e := s.findPending(ev.LocalID, uuid.Nil); e != nil {
			e.Pending = false
			e.Failed = ev.Reason
		}

	case NewMessage:
		m := ev.Message
		peer := m.Peer(s.self)
		if peer != s.active || s.active == uuid.Nil {
			s.unread[peer]++
			return nil
		}
		if s.has(peer, m.ID) {
			return nil
		}
		s.prepend(peer, entryFrom(m))
		if m.RecipientID == s.self && m.ReadAt == nil {
			return []Effect{MarkRead{MessageID: m.ID}}
		}

	case Presence:
		if ev.UserID == s.active && s.active != uuid.Nil {
			s.status = ev.Status
		}

	case Typing:
		if ev.UserID == s.active && s.active != uuid.Nil {
			s.typing = ev.IsTyping
			s.typingSince = ev.At
		}

	case Tick:
		if s.typing && ev.Now.Sub(s.typingSince) >= s.typingTimeout {
			s.typing = false
		}
	}
	return nil
}

func (s *Store) prepend(contact uuid.UUID, e Entry) {
	buf := s.convs[contact]
	buf = append(buf, Entry{})
	copy(buf[1:], buf)
	buf[0] = e
	s.convs[contact] = buf
}

func (s *Store) has(contact uuid.UUID, id int64) bool {
	for _, e := range s.convs[contact] {
		if e.ID == id && !e.Pending {
			return true
		}
	}
	return false
}

// findPending resolves an ack or failure to an unconfirmed entry. A local id
// is matched exactly. Without one the oldest pending entry of the hinted
// conversation wins, falling back to the active conversation.
func (s *Store) findPending(localID string, contact uuid.UUID) *Entry {
	if localID != "" {
		for id, buf := range s.convs {
			for i := range buf {
				if buf[i].Pending && buf[i].LocalID == localID {
					return &s.convs[id][i]
				}
			}
		}
		return nil
	}
	if contact == uuid.Nil {
		contact = s.active
	}
	buf := s.convs[contact]
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i].Pending {
			return &buf[i]
		}
	}
	return nil
}

// Self is the signed-in user.
func (s *Store) Self() uuid.UUID { return s.self }

// Active returns the open conversation, Nil if none.
func (s *Store) Active() uuid.UUID { return s.active }

// Status is the visible presence of the open contact.
func (s *Store) Status() string { return s.status }

// Typing reports whether the open contact is typing.
func (s *Store) Typing() bool { return s.typing }

// Unread returns the unread counter for a contact.
func (s *Store) Unread(contact uuid.UUID) int { return s.unread[contact] }

// Conversation returns a copy of the buffer for contact, newest first.
func (s *Store) Conversation(contact uuid.UUID) []Entry {
	return append([]Entry(nil), s.convs[contact]...)
}
