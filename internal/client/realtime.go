package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/and161185/duochat/internal/convert"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/gofrs/uuid/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Realtime is a signed-in socket connection. Server events are translated
// into Store events and delivered on Events in arrival order.
type Realtime struct {
	conn   *websocket.Conn
	self   uuid.UUID
	events chan Event
	done   chan struct{}
	now    func() time.Time
	once   sync.Once

	mu  sync.Mutex
	err error
}

// SocketURL turns an http(s) base URL into the ws(s) endpoint with the token.
func SocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Dial connects, logs in as self and starts reading.
func Dial(ctx context.Context, baseURL, token string, self uuid.UUID) (*Realtime, error) {
	wsURL, err := SocketURL(baseURL, token)
	if err != nil {
		return nil, err
	}
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", baseURL, err)
	}
	r := &Realtime{conn: c, self: self, events: make(chan Event, 64), done: make(chan struct{}), now: time.Now}

	login := protocol.MustEnvelope(protocol.EventLogin, protocol.Login{UserID: self.String()})
	if err := wsjson.Write(ctx, c, login); err != nil {
		c.CloseNow()
		return nil, fmt.Errorf("login: %w", err)
	}
	go r.readLoop()
	return r, nil
}

// Events is closed when the connection ends; Err then tells why.
func (r *Realtime) Events() <-chan Event { return r.events }

// Err returns the reason the read loop stopped, nil for a normal closure.
func (r *Realtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Send asks the server to deliver content. localID is echoed back in the
// ack or error so the Store can match it.
func (r *Realtime) Send(ctx context.Context, localID string, recipient uuid.UUID, content string) error {
	return r.write(ctx, protocol.EventSendMessage, protocol.SendMessage{
		SenderID:    r.self.String(),
		RecipientID: recipient.String(),
		Content:     content,
		ClientID:    localID,
	})
}

// Typing signals typing state to recipient.
func (r *Realtime) Typing(ctx context.Context, recipient uuid.UUID, isTyping bool) error {
	return r.write(ctx, protocol.EventTyping, protocol.Typing{
		SenderID:    r.self.String(),
		RecipientID: recipient.String(),
		IsTyping:    isTyping,
	})
}

func (r *Realtime) write(ctx context.Context, event string, payload any) error {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, r.conn, env)
}

// Close ends the connection normally.
func (r *Realtime) Close() error {
	r.once.Do(func() { close(r.done) })
	return r.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (r *Realtime) readLoop() {
	defer close(r.events)
	ctx := context.Background()
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, r.conn, &env); err != nil {
			r.finish(err)
			return
		}
		ev, err := r.translate(env)
		if err != nil || ev == nil {
			continue
		}
		select {
		case r.events <- ev:
		case <-r.done:
			return
		}
	}
}

func (r *Realtime) finish(err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		err = nil
	case websocket.StatusPolicyViolation:
		err = fmt.Errorf("%w: %v", ErrReplaced, err)
	}
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// ErrReplaced means the same user connected from somewhere else.
var ErrReplaced = errors.New("connection replaced")

// translate maps a server frame onto a Store event. Unknown events yield nil.
func (r *Realtime) translate(env protocol.Envelope) (Event, error) {
	switch env.Event {
	case protocol.EventNewMessage:
		var m protocol.Message
		if err := env.Decode(&m); err != nil {
			return nil, err
		}
		msg, err := convert.FromWireMessage(m)
		if err != nil {
			return nil, err
		}
		return NewMessage{Message: msg}, nil

	case protocol.EventMessageSent:
		var p protocol.MessageSent
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		ack := Ack{LocalID: p.ClientID, MessageID: p.MessageID, Timestamp: p.Timestamp}
		if id, err := convert.ParseID(p.RecipientID); err == nil {
			ack.RecipientID = id
		}
		return ack, nil

	case protocol.EventMessageError:
		var p protocol.MessageError
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		if p.ClientID == "" {
			// every send from this client is tagged, so this is about something else
			return Notice{Text: p.Error}, nil
		}
		return SendFailed{LocalID: p.ClientID, Reason: p.Error}, nil

	case protocol.EventUserTyping:
		var p protocol.UserTyping
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		id, err := convert.ParseID(p.UserID)
		if err != nil {
			return nil, err
		}
		return Typing{UserID: id, IsTyping: p.IsTyping, At: r.now()}, nil

	case protocol.EventUserStatus:
		var p protocol.UserStatus
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		id, err := convert.ParseID(p.UserID)
		if err != nil {
			return nil, err
		}
		return Presence{UserID: id, Status: p.Status}, nil
	}
	return nil, nil
}
