package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/and161185/duochat/internal/convert"
	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/gofrs/uuid/v5"
)

type state int

const (
	stateAnonymous state = iota
	stateIdentified
	stateClosed
)

// ErrSessionClosed is returned by Handle after Close.
var ErrSessionClosed = errors.New("session closed")

// Session is the per-connection state machine Anonymous -> Identified -> Closed.
// Handle must be called from a single goroutine so that events of one
// connection are processed in arrival order.
type Session struct {
	engine *Engine
	conn   Conn
	// identity proven when the connection was accepted; Nil accepts any login
	authenticated uuid.UUID

	mu     sync.Mutex
	state  state
	userID uuid.UUID
}

// NewSession starts an anonymous session for conn.
func (e *Engine) NewSession(conn Conn, authenticated uuid.UUID) *Session {
	return &Session{engine: e, conn: conn, authenticated: authenticated}
}

// UserID returns the identified user.
func (s *Session) UserID() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.state == stateIdentified
}

// Handle processes one inbound event. Rejected events are reported to the
// client as message-error and returned as an error for logging.
func (s *Session) Handle(ctx context.Context, env protocol.Envelope) error {
	s.mu.Lock()
	st, uid := s.state, s.userID
	s.mu.Unlock()

	if st == stateClosed {
		return ErrSessionClosed
	}

	switch env.Event {
	case protocol.EventLogin:
		return s.login(ctx, env)

	case protocol.EventSendMessage:
		var req protocol.SendMessage
		if err := env.Decode(&req); err != nil {
			return s.reject(ctx, "", fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err))
		}
		if st != stateIdentified {
			return s.reject(ctx, req.ClientID, fmt.Errorf("%w: login first", errs.ErrUnauthorized))
		}
		if err := s.checkSender(req.SenderID, uid); err != nil {
			return s.reject(ctx, req.ClientID, err)
		}
		return s.engine.Send(ctx, uid, s.conn, req)

	case protocol.EventTyping:
		var req protocol.Typing
		if err := env.Decode(&req); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
		}
		if st != stateIdentified {
			return fmt.Errorf("%w: typing before login", errs.ErrUnauthorized)
		}
		if err := s.checkSender(req.SenderID, uid); err != nil {
			return err
		}
		s.engine.Typing(ctx, uid, req)
		return nil

	default:
		return s.reject(ctx, "", fmt.Errorf("%w: unknown event %q", errs.ErrInvalidArgument, env.Event))
	}
}

func (s *Session) login(ctx context.Context, env protocol.Envelope) error {
	var req protocol.Login
	if err := env.Decode(&req); err != nil {
		return s.reject(ctx, "", fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err))
	}
	id, err := convert.ParseID(req.UserID)
	if err != nil {
		return s.reject(ctx, "", fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err))
	}
	if s.authenticated != uuid.Nil && id != s.authenticated {
		return s.reject(ctx, "", fmt.Errorf("%w: login does not match token", errs.ErrUnauthorized))
	}

	s.mu.Lock()
	switch {
	case s.state == stateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state == stateIdentified && s.userID != id:
		s.mu.Unlock()
		return s.reject(ctx, "", fmt.Errorf("%w: already logged in as another user", errs.ErrInvalidArgument))
	}
	s.state, s.userID = stateIdentified, id
	s.mu.Unlock()

	s.engine.Identify(ctx, id, s.conn)
	return nil
}

func (s *Session) checkSender(senderID string, uid uuid.UUID) error {
	if senderID == "" {
		return nil
	}
	if id, err := convert.ParseID(senderID); err != nil || id != uid {
		return fmt.Errorf("%w: sender does not match session", errs.ErrUnauthorized)
	}
	return nil
}

func (s *Session) reject(ctx context.Context, clientID string, err error) error {
	s.engine.push(ctx, s.conn, protocol.MustEnvelope(protocol.EventMessageError, protocol.MessageError{
		Error:    err.Error(),
		ClientID: clientID,
	}))
	return err
}

// Close moves the session to Closed and, if it was identified, unbinds it.
// It is safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	prev, uid := s.state, s.userID
	s.state = stateClosed
	s.mu.Unlock()

	if prev == stateIdentified {
		s.engine.Disconnect(context.WithoutCancel(ctx), uid, s.conn)
	}
}
