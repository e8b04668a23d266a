package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/duochat/internal/convert"
	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/protocol"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// ContactGraph resolves the fan-out set of a user.
type ContactGraph interface {
	ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// MessageStore persists messages.
type MessageStore interface {
	Append(ctx context.Context, senderID, recipientID uuid.UUID, content string) (model.Message, error)
}

// sendFailedText is what the sender sees when the store rejects a message
// for reasons other than bad input.
const sendFailedText = "Failed to send message"

// Engine routes live events between bound connections.
type Engine struct {
	dir      *Directory
	contacts ContactGraph
	messages MessageStore
	log      *zap.Logger
	metrics  Metrics
}

// NewEngine wires the engine. A nil logger or metrics sink is replaced by a no-op.
func NewEngine(dir *Directory, contacts ContactGraph, messages MessageStore, log *zap.Logger, m Metrics) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = NopMetrics{}
	}
	return &Engine{dir: dir, contacts: contacts, messages: messages, log: log, metrics: m}
}

// Directory exposes the routing table, e.g. for online flags in contact lists.
func (e *Engine) Directory() *Directory { return e.dir }

// IsOnline reports whether userID currently has a bound connection.
func (e *Engine) IsOnline(userID uuid.UUID) bool { return e.dir.IsOnline(userID) }

// Identify binds conn to userID, tells online contacts about it and sends
// conn the current status of those contacts. It runs under the user's
// presence lock so an overlapping Disconnect cannot announce offline last.
func (e *Engine) Identify(ctx context.Context, userID uuid.UUID, conn Conn) {
	unlock := e.dir.LockUser(userID)
	defer unlock()

	prev := e.dir.Bind(userID, conn)
	e.metrics.SetOnline(e.dir.Len())
	if prev != nil && prev.ID() != conn.ID() {
		e.log.Info("connection replaced",
			zap.Stringer("user", userID),
			zap.String("old", prev.ID()),
			zap.String("new", conn.ID()),
		)
		if r, ok := prev.(Replaceable); ok {
			r.Replaced()
		}
	}

	ids, err := e.contacts.ContactIDs(ctx, userID)
	if err != nil {
		e.log.Warn("presence: load contacts", zap.Stringer("user", userID), zap.Error(err))
		return
	}
	online := protocol.MustEnvelope(protocol.EventUserStatus, protocol.UserStatus{
		UserID: userID.String(),
		Status: protocol.StatusOnline,
	})
	for _, id := range ids {
		c, ok := e.dir.Lookup(id)
		if !ok {
			continue
		}
		e.push(ctx, c, online)
		e.push(ctx, conn, protocol.MustEnvelope(protocol.EventUserStatus, protocol.UserStatus{
			UserID: id.String(),
			Status: protocol.StatusOnline,
		}))
	}
}

// Send appends the message, delivers it to a bound recipient and acks the
// sender on conn. Failures are reported to conn only; the append is never retried.
func (e *Engine) Send(ctx context.Context, senderID uuid.UUID, conn Conn, req protocol.SendMessage) error {
	recipientID, err := convert.ParseID(req.RecipientID)
	if err != nil {
		err = fmt.Errorf("%w: recipient: %v", errs.ErrInvalidArgument, err)
		e.fail(ctx, conn, req.ClientID, err)
		return err
	}
	m, err := e.messages.Append(ctx, senderID, recipientID, req.Content)
	if err != nil {
		e.fail(ctx, conn, req.ClientID, err)
		return err
	}
	e.metrics.MessageSent()
	e.Deliver(ctx, m)
	e.push(ctx, conn, protocol.MustEnvelope(protocol.EventMessageSent, protocol.MessageSent{
		MessageID:   m.ID,
		Timestamp:   m.CreatedAt.UTC(),
		ClientID:    req.ClientID,
		RecipientID: m.RecipientID.String(),
	}))
	return nil
}

func (e *Engine) fail(ctx context.Context, conn Conn, clientID string, err error) {
	e.metrics.SendFailed()
	text := sendFailedText
	if errors.Is(err, errs.ErrInvalidArgument) {
		text = err.Error()
	} else {
		e.log.Error("send message", zap.String("conn", conn.ID()), zap.Error(err))
	}
	e.push(ctx, conn, protocol.MustEnvelope(protocol.EventMessageError, protocol.MessageError{
		Error:    text,
		ClientID: clientID,
	}))
}

// Deliver pushes a persisted message to its recipient if bound. It reports
// whether the recipient had a live connection.
func (e *Engine) Deliver(ctx context.Context, m model.Message) bool {
	c, ok := e.dir.Lookup(m.RecipientID)
	if !ok {
		return false
	}
	if e.push(ctx, c, protocol.MustEnvelope(protocol.EventNewMessage, convert.ToWireMessage(m))) {
		e.metrics.MessageDelivered()
	}
	return true
}

// Typing forwards the indicator to a bound recipient. Best effort.
func (e *Engine) Typing(ctx context.Context, senderID uuid.UUID, req protocol.Typing) {
	recipientID, err := convert.ParseID(req.RecipientID)
	if err != nil {
		e.log.Debug("typing: bad recipient", zap.Stringer("user", senderID), zap.Error(err))
		return
	}
	c, ok := e.dir.Lookup(recipientID)
	if !ok {
		return
	}
	e.push(ctx, c, protocol.MustEnvelope(protocol.EventUserTyping, protocol.UserTyping{
		UserID:   senderID.String(),
		IsTyping: req.IsTyping,
	}))
}

// Disconnect unbinds conn. Contacts are told the user went offline only if
// conn was still the user's current connection.
func (e *Engine) Disconnect(ctx context.Context, userID uuid.UUID, conn Conn) {
	unlock := e.dir.LockUser(userID)
	defer unlock()

	if !e.dir.Unbind(userID, conn) {
		return
	}
	e.metrics.SetOnline(e.dir.Len())

	ids, err := e.contacts.ContactIDs(ctx, userID)
	if err != nil {
		e.log.Warn("presence: load contacts", zap.Stringer("user", userID), zap.Error(err))
		return
	}
	offline := protocol.MustEnvelope(protocol.EventUserStatus, protocol.UserStatus{
		UserID: userID.String(),
		Status: protocol.StatusOffline,
	})
	for _, id := range ids {
		if c, ok := e.dir.Lookup(id); ok {
			e.push(ctx, c, offline)
		}
	}
}

func (e *Engine) push(ctx context.Context, c Conn, env protocol.Envelope) bool {
	if err := c.Push(ctx, env); err != nil {
		e.metrics.PushDropped()
		e.log.Debug("push dropped",
			zap.String("conn", c.ID()),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		return false
	}
	return true
}
