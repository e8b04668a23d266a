package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/repository"
	"github.com/and161185/duochat/internal/security"
	"github.com/gofrs/uuid/v5"
)

// Paging and size limits for messages.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxContentLen   = 4000 // runes
)

// MessageService is the message store accessor used by transports and the delivery engine.
type MessageService interface {
	// Append validates and persists a message.
	Append(ctx context.Context, senderID, recipientID uuid.UUID, content string) (model.Message, error)
	// Conversation returns a page newest first and marks inbound messages read.
	Conversation(ctx context.Context, userID, contactID uuid.UUID, limit, offset int) ([]model.Message, error)
	// MarkRead marks one message addressed to userID as read; first read wins.
	MarkRead(ctx context.Context, userID uuid.UUID, messageID int64) (model.Message, error)
	// UnreadCounts aggregates unread inbound messages by sender.
	UnreadCounts(ctx context.Context, userID uuid.UUID) (model.UnreadCounts, error)
}

type MessageServiceImpl struct {
	repo      repository.MessageRepository
	sanitizer security.Sanitizer
}

// NewMessageService constructs MessageService. A nil sanitizer leaves content as is.
func NewMessageService(repo repository.MessageRepository, sanitizer security.Sanitizer) *MessageServiceImpl {
	return &MessageServiceImpl{repo: repo, sanitizer: sanitizer}
}

// Append rejects empty ids, self-addressed messages and blank content before touching the store.
func (s *MessageServiceImpl) Append(ctx context.Context, senderID, recipientID uuid.UUID, content string) (model.Message, error) {
	if senderID == uuid.Nil || recipientID == uuid.Nil {
		return model.Message{}, fmt.Errorf("%w: sender and recipient are required", errs.ErrInvalidArgument)
	}
	if senderID == recipientID {
		return model.Message{}, fmt.Errorf("%w: cannot message yourself", errs.ErrInvalidArgument)
	}
	if s.sanitizer != nil {
		content = s.sanitizer.Sanitize(content)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, fmt.Errorf("%w: message content is empty", errs.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(content) > MaxContentLen {
		return model.Message{}, fmt.Errorf("%w: message longer than %d characters", errs.ErrInvalidArgument, MaxContentLen)
	}
	m, err := s.repo.Append(ctx, senderID, recipientID, content)
	if err != nil {
		return model.Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// Conversation applies paging defaults: limit <= 0 means DefaultPageSize, capped at MaxPageSize.
func (s *MessageServiceImpl) Conversation(ctx context.Context, userID, contactID uuid.UUID, limit, offset int) ([]model.Message, error) {
	if userID == uuid.Nil || contactID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", errs.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.repo.Conversation(ctx, userID, contactID, limit, offset)
}

// MarkRead returns errs.ErrNotFound for unknown ids and for messages addressed to someone else.
func (s *MessageServiceImpl) MarkRead(ctx context.Context, userID uuid.UUID, messageID int64) (model.Message, error) {
	if messageID <= 0 {
		return model.Message{}, errs.ErrNotFound
	}
	return s.repo.MarkRead(ctx, messageID, userID)
}

// UnreadCounts returns per-sender unread totals.
func (s *MessageServiceImpl) UnreadCounts(ctx context.Context, userID uuid.UUID) (model.UnreadCounts, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	return s.repo.UnreadCounts(ctx, userID)
}
