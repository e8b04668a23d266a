package repository

import (
	"context"

	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepository is the durable message log with read-state.
type MessageRepository interface {
	// Append stores a message and returns it with server-assigned id and timestamp.
	Append(ctx context.Context, senderID, recipientID uuid.UUID, content string) (model.Message, error)

	// Conversation returns messages between the pair, newest first, and marks
	// inbound (contactID -> userID) unread messages as read.
	Conversation(ctx context.Context, userID, contactID uuid.UUID, limit, offset int) ([]model.Message, error)

	// MarkRead sets read_at once. Returns errs.ErrNotFound if no message with
	// this id is addressed to recipientID.
	MarkRead(ctx context.Context, messageID int64, recipientID uuid.UUID) (model.Message, error)

	// UnreadCounts groups unread messages addressed to userID by sender.
	UnreadCounts(ctx context.Context, userID uuid.UUID) (model.UnreadCounts, error)
}
