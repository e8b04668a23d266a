package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Append inserts a message; id and created_at are assigned by the database.
func (r *MessageRepo) Append(ctx context.Context, senderID, recipientID uuid.UUID, content string) (model.Message, error) {
	const q = `
INSERT INTO messages (sender_id, recipient_id, content)
VALUES ($1, $2, $3)
RETURNING id, created_at`
	m := model.Message{SenderID: senderID, RecipientID: recipientID, Content: content}
	if err := r.db.Pool.QueryRow(ctx, q, senderID, recipientID, content).Scan(&m.ID, &m.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return model.Message{}, errs.ErrNotFound
		}
		return model.Message{}, err
	}
	return m, nil
}

// Conversation lists the pair's messages newest first and marks the inbound ones read.
func (r *MessageRepo) Conversation(
	ctx context.Context, userID, contactID uuid.UUID, limit, offset int,
) (out []model.Message, err error) {
	const sel = `
SELECT m.id, m.sender_id, m.recipient_id, m.content, m.created_at, m.read_at, u.username
FROM messages m
JOIN users u ON u.id = m.sender_id
WHERE (m.sender_id = $1 AND m.recipient_id = $2)
   OR (m.sender_id = $2 AND m.recipient_id = $1)
ORDER BY m.created_at DESC, m.id DESC
LIMIT $3 OFFSET $4`
	const upd = `
UPDATE messages SET read_at = now()
WHERE sender_id = $1 AND recipient_id = $2 AND read_at IS NULL`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sel, userID, contactID, limit, offset)
		if err != nil {
			return err
		}
		out = []model.Message{}
		for rows.Next() {
			var m model.Message
			if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt, &m.ReadAt, &m.SenderName); err != nil {
				rows.Close()
				return err
			}
			out = append(out, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upd, contactID, userID); err != nil {
			return fmt.Errorf("mark conversation read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead sets read_at if it is still NULL; an already-read message keeps its timestamp.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int64, recipientID uuid.UUID) (model.Message, error) {
	const q = `
UPDATE messages SET read_at = COALESCE(read_at, now())
WHERE id = $1 AND recipient_id = $2
RETURNING id, sender_id, recipient_id, content, created_at, read_at`
	var m model.Message
	err := r.db.Pool.QueryRow(ctx, q, messageID, recipientID).
		Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt, &m.ReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Message{}, errs.ErrNotFound
		}
		return model.Message{}, err
	}
	return m, nil
}

// UnreadCounts returns the number of unread messages addressed to userID per sender.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID uuid.UUID) (model.UnreadCounts, error) {
	const q = `
SELECT sender_id, COUNT(*)
FROM messages
WHERE recipient_id = $1 AND read_at IS NULL
GROUP BY sender_id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := model.UnreadCounts{}
	for rows.Next() {
		var (
			sender uuid.UUID
			n      int64
		)
		if err = rows.Scan(&sender, &n); err != nil {
			return nil, err
		}
		out[sender] = int(n)
	}
	return out, rows.Err()
}
