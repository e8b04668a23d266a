package memory

import (
	"context"
	"sort"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepo implements MessageRepository over a Store.
type MessageRepo struct{ s *Store }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(s *Store) *MessageRepo { return &MessageRepo{s: s} }

// Append stores a message with the next id.
func (r *MessageRepo) Append(_ context.Context, senderID, recipientID uuid.UUID, content string) (model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[senderID]; !ok {
		return model.Message{}, errs.ErrNotFound
	}
	if _, ok := r.s.users[recipientID]; !ok {
		return model.Message{}, errs.ErrNotFound
	}
	r.s.nextID++
	m := model.Message{
		ID:          r.s.nextID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   r.s.now(),
	}
	r.s.messages = append(r.s.messages, m)
	return m, nil
}

// Conversation returns a page newest first, then marks the inbound messages read.
// Returned records reflect the state before marking.
func (r *MessageRepo) Conversation(_ context.Context, userID, contactID uuid.UUID, limit, offset int) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var pair []model.Message
	for _, m := range r.s.messages {
		if (m.SenderID == userID && m.RecipientID == contactID) || (m.SenderID == contactID && m.RecipientID == userID) {
			m.SenderName = r.s.users[m.SenderID].Username
			pair = append(pair, m)
		}
	}
	sort.SliceStable(pair, func(i, j int) bool {
		if !pair[i].CreatedAt.Equal(pair[j].CreatedAt) {
			return pair[i].CreatedAt.After(pair[j].CreatedAt)
		}
		return pair[i].ID > pair[j].ID
	})

	out := []model.Message{}
	if offset < len(pair) {
		end := len(pair)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		out = append(out, pair[offset:end]...)
	}

	now := r.s.now()
	for i := range r.s.messages {
		m := &r.s.messages[i]
		if m.SenderID == contactID && m.RecipientID == userID && m.ReadAt == nil {
			at := now
			m.ReadAt = &at
		}
	}
	return out, nil
}

// MarkRead sets read_at once; later calls return the stored timestamp.
func (r *MessageRepo) MarkRead(_ context.Context, messageID int64, recipientID uuid.UUID) (model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.messages {
		m := &r.s.messages[i]
		if m.ID != messageID {
			continue
		}
		if m.RecipientID != recipientID {
			break
		}
		if m.ReadAt == nil {
			at := r.s.now()
			m.ReadAt = &at
		}
		return *m, nil
	}
	return model.Message{}, errs.ErrNotFound
}

// UnreadCounts groups unread inbound messages by sender.
func (r *MessageRepo) UnreadCounts(_ context.Context, userID uuid.UUID) (model.UnreadCounts, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := model.UnreadCounts{}
	for _, m := range r.s.messages {
		if m.RecipientID == userID && m.ReadAt == nil {
			out[m.SenderID]++
		}
	}
	return out, nil
}
