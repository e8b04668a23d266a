package memory

import (
	"context"
	"sort"
	"time"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ContactRepo implements ContactRepository over a Store.
type ContactRepo struct{ s *Store }

// NewContactRepo constructs a contact repository.
func NewContactRepo(s *Store) *ContactRepo { return &ContactRepo{s: s} }

// AddMutual creates both edges under one lock, or none of them.
func (r *ContactRepo) AddMutual(_ context.Context, userID, contactID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		return errs.ErrNotFound
	}
	if _, ok := r.s.users[contactID]; !ok {
		return errs.ErrNotFound
	}
	if _, ok := r.s.contacts[userID][contactID]; ok {
		return errs.ErrConflict
	}
	if _, ok := r.s.contacts[contactID][userID]; ok {
		return errs.ErrConflict
	}
	now := r.s.now()
	r.s.edges(userID)[contactID] = now
	r.s.edges(contactID)[userID] = now
	return nil
}

func (s *Store) edges(owner uuid.UUID) map[uuid.UUID]time.Time {
	m, ok := s.contacts[owner]
	if !ok {
		m = map[uuid.UUID]time.Time{}
		s.contacts[owner] = m
	}
	return m
}

// List returns contacts with profile fields, ordered by username.
func (r *ContactRepo) List(_ context.Context, userID uuid.UUID) ([]model.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.Contact{}
	for id, since := range r.s.contacts[userID] {
		u := r.s.users[id]
		out = append(out, model.Contact{ID: id, Username: u.Username, Email: u.Email, ConnectedSince: since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// ContactIDs returns contact ids of userID.
func (r *ContactRepo) ContactIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.s.contacts[userID]))
	for id := range r.s.contacts[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}
