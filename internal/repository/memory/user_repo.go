package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo implements UserRepository over a Store.
type UserRepo struct{ s *Store }

// NewUserRepo constructs a user repository.
func NewUserRepo(s *Store) *UserRepo { return &UserRepo{s: s} }

// Create inserts a user; username and email are unique (email case-insensitively).
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ex := range r.s.users {
		if ex.ID == u.ID || ex.Username == u.Username || strings.EqualFold(ex.Email, u.Email) {
			return errs.ErrConflict
		}
	}
	u.CreatedAt = r.s.now()
	r.s.users[u.ID] = *u
	return nil
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// GetByEmail loads a user by email.
func (r *UserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, errs.ErrNotFound
}

// Search matches username or email by case-insensitive substring.
func (r *UserRepo) Search(_ context.Context, query string, exclude uuid.UUID, limit int) ([]model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	q := strings.ToLower(query)
	out := []model.User{}
	for _, u := range r.s.users {
		if u.ID == exclude {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Email), q) {
			u.PasswordHash = nil
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
