package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/repository"
	"github.com/gofrs/uuid/v5"
)

const (
	minSearchLen = 3
	searchLimit  = 10
)

// ContactService manages the contact graph and user discovery.
type ContactService interface {
	// List returns the user's contacts.
	List(ctx context.Context, userID uuid.UUID) ([]model.Contact, error)
	// Add creates a mutual contact relationship.
	Add(ctx context.Context, userID, contactID uuid.UUID) (model.Contact, error)
	// Search finds other users by username or email fragment.
	Search(ctx context.Context, userID uuid.UUID, query string) ([]model.User, error)
	// ContactIDs returns only the ids; used for presence fan-out.
	ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type ContactServiceImpl struct {
	users    repository.UserRepository
	contacts repository.ContactRepository
	now      func() time.Time
}

// NewContactService constructs ContactService.
func NewContactService(users repository.UserRepository, contacts repository.ContactRepository) *ContactServiceImpl {
	return &ContactServiceImpl{users: users, contacts: contacts, now: time.Now}
}

// List returns contacts ordered by username.
func (s *ContactServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.Contact, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	return s.contacts.List(ctx, userID)
}

// Add checks the target exists and creates both edges.
func (s *ContactServiceImpl) Add(ctx context.Context, userID, contactID uuid.UUID) (model.Contact, error) {
	switch {
	case userID == uuid.Nil || contactID == uuid.Nil:
		return model.Contact{}, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	case userID == contactID:
		return model.Contact{}, fmt.Errorf("%w: cannot add yourself", errs.ErrInvalidArgument)
	}
	target, err := s.users.GetByID(ctx, contactID)
	if err != nil {
		return model.Contact{}, err
	}
	if err := s.contacts.AddMutual(ctx, userID, contactID); err != nil {
		return model.Contact{}, err
	}
	return model.Contact{
		ID:             target.ID,
		Username:       target.Username,
		Email:          target.Email,
		ConnectedSince: s.now(),
	}, nil
}

// Search requires at least three characters and returns at most ten users.
func (s *ContactServiceImpl) Search(ctx context.Context, userID uuid.UUID, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLen {
		return nil, fmt.Errorf("%w: search query must be at least %d characters", errs.ErrInvalidArgument, minSearchLen)
	}
	return s.users.Search(ctx, query, userID, searchLimit)
}

// ContactIDs returns contact ids for fan-out.
func (s *ContactServiceImpl) ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.contacts.ContactIDs(ctx, userID)
}
