// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to registered accounts.
type UserRepository interface {
	// Create inserts a new user; returns errs.ErrConflict if username or email is taken.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Search matches username or email case-insensitively, excluding one user.
	Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]model.User, error)
}
