package repository

import (
	"context"

	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ContactRepository stores the bidirectional contact graph.
type ContactRepository interface {
	// AddMutual creates both edges or none; errs.ErrConflict if either exists.
	AddMutual(ctx context.Context, userID, contactID uuid.UUID) error
	// List returns the owner's contacts with profile fields, ordered by username.
	List(ctx context.Context, userID uuid.UUID) ([]model.Contact, error)
	// ContactIDs returns contact ids only. An empty result is not an error.
	ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
