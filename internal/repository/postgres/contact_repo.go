package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/duochat/internal/errs"
	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ContactRepo implements ContactRepository using PostgreSQL.
type ContactRepo struct{ db *DB }

// NewContactRepo constructs a contact repository.
func NewContactRepo(db *DB) *ContactRepo { return &ContactRepo{db: db} }

// AddMutual inserts (user, contact) and (contact, user) in one transaction.
func (r *ContactRepo) AddMutual(ctx context.Context, userID, contactID uuid.UUID) error {
	const ins = `INSERT INTO contacts (user_id, contact_id) VALUES ($1, $2)`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		for _, edge := range [][2]uuid.UUID{{userID, contactID}, {contactID, userID}} {
			if _, err := tx.Exec(ctx, ins, edge[0], edge[1]); err != nil {
				switch {
				case isUniqueViolation(err):
					return errs.ErrConflict
				case isForeignKeyViolation(err):
					return errs.ErrNotFound
				default:
					return fmt.Errorf("insert contact edge: %w", err)
				}
			}
		}
		return nil
	})
}

// List returns contacts of userID joined with their profile.
func (r *ContactRepo) List(ctx context.Context, userID uuid.UUID) ([]model.Contact, error) {
	const q = `
SELECT u.id, u.username, u.email, c.created_at
FROM contacts c
JOIN users u ON u.id = c.contact_id
WHERE c.user_id = $1
ORDER BY u.username`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err = rows.Scan(&c.ID, &c.Username, &c.Email, &c.ConnectedSince); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContactIDs returns the ids of all contacts of userID.
func (r *ContactRepo) ContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT contact_id FROM contacts WHERE user_id = $1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
