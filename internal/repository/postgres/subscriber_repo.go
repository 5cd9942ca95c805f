// internal/repository/postgres/subscriber_repo.go
package postgres

import (
	"context"
	"fmt"

	"inspecto-service/internal/domain/subscriber"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriberRepository struct {
	db *pgxpool.Pool
}

func NewSubscriberRepository(db *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

func (r *SubscriberRepository) Create(ctx context.Context, s *subscriber.Subscriber) error {
	query := `
		INSERT INTO subscribers (user_id, name, email)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, s.UserID, s.Name, s.Email).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("subscriber for user %s: %w", s.UserID, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	return nil
}

func (r *SubscriberRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	query := `SELECT id, user_id, name, email, created_at, updated_at FROM subscribers WHERE id = $1`

	var s subscriber.Subscriber
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.UserID, &s.Name, &s.Email, &s.CreatedAt, &s.UpdatedAt)
	if isNoRows(err) {
		return nil, xerrors.NotFound("subscriber")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscriber: %w", err)
	}
	return &s, nil
}

// LockWithTx takes a row lock on the subscriber for the rest of tx.
// Membership changes for one subscriber are serialized on this lock.
func (r *SubscriberRepository) LockWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var locked uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM subscribers WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if isNoRows(err) {
		return xerrors.NotFound("subscriber")
	}
	if err != nil {
		return fmt.Errorf("failed to lock subscriber: %w", err)
	}
	return nil
}
