// internal/repository/postgres/membership_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"inspecto-service/internal/domain/membership"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MembershipRepository struct {
	db *pgxpool.Pool
}

func NewMembershipRepository(db *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{db: db}
}

const membershipColumns = `id, subscriber_id, plan_id, is_active, start_date, end_date, features, created_at, updated_at`

func scanMembership(row pgx.Row, m *membership.Membership) error {
	return row.Scan(
		&m.ID, &m.SubscriberID, &m.PlanID, &m.IsActive,
		&m.StartDate, &m.EndDate, &m.Features,
		&m.CreatedAt, &m.UpdatedAt,
	)
}

// FindActiveBySubscriber returns the subscriber's current membership or
// ErrNotFound. The row may still be past its end date.
func (r *MembershipRepository) FindActiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*membership.Membership, error) {
	return r.findActive(ctx, r.db, subscriberID)
}

func (r *MembershipRepository) FindActiveBySubscriberWithTx(ctx context.Context, tx pgx.Tx, subscriberID uuid.UUID) (*membership.Membership, error) {
	return r.findActive(ctx, tx, subscriberID)
}

func (r *MembershipRepository) findActive(ctx context.Context, q querier, subscriberID uuid.UUID) (*membership.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE subscriber_id = $1 AND is_active`

	var m membership.Membership
	err := scanMembership(q.QueryRow(ctx, query, subscriberID), &m)
	if isNoRows(err) {
		return nil, xerrors.NotFound("membership")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return &m, nil
}

func (r *MembershipRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, m *membership.Membership) error {
	query := `
		INSERT INTO memberships (subscriber_id, plan_id, is_active, start_date, end_date, features)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	features := m.Features
	if features == nil {
		features = []string{}
	}
	err := tx.QueryRow(ctx, query,
		m.SubscriberID, m.PlanID, m.IsActive, m.StartDate, m.EndDate, features,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("subscriber already has an active membership: %w", xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// ExtendWithTx moves the end date of an active membership.
func (r *MembershipRepository) ExtendWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, endDate time.Time) error {
	query := `
		UPDATE memberships
		SET end_date = $2, is_active = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_active
	`
	result, err := tx.Exec(ctx, query, id, endDate)
	if err != nil {
		return fmt.Errorf("failed to extend membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.NotFound("membership")
	}
	return nil
}

// DeactivateWithTx ends an active membership. The row is terminal afterwards.
func (r *MembershipRepository) DeactivateWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, endDate time.Time) error {
	query := `
		UPDATE memberships
		SET is_active = FALSE, end_date = $2, updated_at = NOW()
		WHERE id = $1 AND is_active
	`
	result, err := tx.Exec(ctx, query, id, endDate)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.NotFound("membership")
	}
	return nil
}

func (r *MembershipRepository) AppendHistoryWithTx(ctx context.Context, tx pgx.Tx, h *membership.History) error {
	query := `
		INSERT INTO membership_history (subscriber_id, plan_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query, h.SubscriberID, h.PlanID, h.StartDate, h.EndDate, h.Reason).
		Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append membership history: %w", err)
	}
	return nil
}

// ListHistory returns the subscriber's ended periods, newest first.
func (r *MembershipRepository) ListHistory(ctx context.Context, subscriberID uuid.UUID) ([]*membership.History, error) {
	query := `
		SELECT id, subscriber_id, plan_id, start_date, end_date, reason, created_at
		FROM membership_history
		WHERE subscriber_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list membership history: %w", err)
	}
	defer rows.Close()

	history := []*membership.History{}
	for rows.Next() {
		var h membership.History
		if err := rows.Scan(&h.ID, &h.SubscriberID, &h.PlanID, &h.StartDate, &h.EndDate, &h.Reason, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership history: %w", err)
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// ListLapsedSubscribers returns subscribers whose active membership ended
// at or before now.
func (r *MembershipRepository) ListLapsedSubscribers(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT subscriber_id
		FROM memberships
		WHERE is_active AND end_date IS NOT NULL AND end_date <= $1
		ORDER BY end_date
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed memberships: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
