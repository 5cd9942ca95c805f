// internal/repository/postgres/payment_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"inspecto-service/internal/domain/payment"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, plan_id, subscriber_id, amount, currency, provider, transaction_id,
	status, checkout_ref, checkout_url, paid_at, created_at, updated_at`

func scanPayment(row pgx.Row, p *payment.Payment) error {
	return row.Scan(
		&p.ID, &p.PlanID, &p.SubscriberID, &p.Amount, &p.Currency, &p.Provider, &p.TransactionID,
		&p.Status, &p.CheckoutRef, &p.CheckoutURL, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO payments (plan_id, subscriber_id, amount, currency, provider, transaction_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		p.PlanID, p.SubscriberID, p.Amount, p.Currency, p.Provider, p.TransactionID, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction id %s: %w", p.TransactionID, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// SetCheckout records the provider's checkout reference on a pending payment.
func (r *PaymentRepository) SetCheckout(ctx context.Context, transactionID, ref, url string) error {
	query := `
		UPDATE payments
		SET checkout_ref = $2, checkout_url = $3, updated_at = NOW()
		WHERE transaction_id = $1
	`
	result, err := r.db.Exec(ctx, query, transactionID, ref, url)
	if err != nil {
		return fmt.Errorf("failed to store checkout reference: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.NotFound("payment")
	}
	return nil
}

// SettlePendingWithTx moves a pending payment to status. The bool is false
// when no pending row matched, i.e. the payment was already settled.
func (r *PaymentRepository) SettlePendingWithTx(ctx context.Context, tx pgx.Tx, transactionID string, status payment.Status, paidAt *time.Time) (*payment.Payment, bool, error) {
	query := `
		UPDATE payments
		SET status = $2, paid_at = $3, updated_at = NOW()
		WHERE transaction_id = $1 AND status = 'pending'
		RETURNING ` + paymentColumns

	var p payment.Payment
	err := scanPayment(tx.QueryRow(ctx, query, transactionID, status, paidAt), &p)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to settle payment: %w", err)
	}
	return &p, true, nil
}

// MarkFailed fails a payment unless it already succeeded. The bool reports
// whether the row changed.
func (r *PaymentRepository) MarkFailed(ctx context.Context, transactionID string) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'failed', updated_at = NOW()
		WHERE transaction_id = $1 AND status <> 'success'
	`
	result, err := r.db.Exec(ctx, query, transactionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	var p payment.Payment
	err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID), &p)
	if isNoRows(err) {
		return nil, xerrors.NotFound("payment")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return &p, nil
}

// ListBySubscriber returns one page of payments, newest first, and the total.
func (r *PaymentRepository) ListBySubscriber(ctx context.Context, subscriberID uuid.UUID, page, limit int) ([]*payment.Payment, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE subscriber_id = $1`, subscriberID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE subscriber_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, subscriberID, limit, offsetFor(page, limit))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []*payment.Payment{}
	for rows.Next() {
		var p payment.Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, 0, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, total, nil
}
