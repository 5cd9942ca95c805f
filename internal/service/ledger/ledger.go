// internal/service/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"time"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/domain/payment"
	"inspecto-service/internal/domain/plan"
	"inspecto-service/internal/domain/subscriber"
	"inspecto-service/internal/gateway"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *payment.Payment) error
	SetCheckout(ctx context.Context, transactionID, ref, url string) error
	SettlePendingWithTx(ctx context.Context, tx pgx.Tx, transactionID string, status payment.Status, paidAt *time.Time) (*payment.Payment, bool, error)
	MarkFailed(ctx context.Context, transactionID string) (bool, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error)
	ListBySubscriber(ctx context.Context, subscriberID uuid.UUID, page, limit int) ([]*payment.Payment, int64, error)
}

type PlanFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
}

type SubscriberFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error)
}

// Activator grants a plan inside the confirming transaction.
type Activator interface {
	Activate(ctx context.Context, tx pgx.Tx, subscriberID, planID uuid.UUID) (*membership.Membership, error)
}

type Checkouts interface {
	Get(provider string) (gateway.Gateway, error)
	CreateCheckout(ctx context.Context, provider string, req gateway.CheckoutRequest) (*gateway.Checkout, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type InitiateParams struct {
	PlanID       uuid.UUID
	SubscriberID uuid.UUID
	Summary      payment.BillingSummary
	Currency     string
	Provider     string
}

type InitiateResult struct {
	Payment        *payment.Payment
	BillingSummary payment.BillingSummary
	CheckoutURL    string
}

// Settlement is the outcome of a confirmation that changed a payment.
// Membership is set only for successful payments.
type Settlement struct {
	Payment    *payment.Payment
	Membership *membership.Membership
}

type Ledger struct {
	payments    PaymentRepository
	plans       PlanFinder
	subscribers SubscriberFinder
	activator   Activator
	checkouts   Checkouts
	db          Transactor
	logger      *zap.Logger
	now         func() time.Time
}

func NewLedger(payments PaymentRepository, plans PlanFinder, subscribers SubscriberFinder, activator Activator, checkouts Checkouts, db Transactor, logger *zap.Logger) *Ledger {
	return &Ledger{
		payments:    payments,
		plans:       plans,
		subscribers: subscribers,
		activator:   activator,
		checkouts:   checkouts,
		db:          db,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// NewTransactionID returns a fresh, collision-resistant transaction id.
func NewTransactionID() string {
	return "TXN_" + ulid.Make().String()
}

// Initiate records a pending payment for the summary's net payable and opens
// a checkout with the provider. If the provider fails the payment is marked
// failed and a gateway error is returned.
func (l *Ledger) Initiate(ctx context.Context, params InitiateParams) (*InitiateResult, error) {
	p, err := l.plans.FindByID(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	sub, err := l.subscribers.FindByID(ctx, params.SubscriberID)
	if err != nil {
		return nil, err
	}
	if _, err := l.checkouts.Get(params.Provider); err != nil {
		return nil, err
	}

	pay := &payment.Payment{
		PlanID:        p.ID,
		SubscriberID:  sub.ID,
		Amount:        params.Summary.NetPayable,
		Currency:      params.Currency,
		Provider:      params.Provider,
		TransactionID: NewTransactionID(),
		Status:        payment.StatusPending,
	}
	if err := l.payments.Create(ctx, pay); err != nil {
		return nil, err
	}

	checkout, err := l.checkouts.CreateCheckout(ctx, params.Provider, gateway.CheckoutRequest{
		TransactionID:  pay.TransactionID,
		Amount:         pay.Amount,
		Currency:       pay.Currency,
		PlanID:         p.ID,
		PlanType:       string(p.Type),
		BasePriceMinor: params.Summary.Base,
		SubscriberID:   sub.ID,
		CustomerEmail:  sub.Email,
	})
	if err != nil {
		l.logger.Warn("checkout creation failed",
			zap.String("transaction_id", pay.TransactionID),
			zap.String("provider", params.Provider),
			zap.Error(err),
		)
		// a detached context so a cancelled request still fails the row
		if rbErr := l.Rollback(context.WithoutCancel(ctx), pay.TransactionID); rbErr != nil {
			l.logger.Error("failed to roll back payment",
				zap.String("transaction_id", pay.TransactionID),
				zap.Error(rbErr),
			)
		}
		if errors.Is(err, xerrors.ErrInvalidInput) {
			return nil, err
		}
		return nil, xerrors.Gateway(params.Provider, err)
	}

	if err := l.payments.SetCheckout(ctx, pay.TransactionID, checkout.Reference, checkout.URL); err != nil {
		return nil, err
	}
	pay.CheckoutRef, pay.CheckoutURL = &checkout.Reference, &checkout.URL

	l.logger.Info("payment initiated",
		zap.String("transaction_id", pay.TransactionID),
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("plan_id", p.ID.String()),
		zap.Int64("amount", pay.Amount),
		zap.String("provider", params.Provider),
	)

	return &InitiateResult{
		Payment:        pay,
		BillingSummary: params.Summary,
		CheckoutURL:    checkout.URL,
	}, nil
}

// Confirm settles a pending payment exactly once. It returns nil, nil when
// the payment was already settled or does not exist.
func (l *Ledger) Confirm(ctx context.Context, transactionID string, success bool) (*Settlement, error) {
	var out *Settlement
	err := l.db.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = l.ConfirmWithTx(ctx, tx, transactionID, success)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmWithTx is Confirm inside a caller's transaction. A successful
// payment activates the membership with the same tx.
func (l *Ledger) ConfirmWithTx(ctx context.Context, tx pgx.Tx, transactionID string, success bool) (*Settlement, error) {
	status := payment.StatusFailed
	var paidAt *time.Time
	if success {
		status = payment.StatusSuccess
		now := l.now()
		paidAt = &now
	}

	pay, changed, err := l.payments.SettlePendingWithTx(ctx, tx, transactionID, status, paidAt)
	if err != nil {
		return nil, err
	}
	if !changed {
		l.logger.Info("payment already settled, skipping",
			zap.String("transaction_id", transactionID),
		)
		return nil, nil
	}

	out := &Settlement{Payment: pay}
	if success {
		m, err := l.activator.Activate(ctx, tx, pay.SubscriberID, pay.PlanID)
		if err != nil {
			return nil, err
		}
		out.Membership = m
	}

	l.logger.Info("payment settled",
		zap.String("transaction_id", transactionID),
		zap.String("status", string(status)),
	)
	return out, nil
}

// Rollback fails a payment stuck pending. Successful payments are never
// overwritten.
func (l *Ledger) Rollback(ctx context.Context, transactionID string) error {
	pay, err := l.payments.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return err
	}
	if pay.Status == payment.StatusSuccess {
		return nil
	}

	changed, err := l.payments.MarkFailed(ctx, transactionID)
	if err != nil {
		return err
	}
	if changed {
		l.logger.Info("payment rolled back", zap.String("transaction_id", transactionID))
	}
	return nil
}

// List returns the subscriber's payments, newest first.
func (l *Ledger) List(ctx context.Context, subscriberID uuid.UUID, page, limit int) (*payment.ListPaymentsResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	payments, total, err := l.payments.ListBySubscriber(ctx, subscriberID, page, limit)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &payment.ListPaymentsResponse{
		Payments:    payments,
		Total:       total,
		Page:        page,
		Limit:       limit,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}

// Get returns one of the subscriber's payments. Other subscribers' payments
// read as not found.
func (l *Ledger) Get(ctx context.Context, subscriberID uuid.UUID, transactionID string) (*payment.Payment, error) {
	pay, err := l.payments.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if pay.SubscriberID != subscriberID {
		return nil, xerrors.NotFound("payment")
	}
	return pay, nil
}
