// internal/repository/memory/billing.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/domain/payment"
	"inspecto-service/internal/domain/subscriber"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type SubscriberRepository struct{ s *Store }

func (r *SubscriberRepository) Create(_ context.Context, sub *subscriber.Subscriber) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.data.subscribers {
		if existing.UserID == sub.UserID {
			return fmt.Errorf("subscriber for user %s: %w", sub.UserID, xerrors.ErrConflict)
		}
	}
	sub.ID = uuid.New()
	sub.CreatedAt = r.s.stamp()
	sub.UpdatedAt = sub.CreatedAt
	r.s.data.subscribers[sub.ID] = *sub
	return nil
}

func (r *SubscriberRepository) FindByID(_ context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub, ok := r.s.data.subscribers[id]
	if !ok {
		return nil, xerrors.NotFound("subscriber")
	}
	return &sub, nil
}

// LockWithTx only checks existence; transactions are already serialized.
func (r *SubscriberRepository) LockWithTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) error {
	_, err := r.FindByID(ctx, id)
	return err
}

type MembershipRepository struct{ s *Store }

func (r *MembershipRepository) FindActiveBySubscriber(_ context.Context, subscriberID uuid.UUID) (*membership.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, m := range r.s.data.memberships {
		if m.SubscriberID == subscriberID && m.IsActive {
			return &m, nil
		}
	}
	return nil, xerrors.NotFound("membership")
}

func (r *MembershipRepository) FindActiveBySubscriberWithTx(ctx context.Context, _ pgx.Tx, subscriberID uuid.UUID) (*membership.Membership, error) {
	return r.FindActiveBySubscriber(ctx, subscriberID)
}

func (r *MembershipRepository) CreateWithTx(_ context.Context, _ pgx.Tx, m *membership.Membership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if m.IsActive {
		for _, existing := range r.s.data.memberships {
			if existing.SubscriberID == m.SubscriberID && existing.IsActive {
				return fmt.Errorf("subscriber already has an active membership: %w", xerrors.ErrConflict)
			}
		}
	}
	if m.Features == nil {
		m.Features = []string{}
	}
	m.ID = uuid.New()
	m.CreatedAt = r.s.stamp()
	m.UpdatedAt = m.CreatedAt
	r.s.data.memberships[m.ID] = *m
	return nil
}

func (r *MembershipRepository) ExtendWithTx(_ context.Context, _ pgx.Tx, id uuid.UUID, endDate time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.data.memberships[id]
	if !ok || !m.IsActive {
		return xerrors.NotFound("membership")
	}
	m.EndDate = &endDate
	m.UpdatedAt = r.s.stamp()
	r.s.data.memberships[id] = m
	return nil
}

func (r *MembershipRepository) DeactivateWithTx(_ context.Context, _ pgx.Tx, id uuid.UUID, endDate time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.data.memberships[id]
	if !ok || !m.IsActive {
		return xerrors.NotFound("membership")
	}
	m.IsActive = false
	m.EndDate = &endDate
	m.UpdatedAt = r.s.stamp()
	r.s.data.memberships[id] = m
	return nil
}

func (r *MembershipRepository) AppendHistoryWithTx(_ context.Context, _ pgx.Tx, h *membership.History) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	h.ID = uuid.New()
	h.CreatedAt = r.s.stamp()
	r.s.data.history = append(r.s.data.history, *h)
	return nil
}

func (r *MembershipRepository) ListHistory(_ context.Context, subscriberID uuid.UUID) ([]*membership.History, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*membership.History{}
	for i := len(r.s.data.history) - 1; i >= 0; i-- {
		h := r.s.data.history[i]
		if h.SubscriberID == subscriberID {
			out = append(out, &h)
		}
	}
	return out, nil
}

func (r *MembershipRepository) ListLapsedSubscribers(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []uuid.UUID
	for _, m := range r.s.data.memberships {
		if m.IsActive && m.EndDate != nil && !m.EndDate.After(now) {
			ids = append(ids, m.SubscriberID)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// All returns every membership row of a subscriber, active or not.
func (r *MembershipRepository) All(subscriberID uuid.UUID) []membership.Membership {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []membership.Membership
	for _, m := range r.s.data.memberships {
		if m.SubscriberID == subscriberID {
			out = append(out, m)
		}
	}
	return out
}

type PaymentRepository struct{ s *Store }

func (r *PaymentRepository) Create(_ context.Context, p *payment.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.data.payments[p.TransactionID]; exists {
		return fmt.Errorf("transaction id %s: %w", p.TransactionID, xerrors.ErrConflict)
	}
	p.ID = uuid.New()
	p.CreatedAt = r.s.stamp()
	p.UpdatedAt = p.CreatedAt
	r.s.data.payments[p.TransactionID] = *p
	return nil
}

func (r *PaymentRepository) SetCheckout(_ context.Context, transactionID, ref, url string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.data.payments[transactionID]
	if !ok {
		return xerrors.NotFound("payment")
	}
	p.CheckoutRef, p.CheckoutURL = &ref, &url
	p.UpdatedAt = r.s.stamp()
	r.s.data.payments[transactionID] = p
	return nil
}

func (r *PaymentRepository) SettlePendingWithTx(_ context.Context, _ pgx.Tx, transactionID string, status payment.Status, paidAt *time.Time) (*payment.Payment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.data.payments[transactionID]
	if !ok || p.Status != payment.StatusPending {
		return nil, false, nil
	}
	p.Status = status
	p.PaidAt = paidAt
	p.UpdatedAt = r.s.stamp()
	r.s.data.payments[transactionID] = p
	return &p, true, nil
}

func (r *PaymentRepository) MarkFailed(_ context.Context, transactionID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.data.payments[transactionID]
	if !ok || p.Status == payment.StatusSuccess {
		return false, nil
	}
	p.Status = payment.StatusFailed
	p.UpdatedAt = r.s.stamp()
	r.s.data.payments[transactionID] = p
	return true, nil
}

func (r *PaymentRepository) FindByTransactionID(_ context.Context, transactionID string) (*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.data.payments[transactionID]
	if !ok {
		return nil, xerrors.NotFound("payment")
	}
	return &p, nil
}

func (r *PaymentRepository) ListBySubscriber(_ context.Context, subscriberID uuid.UUID, page, limit int) ([]*payment.Payment, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []*payment.Payment
	for _, p := range r.s.data.payments {
		if p.SubscriberID == subscriberID {
			all = append(all, &p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := min(start+limit, len(all))
	return append([]*payment.Payment{}, all[start:end]...), int64(len(all)), nil
}
