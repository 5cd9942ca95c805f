// Package memory holds in-process repositories with the same contracts as
// the postgres ones. Transactions are serialized and roll back on error.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/domain/payment"
	"inspecto-service/internal/domain/plan"
	"inspecto-service/internal/domain/subscriber"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type state struct {
	plans        map[uuid.UUID]plan.Plan
	planFeatures map[uuid.UUID][]uuid.UUID
	features     map[uuid.UUID]plan.Feature
	subscribers  map[uuid.UUID]subscriber.Subscriber
	memberships  map[uuid.UUID]membership.Membership
	history      []membership.History
	payments     map[string]payment.Payment // by transaction id
}

func (s state) clone() state {
	pf := make(map[uuid.UUID][]uuid.UUID, len(s.planFeatures))
	for k, v := range s.planFeatures {
		pf[k] = append([]uuid.UUID(nil), v...)
	}
	return state{
		plans:        maps.Clone(s.plans),
		planFeatures: pf,
		features:     maps.Clone(s.features),
		subscribers:  maps.Clone(s.subscribers),
		memberships:  maps.Clone(s.memberships),
		history:      append([]membership.History(nil), s.history...),
		payments:     maps.Clone(s.payments),
	}
}

type Store struct {
	txMu sync.Mutex // held for the length of a transaction
	mu   sync.Mutex
	data state
	seq  time.Duration
	now  func() time.Time

	Plans       *PlanRepository
	Features    *FeatureRepository
	Subscribers *SubscriberRepository
	Memberships *MembershipRepository
	Payments    *PaymentRepository
}

func NewStore() *Store {
	s := &Store{
		data: state{
			plans:        map[uuid.UUID]plan.Plan{},
			planFeatures: map[uuid.UUID][]uuid.UUID{},
			features:     map[uuid.UUID]plan.Feature{},
			subscribers:  map[uuid.UUID]subscriber.Subscriber{},
			memberships:  map[uuid.UUID]membership.Membership{},
			payments:     map[string]payment.Payment{},
		},
		now: time.Now,
	}
	s.Plans = &PlanRepository{s}
	s.Features = &FeatureRepository{s}
	s.Subscribers = &SubscriberRepository{s}
	s.Memberships = &MembershipRepository{s}
	s.Payments = &PaymentRepository{s}
	return s
}

// WithinTx runs fn alone. The tx handed to fn is nil; repositories here
// ignore it.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// stamp returns a strictly increasing timestamp so newest-first ordering is
// stable within a test.
func (s *Store) stamp() time.Time {
	s.seq += time.Microsecond
	return s.now().Add(s.seq)
}
