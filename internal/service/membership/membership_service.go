// internal/service/membership/membership_service.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/domain/plan"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type PlanReader interface {
	FindByIDWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*plan.Plan, error)
}

type SubscriberLocker interface {
	LockWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type Repository interface {
	FindActiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*membership.Membership, error)
	FindActiveBySubscriberWithTx(ctx context.Context, tx pgx.Tx, subscriberID uuid.UUID) (*membership.Membership, error)
	CreateWithTx(ctx context.Context, tx pgx.Tx, m *membership.Membership) error
	ExtendWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, endDate time.Time) error
	DeactivateWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, endDate time.Time) error
	AppendHistoryWithTx(ctx context.Context, tx pgx.Tx, h *membership.History) error
	ListHistory(ctx context.Context, subscriberID uuid.UUID) ([]*membership.History, error)
	ListLapsedSubscribers(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// ErrRenewalUndefined is returned when renewing a plan with no duration.
var ErrRenewalUndefined = fmt.Errorf("plan has no duration, renewal is undefined: %w", xerrors.ErrInvalidInput)

type MembershipService struct {
	plans       PlanReader
	subscribers SubscriberLocker
	repo        Repository
	db          Transactor
	logger      *zap.Logger
	now         func() time.Time
}

func NewMembershipService(plans PlanReader, subscribers SubscriberLocker, repo Repository, db Transactor, logger *zap.Logger) *MembershipService {
	return &MembershipService{
		plans:       plans,
		subscribers: subscribers,
		repo:        repo,
		db:          db,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (s *MembershipService) WithClock(now func() time.Time) *MembershipService {
	s.now = now
	return s
}

// Activate grants planID to the subscriber inside tx. Renewing the current
// plan extends its end date; any other plan archives the current membership
// and starts a new one. The subscriber row stays locked until tx ends.
func (s *MembershipService) Activate(ctx context.Context, tx pgx.Tx, subscriberID, planID uuid.UUID) (*membership.Membership, error) {
	p, err := s.plans.FindByIDWithTx(ctx, tx, planID)
	if err != nil {
		return nil, err
	}

	if err := s.subscribers.LockWithTx(ctx, tx, subscriberID); err != nil {
		return nil, err
	}

	current, err := s.repo.FindActiveBySubscriberWithTx(ctx, tx, subscriberID)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}

	now := s.now()

	if current != nil && current.PlanID == planID {
		return s.renew(ctx, tx, current, p, now)
	}

	if current != nil {
		if err := s.archive(ctx, tx, current, reasonFor(current, planID), now); err != nil {
			return nil, err
		}
	}

	m := &membership.Membership{
		SubscriberID: subscriberID,
		PlanID:       planID,
		IsActive:     true,
		StartDate:    now,
		Features:     p.EnabledFeatureKeys(),
	}
	if p.HasDuration() {
		end := now.AddDate(0, 0, *p.DurationDays)
		m.EndDate = &end
	}

	if err := s.repo.CreateWithTx(ctx, tx, m); err != nil {
		return nil, err
	}

	s.logger.Info("membership activated",
		zap.String("subscriber_id", subscriberID.String()),
		zap.String("plan_id", planID.String()),
		zap.String("membership_id", m.ID.String()),
	)

	return m, nil
}

// renew extends from the current end date, even when that date has passed.
func (s *MembershipService) renew(ctx context.Context, tx pgx.Tx, current *membership.Membership, p *plan.Plan, now time.Time) (*membership.Membership, error) {
	if !p.HasDuration() {
		return nil, ErrRenewalUndefined
	}

	from := now
	if current.EndDate != nil {
		from = *current.EndDate
	}
	end := from.AddDate(0, 0, *p.DurationDays)

	if err := s.repo.ExtendWithTx(ctx, tx, current.ID, end); err != nil {
		return nil, err
	}

	current.EndDate = &end
	current.IsActive = true

	s.logger.Info("membership renewed",
		zap.String("subscriber_id", current.SubscriberID.String()),
		zap.String("plan_id", current.PlanID.String()),
		zap.Time("end_date", end),
	)

	return current, nil
}

func (s *MembershipService) archive(ctx context.Context, tx pgx.Tx, current *membership.Membership, reason membership.HistoryReason, endedAt time.Time) error {
	h := &membership.History{
		SubscriberID: current.SubscriberID,
		PlanID:       current.PlanID,
		StartDate:    current.StartDate,
		EndDate:      endedAt,
		Reason:       reason,
	}
	if err := s.repo.AppendHistoryWithTx(ctx, tx, h); err != nil {
		return err
	}
	return s.repo.DeactivateWithTx(ctx, tx, current.ID, endedAt)
}

// reasonFor tags a membership being replaced. Any plan change is an upgrade,
// whether or not the old period had run out.
func reasonFor(current *membership.Membership, newPlanID uuid.UUID) membership.HistoryReason {
	if current.PlanID != newPlanID {
		return membership.ReasonUpgrade
	}
	return membership.ReasonExpired
}

// Current returns the subscriber's current membership row.
func (s *MembershipService) Current(ctx context.Context, subscriberID uuid.UUID) (*membership.Membership, error) {
	return s.repo.FindActiveBySubscriber(ctx, subscriberID)
}

func (s *MembershipService) History(ctx context.Context, subscriberID uuid.UUID) ([]*membership.History, error) {
	return s.repo.ListHistory(ctx, subscriberID)
}

// Access evaluates the access predicate, and the feature snapshot when
// feature is set.
func (s *MembershipService) Access(ctx context.Context, subscriberID uuid.UUID, feature string) (*membership.AccessResponse, error) {
	m, err := s.repo.FindActiveBySubscriber(ctx, subscriberID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return &membership.AccessResponse{Feature: feature}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &membership.AccessResponse{
		Active:    m.GrantsAccess(s.now()),
		Feature:   feature,
		ExpiresAt: m.EndDate,
	}
	resp.Granted = resp.Active && (feature == "" || m.HasFeature(feature))
	return resp, nil
}
