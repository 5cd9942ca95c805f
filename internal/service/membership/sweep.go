// internal/service/membership/sweep.go
package membership

import (
	"context"
	"errors"
	"fmt"

	"inspecto-service/internal/domain/membership"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepBatchSize = 500

// ExpireLapsed archives active memberships whose end date has passed and
// deactivates them. Each subscriber is handled in its own transaction under
// the subscriber lock. Returns how many memberships were expired.
func (s *MembershipService) ExpireLapsed(ctx context.Context) (int, error) {
	ids, err := s.repo.ListLapsedSubscribers(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		done, err := s.expireOne(ctx, id)
		if err != nil {
			s.logger.Error("failed to expire membership",
				zap.String("subscriber_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

func (s *MembershipService) expireOne(ctx context.Context, subscriberID uuid.UUID) (bool, error) {
	done := false
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.subscribers.LockWithTx(ctx, tx, subscriberID); err != nil {
			return err
		}

		current, err := s.repo.FindActiveBySubscriberWithTx(ctx, tx, subscriberID)
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// renewed or replaced since it was listed
		if current.GrantsAccess(s.now()) {
			return nil
		}

		if err := s.archive(ctx, tx, current, membership.ReasonExpired, *current.EndDate); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// Sweeper runs ExpireLapsed on a cron schedule.
type Sweeper struct {
	service  *MembershipService
	schedule string
	observe  func(expired int)
	logger   *zap.Logger
}

func NewSweeper(service *MembershipService, schedule string, logger *zap.Logger) *Sweeper {
	return &Sweeper{service: service, schedule: schedule, logger: logger}
}

// OnExpired registers fn to receive the count of every successful sweep.
func (w *Sweeper) OnExpired(fn func(expired int)) *Sweeper {
	w.observe = fn
	return w
}

// Run blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(w.schedule, func() {
		n, err := w.service.ExpireLapsed(ctx)
		if err != nil {
			w.logger.Error("membership sweep failed", zap.Error(err))
			return
		}
		if w.observe != nil {
			w.observe(n)
		}
		if n > 0 {
			w.logger.Info("membership sweep expired memberships", zap.Int("count", n))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.schedule, err)
	}

	w.logger.Info("membership sweep scheduled", zap.String("schedule", w.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
