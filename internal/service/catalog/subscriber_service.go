// internal/service/catalog/subscriber_service.go
package catalog

import (
	"context"
	"strings"

	"inspecto-service/internal/domain/subscriber"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubscriberRepository interface {
	Create(ctx context.Context, s *subscriber.Subscriber) error
	FindByID(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error)
}

// SubscriberService registers billing accounts. Identities themselves are
// owned by the identity service; this only links a user id to billing.
type SubscriberService struct {
	repo   SubscriberRepository
	logger *zap.Logger
}

func NewSubscriberService(repo SubscriberRepository, logger *zap.Logger) *SubscriberService {
	return &SubscriberService{repo: repo, logger: logger}
}

func (s *SubscriberService) Create(ctx context.Context, req *subscriber.CreateSubscriberRequest) (*subscriber.Subscriber, error) {
	sub := &subscriber.Subscriber{
		UserID: strings.TrimSpace(req.UserID),
		Name:   strings.TrimSpace(req.Name),
		Email:  strings.ToLower(strings.TrimSpace(req.Email)),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscriber created",
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("user_id", sub.UserID),
	)
	return sub, nil
}

func (s *SubscriberService) Get(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error) {
	return s.repo.FindByID(ctx, id)
}
