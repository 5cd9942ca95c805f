// internal/service/catalog/catalog_service.go
package catalog

import (
	"context"
	"fmt"
	"strings"

	"inspecto-service/internal/domain/plan"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type PlanRepository interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, p *plan.Plan, featureIDs []uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
	List(ctx context.Context) ([]*plan.Plan, error)
	Update(ctx context.Context, id uuid.UUID, req *plan.UpdatePlanRequest) (*plan.Plan, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type FeatureRepository interface {
	Create(ctx context.Context, f *plan.Feature) error
	FindByID(ctx context.Context, id uuid.UUID) (*plan.Feature, error)
	List(ctx context.Context) ([]*plan.Feature, error)
	Update(ctx context.Context, id uuid.UUID, req *plan.UpdateFeatureRequest) (*plan.Feature, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// CatalogService manages the plans subscribers can buy and the features
// they unlock.
type CatalogService struct {
	plans    PlanRepository
	features FeatureRepository
	db       Transactor
	logger   *zap.Logger
}

func NewCatalogService(plans PlanRepository, features FeatureRepository, db Transactor, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		plans:    plans,
		features: features,
		db:       db,
		logger:   logger,
	}
}

// CreatePlan creates a plan with its feature set. There is at most one plan
// per type.
func (s *CatalogService) CreatePlan(ctx context.Context, req *plan.CreatePlanRequest) (*plan.Plan, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("invalid plan type %q: %w", req.Type, xerrors.ErrInvalidInput)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("price must be positive: %w", xerrors.ErrInvalidInput)
	}
	if req.Price.Exponent() < -2 {
		return nil, fmt.Errorf("price has more than two decimal places: %w", xerrors.ErrInvalidInput)
	}
	if len(req.FeatureIDs) == 0 {
		return nil, fmt.Errorf("at least one feature is required: %w", xerrors.ErrInvalidInput)
	}

	p := &plan.Plan{
		Type:         req.Type,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		MaxClients:   req.MaxClients,
		MaxEmployees: req.MaxEmployees,
		MaxAssets:    req.MaxAssets,
	}

	err := s.db.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.plans.CreateWithTx(ctx, tx, p, req.FeatureIDs)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan created",
		zap.String("plan_id", p.ID.String()),
		zap.String("type", string(p.Type)),
		zap.String("price", p.Price.StringFixed(2)),
	)
	return p, nil
}

func (s *CatalogService) GetPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	return s.plans.FindByID(ctx, id)
}

func (s *CatalogService) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	return s.plans.List(ctx)
}

// UpdatePlan changes price or quotas. Memberships already granted keep
// their feature snapshot and end date.
func (s *CatalogService) UpdatePlan(ctx context.Context, id uuid.UUID, req *plan.UpdatePlanRequest) (*plan.Plan, error) {
	if req.Price != nil && (!req.Price.IsPositive() || req.Price.Exponent() < -2) {
		return nil, fmt.Errorf("price must be positive with at most two decimal places: %w", xerrors.ErrInvalidInput)
	}

	p, err := s.plans.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan updated", zap.String("plan_id", id.String()))
	return p, nil
}

// DeletePlan fails with a conflict while payments or memberships reference
// the plan.
func (s *CatalogService) DeletePlan(ctx context.Context, id uuid.UUID) error {
	if err := s.plans.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("plan deleted", zap.String("plan_id", id.String()))
	return nil
}

func (s *CatalogService) CreateFeature(ctx context.Context, req *plan.CreateFeatureRequest) (*plan.Feature, error) {
	key := strings.ToLower(strings.TrimSpace(req.Key))
	if key == "" || strings.ContainsAny(key, " \t") {
		return nil, fmt.Errorf("feature key must be a single word: %w", xerrors.ErrInvalidInput)
	}

	f := &plan.Feature{
		Key:         key,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
	}
	if err := s.features.Create(ctx, f); err != nil {
		return nil, err
	}

	s.logger.Info("feature created", zap.String("feature_id", f.ID.String()), zap.String("key", f.Key))
	return f, nil
}

func (s *CatalogService) GetFeature(ctx context.Context, id uuid.UUID) (*plan.Feature, error) {
	return s.features.FindByID(ctx, id)
}

func (s *CatalogService) ListFeatures(ctx context.Context) ([]*plan.Feature, error) {
	return s.features.List(ctx)
}

func (s *CatalogService) UpdateFeature(ctx context.Context, id uuid.UUID, req *plan.UpdateFeatureRequest) (*plan.Feature, error) {
	return s.features.Update(ctx, id, req)
}

// DeleteFeature fails with a conflict while a plan still offers it.
func (s *CatalogService) DeleteFeature(ctx context.Context, id uuid.UUID) error {
	if err := s.features.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("feature deleted", zap.String("feature_id", id.String()))
	return nil
}
