// internal/repository/memory/catalog.go
package memory

import (
	"context"
	"fmt"
	"sort"

	"inspecto-service/internal/domain/plan"
	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type FeatureRepository struct{ s *Store }

func (r *FeatureRepository) Create(_ context.Context, f *plan.Feature) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.data.features {
		if existing.Key == f.Key {
			return fmt.Errorf("feature %q: %w", f.Key, xerrors.ErrConflict)
		}
	}
	f.ID = uuid.New()
	f.CreatedAt = r.s.stamp()
	f.UpdatedAt = f.CreatedAt
	r.s.data.features[f.ID] = *f
	return nil
}

func (r *FeatureRepository) FindByID(_ context.Context, id uuid.UUID) (*plan.Feature, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.data.features[id]
	if !ok {
		return nil, xerrors.NotFound("feature")
	}
	return &f, nil
}

func (r *FeatureRepository) List(_ context.Context) ([]*plan.Feature, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*plan.Feature{}
	for _, f := range r.s.data.features {
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *FeatureRepository) Update(_ context.Context, id uuid.UUID, req *plan.UpdateFeatureRequest) (*plan.Feature, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.data.features[id]
	if !ok {
		return nil, xerrors.NotFound("feature")
	}
	if req.Name != nil {
		f.Name = *req.Name
	}
	if req.Description != nil {
		f.Description = req.Description
	}
	f.UpdatedAt = r.s.stamp()
	r.s.data.features[id] = f
	return &f, nil
}

func (r *FeatureRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.features[id]; !ok {
		return xerrors.NotFound("feature")
	}
	for _, ids := range r.s.data.planFeatures {
		for _, fid := range ids {
			if fid == id {
				return fmt.Errorf("feature is granted by a plan: %w", xerrors.ErrConflict)
			}
		}
	}
	delete(r.s.data.features, id)
	return nil
}

type PlanRepository struct{ s *Store }

func (r *PlanRepository) CreateWithTx(_ context.Context, _ pgx.Tx, p *plan.Plan, featureIDs []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.data.plans {
		if existing.Type == p.Type {
			return fmt.Errorf("plan of type %s: %w", p.Type, xerrors.ErrConflict)
		}
	}
	seen := map[uuid.UUID]bool{}
	for _, fid := range featureIDs {
		if _, ok := r.s.data.features[fid]; !ok {
			return fmt.Errorf("unknown feature id: %w", xerrors.ErrInvalidInput)
		}
		if seen[fid] {
			return fmt.Errorf("duplicate feature id: %w", xerrors.ErrInvalidInput)
		}
		seen[fid] = true
	}

	p.ID = uuid.New()
	p.CreatedAt = r.s.stamp()
	p.UpdatedAt = p.CreatedAt
	p.Features = nil
	r.s.data.plans[p.ID] = *p
	r.s.data.planFeatures[p.ID] = append([]uuid.UUID(nil), featureIDs...)
	p.Features = r.featuresLocked(p.ID)
	return nil
}

func (r *PlanRepository) featuresLocked(planID uuid.UUID) []plan.PlanFeature {
	out := []plan.PlanFeature{}
	for _, fid := range r.s.data.planFeatures[planID] {
		f := r.s.data.features[fid]
		out = append(out, plan.PlanFeature{FeatureID: f.ID, Key: f.Key, Name: f.Name, Enabled: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *PlanRepository) FindByID(_ context.Context, id uuid.UUID) (*plan.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.data.plans[id]
	if !ok {
		return nil, xerrors.NotFound("plan")
	}
	p.Features = r.featuresLocked(id)
	return &p, nil
}

func (r *PlanRepository) FindByIDWithTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*plan.Plan, error) {
	return r.FindByID(ctx, id)
}

func (r *PlanRepository) List(_ context.Context) ([]*plan.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*plan.Plan{}
	for id, p := range r.s.data.plans {
		p.Features = r.featuresLocked(id)
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (r *PlanRepository) Update(_ context.Context, id uuid.UUID, req *plan.UpdatePlanRequest) (*plan.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.data.plans[id]
	if !ok {
		return nil, xerrors.NotFound("plan")
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.MaxClients != nil {
		p.MaxClients = req.MaxClients
	}
	if req.MaxEmployees != nil {
		p.MaxEmployees = req.MaxEmployees
	}
	if req.MaxAssets != nil {
		p.MaxAssets = req.MaxAssets
	}
	p.UpdatedAt = r.s.stamp()
	r.s.data.plans[id] = p
	p.Features = r.featuresLocked(id)
	return &p, nil
}

func (r *PlanRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.plans[id]; !ok {
		return xerrors.NotFound("plan")
	}
	for _, m := range r.s.data.memberships {
		if m.PlanID == id {
			return fmt.Errorf("plan is referenced by memberships or payments: %w", xerrors.ErrConflict)
		}
	}
	for _, p := range r.s.data.payments {
		if p.PlanID == id {
			return fmt.Errorf("plan is referenced by memberships or payments: %w", xerrors.ErrConflict)
		}
	}
	delete(r.s.data.plans, id)
	delete(r.s.data.planFeatures, id)
	return nil
}
