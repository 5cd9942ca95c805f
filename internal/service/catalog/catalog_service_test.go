package catalog

import (
	"context"
	"testing"

	"inspecto-service/internal/domain/plan"
	"inspecto-service/internal/domain/subscriber"
	xerrors "inspecto-service/internal/pkg/errors"
	"inspecto-service/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCatalog(t *testing.T) (*CatalogService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewCatalogService(store.Plans, store.Features, store, zap.NewNop()), store
}

func feature(t *testing.T, svc *CatalogService, key string) *plan.Feature {
	t.Helper()
	f, err := svc.CreateFeature(context.Background(), &plan.CreateFeatureRequest{Key: key, Name: key + " feature"})
	require.NoError(t, err)
	return f
}

func TestCreatePlan(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	reports := feature(t, svc, "reports")
	thirty := 30

	p, err := svc.CreatePlan(ctx, &plan.CreatePlanRequest{
		Type:         plan.TypePro,
		Price:        decimal.RequireFromString("49.99"),
		DurationDays: &thirty,
		FeatureIDs:   []uuid.UUID{reports.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4999), p.PriceMinor())
	assert.Equal(t, []string{"reports"}, p.EnabledFeatureKeys())

	got, err := svc.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestCreatePlanValidation(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	reports := feature(t, svc, "reports")

	cases := []struct {
		name string
		req  plan.CreatePlanRequest
	}{
		{"unknown type", plan.CreatePlanRequest{Type: "gold", Price: decimal.NewFromInt(10), FeatureIDs: []uuid.UUID{reports.ID}}},
		{"zero price", plan.CreatePlanRequest{Type: plan.TypeBasic, Price: decimal.Zero, FeatureIDs: []uuid.UUID{reports.ID}}},
		{"sub-cent price", plan.CreatePlanRequest{Type: plan.TypeBasic, Price: decimal.RequireFromString("9.999"), FeatureIDs: []uuid.UUID{reports.ID}}},
		{"no features", plan.CreatePlanRequest{Type: plan.TypeBasic, Price: decimal.NewFromInt(10)}},
		{"unknown feature", plan.CreatePlanRequest{Type: plan.TypeBasic, Price: decimal.NewFromInt(10), FeatureIDs: []uuid.UUID{uuid.New()}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePlan(ctx, &tc.req)
			assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
		})
	}
}

func TestCreatePlanDuplicateTypeConflicts(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	reports := feature(t, svc, "reports")
	req := &plan.CreatePlanRequest{Type: plan.TypeBasic, Price: decimal.NewFromInt(10), FeatureIDs: []uuid.UUID{reports.ID}}

	_, err := svc.CreatePlan(ctx, req)
	require.NoError(t, err)
	_, err = svc.CreatePlan(ctx, req)
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestUpdatePlanPriceAndQuotas(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	reports := feature(t, svc, "reports")
	p, err := svc.CreatePlan(ctx, &plan.CreatePlanRequest{Type: plan.TypeBasic, Price: decimal.NewFromInt(10), FeatureIDs: []uuid.UUID{reports.ID}})
	require.NoError(t, err)

	price := decimal.RequireFromString("12.50")
	clients := 25
	updated, err := svc.UpdatePlan(ctx, p.ID, &plan.UpdatePlanRequest{Price: &price, MaxClients: &clients})
	require.NoError(t, err)
	assert.Equal(t, int64(1250), updated.PriceMinor())
	require.NotNil(t, updated.MaxClients)
	assert.Equal(t, 25, *updated.MaxClients)

	negative := decimal.NewFromInt(-1)
	_, err = svc.UpdatePlan(ctx, p.ID, &plan.UpdatePlanRequest{Price: &negative})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = svc.UpdatePlan(ctx, uuid.New(), &plan.UpdatePlanRequest{MaxClients: &clients})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestDeleteRules(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	reports := feature(t, svc, "reports")
	p, err := svc.CreatePlan(ctx, &plan.CreatePlanRequest{Type: plan.TypeBasic, Price: decimal.NewFromInt(10), FeatureIDs: []uuid.UUID{reports.ID}})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteFeature(ctx, reports.ID), xerrors.ErrConflict)
	require.NoError(t, svc.DeletePlan(ctx, p.ID))
	require.NoError(t, svc.DeleteFeature(ctx, reports.ID))
	assert.ErrorIs(t, svc.DeletePlan(ctx, p.ID), xerrors.ErrNotFound)
}

func TestCreateFeatureNormalizesKey(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()

	f, err := svc.CreateFeature(ctx, &plan.CreateFeatureRequest{Key: "  Exports ", Name: "Exports"})
	require.NoError(t, err)
	assert.Equal(t, "exports", f.Key)

	_, err = svc.CreateFeature(ctx, &plan.CreateFeatureRequest{Key: "exports", Name: "Again"})
	assert.ErrorIs(t, err, xerrors.ErrConflict)

	_, err = svc.CreateFeature(ctx, &plan.CreateFeatureRequest{Key: "two words", Name: "Bad"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestSubscriberService(t *testing.T) {
	store := memory.NewStore()
	svc := NewSubscriberService(store.Subscribers, zap.NewNop())
	ctx := context.Background()

	sub, err := svc.Create(ctx, &subscriber.CreateSubscriberRequest{UserID: "u-9", Name: "Acme", Email: "Ops@Acme.test"})
	require.NoError(t, err)
	assert.Equal(t, "ops@acme.test", sub.Email)

	_, err = svc.Create(ctx, &subscriber.CreateSubscriberRequest{UserID: "u-9", Name: "Dup", Email: "x@y.test"})
	assert.ErrorIs(t, err, xerrors.ErrConflict)

	got, err := svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
}
