package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/domain/plan"
	"inspecto-service/internal/domain/subscriber"
	xerrors "inspecto-service/internal/pkg/errors"
	"inspecto-service/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	store *memory.Store
	svc   *MembershipService
	clock *clock
	sub   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clk := &clock{t: day0}
	svc := NewMembershipService(store.Plans, store.Subscribers, store.Memberships, store, zap.NewNop()).
		WithClock(clk.Now)

	sub := &subscriber.Subscriber{UserID: "user-1", Name: "Acme", Email: "ops@acme.test"}
	require.NoError(t, store.Subscribers.Create(context.Background(), sub))

	return &fixture{store: store, svc: svc, clock: clk, sub: sub.ID}
}

func (f *fixture) plan(t *testing.T, typ plan.PlanType, duration *int, featureKeys ...string) *plan.Plan {
	t.Helper()
	ctx := context.Background()
	var ids []uuid.UUID
	for _, key := range featureKeys {
		feat := &plan.Feature{Key: key + "-" + string(typ), Name: key}
		require.NoError(t, f.store.Features.Create(ctx, feat))
		ids = append(ids, feat.ID)
	}
	p := &plan.Plan{Type: typ, Price: decimal.NewFromInt(50), DurationDays: duration}
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return f.store.Plans.CreateWithTx(ctx, tx, p, ids)
	}))
	return p
}

func (f *fixture) activate(t *testing.T, planID uuid.UUID) (*membership.Membership, error) {
	t.Helper()
	var m *membership.Membership
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		var err error
		m, err = f.svc.Activate(ctx, tx, f.sub, planID)
		return err
	})
	return m, err
}

func days(n int) *int { return &n }

func TestActivateFirstMembership(t *testing.T) {
	f := newFixture(t)
	pro := f.plan(t, plan.TypePro, days(30), "reports", "exports")

	m, err := f.activate(t, pro.ID)
	require.NoError(t, err)

	assert.True(t, m.IsActive)
	assert.Equal(t, day0, m.StartDate)
	require.NotNil(t, m.EndDate)
	assert.Equal(t, day0.AddDate(0, 0, 30), *m.EndDate)
	assert.ElementsMatch(t, pro.EnabledFeatureKeys(), m.Features)
}

func TestActivateNonExpiringPlan(t *testing.T) {
	f := newFixture(t)
	ent := f.plan(t, plan.TypeEnterprise, nil)

	m, err := f.activate(t, ent.ID)
	require.NoError(t, err)
	assert.Nil(t, m.EndDate)

	_, err = f.activate(t, ent.ID)
	assert.ErrorIs(t, err, ErrRenewalUndefined)
}

func TestRenewalExtendsFromCurrentEndDate(t *testing.T) {
	f := newFixture(t)
	pro := f.plan(t, plan.TypePro, days(30))

	_, err := f.activate(t, pro.ID)
	require.NoError(t, err)

	f.clock.Set(day0.AddDate(0, 0, 25))
	m, err := f.activate(t, pro.ID)
	require.NoError(t, err)

	assert.Equal(t, day0.AddDate(0, 0, 60), *m.EndDate)

	history, err := f.svc.History(context.Background(), f.sub)
	require.NoError(t, err)
	assert.Empty(t, history, "renewal does not end a period")
	assert.Len(t, f.store.Memberships.All(f.sub), 1)
}

func TestRenewalAfterLapseStillExtendsFromEndDate(t *testing.T) {
	f := newFixture(t)
	pro := f.plan(t, plan.TypePro, days(30))

	_, err := f.activate(t, pro.ID)
	require.NoError(t, err)

	f.clock.Set(day0.AddDate(0, 0, 40))
	m, err := f.activate(t, pro.ID)
	require.NoError(t, err)
	assert.Equal(t, day0.AddDate(0, 0, 60), *m.EndDate)
	assert.Len(t, f.store.Memberships.All(f.sub), 1)
}

func TestPlanSwitchArchivesHistory(t *testing.T) {
	f := newFixture(t)
	basic := f.plan(t, plan.TypeBasic, days(30), "reports")
	pro := f.plan(t, plan.TypePro, days(30), "reports", "exports")

	old, err := f.activate(t, basic.ID)
	require.NoError(t, err)

	f.clock.Set(day0.AddDate(0, 0, 10))
	m, err := f.activate(t, pro.ID)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, m.PlanID)
	assert.Equal(t, day0.AddDate(0, 0, 40), *m.EndDate)

	history, err := f.svc.History(context.Background(), f.sub)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, membership.ReasonUpgrade, history[0].Reason)
	assert.Equal(t, basic.ID, history[0].PlanID)
	assert.Equal(t, old.StartDate, history[0].StartDate)
	assert.Equal(t, day0.AddDate(0, 0, 10), history[0].EndDate)

	active := 0
	for _, row := range f.store.Memberships.All(f.sub) {
		if row.IsActive {
			active++
			continue
		}
		assert.Equal(t, basic.ID, row.PlanID)
		assert.Equal(t, day0.AddDate(0, 0, 10), *row.EndDate)
	}
	assert.Equal(t, 1, active)
}

func TestSwitchFromLapsedMembershipIsUpgrade(t *testing.T) {
	f := newFixture(t)
	basic := f.plan(t, plan.TypeBasic, days(30))
	pro := f.plan(t, plan.TypePro, days(30))

	_, err := f.activate(t, basic.ID)
	require.NoError(t, err)

	f.clock.Set(day0.AddDate(0, 0, 45))
	_, err = f.activate(t, pro.ID)
	require.NoError(t, err)

	history, err := f.svc.History(context.Background(), f.sub)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, membership.ReasonUpgrade, history[0].Reason)
	assert.Equal(t, basic.ID, history[0].PlanID)
}

func TestReasonFor(t *testing.T) {
	planID := uuid.New()
	current := &membership.Membership{PlanID: planID}

	assert.Equal(t, membership.ReasonUpgrade, reasonFor(current, uuid.New()))
	assert.Equal(t, membership.ReasonExpired, reasonFor(current, planID))
}

func TestActivateUnknownPlanOrSubscriber(t *testing.T) {
	f := newFixture(t)

	_, err := f.activate(t, uuid.New())
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	pro := f.plan(t, plan.TypePro, days(30))
	err = f.store.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		_, err := f.svc.Activate(ctx, tx, uuid.New(), pro.ID)
		return err
	})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestSnapshotIgnoresLaterPlanChanges(t *testing.T) {
	f := newFixture(t)
	pro := f.plan(t, plan.TypePro, days(30), "reports")

	_, err := f.activate(t, pro.ID)
	require.NoError(t, err)

	// a feature added later is not granted retroactively
	extra := &plan.Feature{Key: "late", Name: "late"}
	require.NoError(t, f.store.Features.Create(context.Background(), extra))

	access, err := f.svc.Access(context.Background(), f.sub, "late")
	require.NoError(t, err)
	assert.True(t, access.Active)
	assert.False(t, access.Granted)
}

func TestConcurrentActivationsKeepOneActiveRow(t *testing.T) {
	f := newFixture(t)
	basic := f.plan(t, plan.TypeBasic, days(30))
	pro := f.plan(t, plan.TypePro, days(30))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		planID := basic.ID
		if i%2 == 1 {
			planID = pro.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.activate(t, planID)
		}()
	}
	wg.Wait()

	active := 0
	for _, row := range f.store.Memberships.All(f.sub) {
		if row.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestAccessPredicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	access, err := f.svc.Access(ctx, f.sub, "")
	require.NoError(t, err)
	assert.False(t, access.Active)

	pro := f.plan(t, plan.TypePro, days(30), "reports")
	_, err = f.activate(t, pro.ID)
	require.NoError(t, err)

	access, err = f.svc.Access(ctx, f.sub, "reports-pro")
	require.NoError(t, err)
	assert.True(t, access.Granted)

	// past the end date the row is still active but grants nothing
	f.clock.Set(day0.AddDate(0, 0, 31))
	access, err = f.svc.Access(ctx, f.sub, "reports-pro")
	require.NoError(t, err)
	assert.False(t, access.Active)
	assert.False(t, access.Granted)

	m, err := f.svc.Current(ctx, f.sub)
	require.NoError(t, err)
	assert.True(t, m.IsActive)
}

func TestExpireLapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pro := f.plan(t, plan.TypePro, days(30))

	_, err := f.activate(t, pro.ID)
	require.NoError(t, err)

	n, err := f.svc.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(day0.AddDate(0, 0, 31))
	n, err = f.svc.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.Current(ctx, f.sub)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	history, err := f.svc.History(ctx, f.sub)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, membership.ReasonExpired, history[0].Reason)
	assert.Equal(t, day0.AddDate(0, 0, 30), history[0].EndDate)

	// a fresh purchase after the sweep starts a new period
	m, err := f.activate(t, pro.ID)
	require.NoError(t, err)
	assert.Equal(t, day0.AddDate(0, 0, 61), *m.EndDate)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	w := NewSweeper(f.svc, "not a schedule", zap.NewNop())

	err := w.Run(context.Background())
	assert.Error(t, err)
}
