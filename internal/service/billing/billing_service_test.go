package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"inspecto-service/internal/domain/payment"
	"inspecto-service/internal/domain/plan"
	"inspecto-service/internal/domain/subscriber"
	wstypes "inspecto-service/internal/domain/websocket"
	"inspecto-service/internal/gateway"
	"inspecto-service/internal/observability"
	xerrors "inspecto-service/internal/pkg/errors"
	"inspecto-service/internal/pkg/idempotency"
	"inspecto-service/internal/repository/memory"
	"inspecto-service/internal/service/ledger"
	membershipsvc "inspecto-service/internal/service/membership"
	"inspecto-service/internal/service/pricing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu          sync.Mutex
	payments    []*wstypes.PaymentEventData
	memberships []*wstypes.MembershipEventData
}

func (n *recordingNotifier) PublishPayment(_ uuid.UUID, data *wstypes.PaymentEventData) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, data)
}

func (n *recordingNotifier) PublishMembership(_ uuid.UUID, data *wstypes.MembershipEventData) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.memberships = append(n.memberships, data)
}

// scriptedGateway replays whatever event the test sets next.
type scriptedGateway struct {
	next gateway.Event
}

func (g *scriptedGateway) Name() string { return "scripted" }

func (g *scriptedGateway) CreateCheckout(context.Context, gateway.CheckoutRequest) (*gateway.Checkout, error) {
	return nil, xerrors.ErrGateway
}

func (g *scriptedGateway) VerifyWebhook(context.Context, []byte, http.Header) (*gateway.Event, error) {
	event := g.next
	return &event, nil
}

type fixture struct {
	store    *memory.Store
	scripted *scriptedGateway
	svc      *BillingService
	members  *membershipsvc.MembershipService
	idem     *idempotency.Store
	notifier *recordingNotifier
	metrics  *observability.Metrics
	now      time.Time
	sub      uuid.UUID
	basic    *plan.Plan
	pro      *plan.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{store: memory.NewStore(), now: day0, notifier: &recordingNotifier{}, scripted: &scriptedGateway{}}
	clock := func() time.Time { return f.now }

	f.members = membershipsvc.NewMembershipService(f.store.Plans, f.store.Subscribers, f.store.Memberships, f.store, zap.NewNop()).
		WithClock(clock)
	reg := gateway.NewRegistry(time.Second, gateway.NewManual(webhookSecret, "http://pay.local"), f.scripted)
	l := ledger.NewLedger(f.store.Payments, f.store.Plans, f.store.Subscribers, f.members, reg, f.store, zap.NewNop()).
		WithClock(clock)
	f.idem = idempotency.NewStore(rdb, time.Hour)
	f.metrics = observability.NewMetrics(prometheus.NewRegistry())

	f.svc = NewBillingService(Config{
		Plans:           f.store.Plans,
		Memberships:     f.store.Memberships,
		Calculator:      pricing.NewCalculator().WithClock(clock),
		Ledger:          l,
		Webhooks:        reg,
		Idempotency:     f.idem,
		Notifier:        f.notifier,
		Metrics:         f.metrics,
		DefaultProvider: gateway.ManualProvider,
		Logger:          zap.NewNop(),
	})

	sub := &subscriber.Subscriber{UserID: "u-1", Name: "Acme", Email: "ops@acme.test"}
	require.NoError(t, f.store.Subscribers.Create(ctx, sub))
	f.sub = sub.ID

	f.basic = f.plan(t, plan.TypeBasic, "30.00", "reports")
	f.pro = f.plan(t, plan.TypePro, "50.00", "exports")
	return f
}

func (f *fixture) plan(t *testing.T, typ plan.PlanType, price string, featureKey string) *plan.Plan {
	t.Helper()
	ctx := context.Background()
	feat := &plan.Feature{Key: featureKey, Name: featureKey}
	require.NoError(t, f.store.Features.Create(ctx, feat))
	thirty := 30
	p := &plan.Plan{Type: typ, Price: decimal.RequireFromString(price), DurationDays: &thirty}
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return f.store.Plans.CreateWithTx(ctx, tx, p, []uuid.UUID{feat.ID})
	}))
	return p
}

func (f *fixture) webhook(t *testing.T, transactionID string, success bool) (WebhookOutcome, error) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"transaction_id": transactionID, "success": success})
	require.NoError(t, err)
	header := http.Header{}
	header.Set(gateway.ManualSignatureHeader, gateway.ManualSignatureHeaderValue(webhookSecret, payload, time.Now().Unix()))
	return f.svc.ConfirmWebhook(context.Background(), gateway.ManualProvider, payload, header)
}

func (f *fixture) initiate(t *testing.T, planID uuid.UUID, key string) *payment.InitiateResponse {
	t.Helper()
	resp, err := f.svc.Initiate(context.Background(), f.sub, key, &payment.InitiateRequest{PlanID: planID, Currency: "usd"})
	require.NoError(t, err)
	return resp
}

func TestInitiateAndConfirmEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.initiate(t, f.pro.ID, "")
	assert.Equal(t, int64(5000), resp.BillingSummary.Base)
	assert.Equal(t, int64(5000), resp.BillingSummary.NetPayable)
	assert.Equal(t, "http://pay.local/pay/"+resp.TransactionID, resp.CheckoutURL)

	stored, err := f.store.Payments.FindByTransactionID(ctx, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "USD", stored.Currency)
	assert.Equal(t, gateway.ManualProvider, stored.Provider)

	outcome, err := f.webhook(t, resp.TransactionID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, outcome)

	m, err := f.store.Memberships.FindActiveBySubscriber(ctx, f.sub)
	require.NoError(t, err)
	assert.Equal(t, f.pro.ID, m.PlanID)
	assert.Equal(t, day0.AddDate(0, 0, 30), *m.EndDate)
	assert.Equal(t, []string{"exports"}, m.Features)

	outcome, err = f.webhook(t, resp.TransactionID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, f.store.Memberships.All(f.sub), 1)

	require.Len(t, f.notifier.payments, 1)
	assert.Equal(t, "success", f.notifier.payments[0].Status)
	require.Len(t, f.notifier.memberships, 1)
	assert.Equal(t, f.pro.ID, f.notifier.memberships[0].PlanID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhooksTotal.WithLabelValues(gateway.ManualProvider, "settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhooksTotal.WithLabelValues(gateway.ManualProvider, "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MembershipsActivatedTotal))
}

func TestUpgradeIsProrated(t *testing.T) {
	f := newFixture(t)

	basic := f.initiate(t, f.basic.ID, "")
	_, err := f.webhook(t, basic.TransactionID, true)
	require.NoError(t, err)

	f.now = day0.AddDate(0, 0, 10)
	quote, err := f.svc.Quote(context.Background(), f.sub, &payment.QuoteRequest{PlanID: f.pro.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), quote.Proration)
	assert.Equal(t, int64(3000), quote.NetPayable)

	pro := f.initiate(t, f.pro.ID, "")
	assert.Equal(t, *quote, pro.BillingSummary)

	_, err = f.webhook(t, pro.TransactionID, true)
	require.NoError(t, err)

	history, err := f.members.History(context.Background(), f.sub)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, f.basic.ID, history[0].PlanID)
	assert.Equal(t, "upgrade", string(history[0].Reason))
}

func TestRenewalQuoteHasNoProration(t *testing.T) {
	f := newFixture(t)
	first := f.initiate(t, f.pro.ID, "")
	_, err := f.webhook(t, first.TransactionID, true)
	require.NoError(t, err)

	f.now = day0.AddDate(0, 0, 25)
	quote, err := f.svc.Quote(context.Background(), f.sub, &payment.QuoteRequest{PlanID: f.pro.ID})
	require.NoError(t, err)
	assert.Zero(t, quote.Proration)
	assert.Equal(t, int64(5000), quote.NetPayable)
}

func TestInitiateRejectsMismatchedAmount(t *testing.T) {
	f := newFixture(t)
	wrong := int64(4999)
	_, err := f.svc.Initiate(context.Background(), f.sub, "", &payment.InitiateRequest{
		PlanID: f.pro.ID, AmountMinor: &wrong, Currency: "USD",
	})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	right := int64(5000)
	_, err = f.svc.Initiate(context.Background(), f.sub, "", &payment.InitiateRequest{
		PlanID: f.pro.ID, AmountMinor: &right, Currency: "USD",
	})
	assert.NoError(t, err)
}

func TestInitiateUnknownPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Initiate(context.Background(), f.sub, "", &payment.InitiateRequest{PlanID: uuid.New(), Currency: "USD"})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestInitiateWithDiscountAndTax(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Initiate(context.Background(), f.sub, "", &payment.InitiateRequest{
		PlanID:   f.pro.ID,
		Currency: "USD",
		Discount: &payment.Discount{Kind: payment.KindPercentage, Value: decimal.NewFromInt(10)},
		Tax:      &payment.Tax{Kind: payment.KindPercentage, Value: decimal.NewFromInt(16)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), resp.BillingSummary.Discount)
	assert.Equal(t, int64(720), resp.BillingSummary.Tax)
	assert.Equal(t, int64(5220), resp.BillingSummary.NetPayable)
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	f := newFixture(t)

	first := f.initiate(t, f.pro.ID, "key-1")
	again := f.initiate(t, f.pro.ID, "key-1")
	assert.Equal(t, first.TransactionID, again.TransactionID)
	assert.Equal(t, first.PaymentID, again.PaymentID)

	other := f.initiate(t, f.pro.ID, "key-2")
	assert.NotEqual(t, first.TransactionID, other.TransactionID)

	payments, total, err := f.store.Payments.ListBySubscriber(context.Background(), f.sub, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, payments, 2)
}

func TestIdempotencyKeyInFlightConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.idem.Reserve(ctx, f.sub.String(), "busy")
	require.NoError(t, err)

	_, err = f.svc.Initiate(ctx, f.sub, "busy", &payment.InitiateRequest{PlanID: f.pro.ID, Currency: "USD"})
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestFailedInitiateReleasesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, f.sub, "retry", &payment.InitiateRequest{PlanID: uuid.New(), Currency: "USD"})
	require.ErrorIs(t, err, xerrors.ErrNotFound)

	resp := f.initiate(t, f.pro.ID, "retry")
	assert.NotEmpty(t, resp.TransactionID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, f.pro.ID, "")

	payload := []byte(`{"transaction_id":"` + resp.TransactionID + `","success":true}`)
	header := http.Header{}
	header.Set(gateway.ManualSignatureHeader, gateway.ManualSignatureHeaderValue("wrong", payload, time.Now().Unix()))

	outcome, err := f.svc.ConfirmWebhook(context.Background(), "", payload, header)
	require.ErrorIs(t, err, xerrors.ErrInvalidSignature)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, http.StatusBadRequest, WebhookStatus(err))

	stored, err := f.store.Payments.FindByTransactionID(context.Background(), resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, stored.Status)
}

func TestWebhookProcessingFailuresAreAcknowledged(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.webhook(t, "TXN_UNKNOWN", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	outcome, err = f.svc.ConfirmWebhook(context.Background(), "bitcoin", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, http.StatusOK, WebhookStatus(err))
}

func TestWebhookWithoutOutcomeIsIgnored(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"event":"checkout.viewed"}`)
	header := http.Header{}
	header.Set(gateway.ManualSignatureHeader, gateway.ManualSignatureHeaderValue(webhookSecret, payload, time.Now().Unix()))

	outcome, err := f.svc.ConfirmWebhook(context.Background(), gateway.ManualProvider, payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestDeclinedAttemptKeepsPaymentPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.initiate(t, f.pro.ID, "")

	f.scripted.next = gateway.Event{Type: "transaction.payment_failed", TransactionID: resp.TransactionID, Ignored: true}
	outcome, err := f.svc.ConfirmWebhook(ctx, "scripted", nil, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	stored, err := f.store.Payments.FindByTransactionID(ctx, resp.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, stored.Status)

	f.scripted.next = gateway.Event{Type: "transaction.completed", TransactionID: resp.TransactionID, Success: true}
	outcome, err = f.svc.ConfirmWebhook(ctx, "scripted", nil, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, outcome)

	m, err := f.store.Memberships.FindActiveBySubscriber(ctx, f.sub)
	require.NoError(t, err)
	assert.Equal(t, f.pro.ID, m.PlanID)
}

func TestFailedPaymentNotifiesWithoutMembership(t *testing.T) {
	f := newFixture(t)
	resp := f.initiate(t, f.pro.ID, "")

	outcome, err := f.webhook(t, resp.TransactionID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, outcome)

	require.Len(t, f.notifier.payments, 1)
	assert.Equal(t, "failed", f.notifier.payments[0].Status)
	assert.Empty(t, f.notifier.memberships)

	_, err = f.store.Memberships.FindActiveBySubscriber(context.Background(), f.sub)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}
