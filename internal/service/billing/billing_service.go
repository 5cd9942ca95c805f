// internal/service/billing/billing_service.go
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/domain/payment"
	"inspecto-service/internal/domain/plan"
	wstypes "inspecto-service/internal/domain/websocket"
	"inspecto-service/internal/gateway"
	"inspecto-service/internal/observability"
	xerrors "inspecto-service/internal/pkg/errors"
	"inspecto-service/internal/pkg/idempotency"
	"inspecto-service/internal/service/ledger"
	"inspecto-service/internal/service/pricing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PlanFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
}

type MembershipFinder interface {
	FindActiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*membership.Membership, error)
}

type Ledger interface {
	Initiate(ctx context.Context, params ledger.InitiateParams) (*ledger.InitiateResult, error)
	Confirm(ctx context.Context, transactionID string, success bool) (*ledger.Settlement, error)
}

type WebhookVerifier interface {
	VerifyWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (*gateway.Event, error)
}

// IdempotencyStore remembers client-keyed initiate responses.
type IdempotencyStore interface {
	Reserve(ctx context.Context, scope, key string) ([]byte, error)
	Complete(ctx context.Context, scope, key string, payload []byte) error
	Release(ctx context.Context, scope, key string) error
}

// Notifier pushes committed billing events to connected subscribers.
type Notifier interface {
	PublishPayment(subscriberID uuid.UUID, data *wstypes.PaymentEventData)
	PublishMembership(subscriberID uuid.UUID, data *wstypes.MembershipEventData)
}

// WebhookOutcome is how a callback was handled.
type WebhookOutcome string

const (
	OutcomeSettled   WebhookOutcome = "settled"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeRejected  WebhookOutcome = "rejected"
	OutcomeError     WebhookOutcome = "error"
)

type BillingService struct {
	plans           PlanFinder
	memberships     MembershipFinder
	calculator      *pricing.Calculator
	ledger          Ledger
	webhooks        WebhookVerifier
	idempotency     IdempotencyStore
	notifier        Notifier
	metrics         *observability.Metrics
	defaultProvider string
	logger          *zap.Logger
}

type Config struct {
	Plans           PlanFinder
	Memberships     MembershipFinder
	Calculator      *pricing.Calculator
	Ledger          Ledger
	Webhooks        WebhookVerifier
	Idempotency     IdempotencyStore // optional
	Notifier        Notifier         // optional
	Metrics         *observability.Metrics
	DefaultProvider string
	Logger          *zap.Logger
}

func NewBillingService(cfg Config) *BillingService {
	if cfg.Calculator == nil {
		cfg.Calculator = pricing.NewCalculator()
	}
	return &BillingService{
		plans:           cfg.Plans,
		memberships:     cfg.Memberships,
		calculator:      cfg.Calculator,
		ledger:          cfg.Ledger,
		webhooks:        cfg.Webhooks,
		idempotency:     cfg.Idempotency,
		notifier:        cfg.Notifier,
		metrics:         cfg.Metrics,
		defaultProvider: cfg.DefaultProvider,
		logger:          cfg.Logger,
	}
}

// Quote computes what the subscriber would owe for planID right now.
func (s *BillingService) Quote(ctx context.Context, subscriberID uuid.UUID, req *payment.QuoteRequest) (*payment.BillingSummary, error) {
	p, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	summary, err := s.summarize(ctx, subscriberID, p, req.Discount, req.Tax)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *BillingService) summarize(ctx context.Context, subscriberID uuid.UUID, p *plan.Plan, discount *payment.Discount, tax *payment.Tax) (payment.BillingSummary, error) {
	current, err := s.currentPeriod(ctx, subscriberID)
	if err != nil {
		return payment.BillingSummary{}, err
	}
	return s.calculator.NetPayable(p.PriceMinor(), discount, tax, current, p.ID), nil
}

// currentPeriod loads what proration needs; nil when there is no membership.
func (s *BillingService) currentPeriod(ctx context.Context, subscriberID uuid.UUID) (*pricing.Period, error) {
	m, err := s.memberships.FindActiveBySubscriber(ctx, subscriberID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	currentPlan, err := s.plans.FindByID(ctx, m.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current plan: %w", err)
	}

	return &pricing.Period{
		PlanID:         m.PlanID,
		IsActive:       m.IsActive,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		PlanPriceMinor: currentPlan.PriceMinor(),
	}, nil
}

// Initiate prices the plan change and opens a checkout. With a non-empty
// idempotencyKey a retried request gets the first response back instead of
// a second payment.
func (s *BillingService) Initiate(ctx context.Context, subscriberID uuid.UUID, idempotencyKey string, req *payment.InitiateRequest) (resp *payment.InitiateResponse, err error) {
	ctx, span := observability.StartSpan(ctx, "billing.Initiate",
		attribute.String("subscriber_id", subscriberID.String()),
		attribute.String("plan_id", req.PlanID.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	if idempotencyKey == "" || s.idempotency == nil {
		return s.initiate(ctx, subscriberID, req)
	}

	scope := subscriberID.String()
	stored, err := s.idempotency.Reserve(ctx, scope, idempotencyKey)
	if errors.Is(err, idempotency.ErrInProgress) {
		return nil, fmt.Errorf("%w: %w", xerrors.ErrConflict, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if stored != nil {
		var replay payment.InitiateResponse
		if err := json.Unmarshal(stored, &replay); err != nil {
			return nil, fmt.Errorf("failed to decode stored response: %w", err)
		}
		s.logger.Info("initiate replayed from idempotency key",
			zap.String("subscriber_id", scope),
			zap.String("transaction_id", replay.TransactionID),
		)
		return &replay, nil
	}

	resp, err = s.initiate(ctx, subscriberID, req)
	if err != nil {
		if relErr := s.idempotency.Release(context.WithoutCancel(ctx), scope, idempotencyKey); relErr != nil {
			s.logger.Warn("failed to release idempotency key", zap.Error(relErr))
		}
		return nil, err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	if err := s.idempotency.Complete(ctx, scope, idempotencyKey, payload); err != nil {
		s.logger.Warn("failed to store idempotent response",
			zap.String("transaction_id", resp.TransactionID),
			zap.Error(err),
		)
	}
	return resp, nil
}

func (s *BillingService) initiate(ctx context.Context, subscriberID uuid.UUID, req *payment.InitiateRequest) (*payment.InitiateResponse, error) {
	p, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if req.AmountMinor != nil && *req.AmountMinor != p.PriceMinor() {
		return nil, fmt.Errorf("%w: amount_minor %d does not match plan price %d",
			xerrors.ErrInvalidInput, *req.AmountMinor, p.PriceMinor())
	}

	summary, err := s.summarize(ctx, subscriberID, p, req.Discount, req.Tax)
	if err != nil {
		return nil, err
	}

	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}
	currency := strings.ToUpper(req.Currency)

	start := time.Now()
	result, err := s.ledger.Initiate(ctx, ledger.InitiateParams{
		PlanID:       p.ID,
		SubscriberID: subscriberID,
		Summary:      summary,
		Currency:     currency,
		Provider:     provider,
	})
	s.metrics.ObserveInitiate(provider, currency, summary.NetPayable, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return &payment.InitiateResponse{
		PaymentID:      result.Payment.ID,
		TransactionID:  result.Payment.TransactionID,
		BillingSummary: result.BillingSummary,
		CheckoutURL:    result.CheckoutURL,
	}, nil
}

// ConfirmWebhook verifies a provider callback and settles the payment it
// names. Only a signature failure is returned as an error wrapping
// ErrInvalidSignature; other failures are logged and reported as OutcomeError
// so the provider does not retry them.
func (s *BillingService) ConfirmWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (outcome WebhookOutcome, err error) {
	if provider == "" {
		provider = s.defaultProvider
	}
	ctx, span := observability.StartSpan(ctx, "billing.ConfirmWebhook", attribute.String("provider", provider))
	defer func() {
		s.metrics.ObserveWebhook(provider, string(outcome))
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		observability.EndSpan(span, err)
	}()

	event, err := s.webhooks.VerifyWebhook(ctx, provider, payload, header)
	if err != nil {
		if errors.Is(err, xerrors.ErrInvalidSignature) {
			s.logger.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
			return OutcomeRejected, err
		}
		s.logger.Error("webhook could not be processed", zap.String("provider", provider), zap.Error(err))
		return OutcomeError, nil
	}
	if event.Ignored || event.TransactionID == "" {
		s.logger.Debug("webhook ignored",
			zap.String("provider", provider),
			zap.String("type", event.Type),
		)
		return OutcomeIgnored, nil
	}

	settled, err := s.ledger.Confirm(ctx, event.TransactionID, event.Success)
	if err != nil {
		s.logger.Error("failed to confirm payment",
			zap.String("provider", provider),
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
		return OutcomeError, nil
	}
	if settled == nil {
		return OutcomeDuplicate, nil
	}

	s.metrics.ObserveSettlement(provider, string(settled.Payment.Status), settled.Membership != nil)
	s.publish(settled)
	return OutcomeSettled, nil
}

func (s *BillingService) publish(settled *ledger.Settlement) {
	if s.notifier == nil {
		return
	}
	pay := settled.Payment
	s.notifier.PublishPayment(pay.SubscriberID, &wstypes.PaymentEventData{
		TransactionID: pay.TransactionID,
		PlanID:        pay.PlanID,
		Status:        string(pay.Status),
		Amount:        pay.Amount,
		Currency:      pay.Currency,
		PaidAt:        pay.PaidAt,
	})
	if m := settled.Membership; m != nil {
		s.notifier.PublishMembership(pay.SubscriberID, &wstypes.MembershipEventData{
			MembershipID: m.ID,
			PlanID:       m.PlanID,
			StartDate:    m.StartDate,
			EndDate:      m.EndDate,
			Features:     m.Features,
		})
	}
}

// WebhookStatus is the HTTP status a provider should see. Anything but a
// signature failure is acknowledged.
func WebhookStatus(err error) int {
	if errors.Is(err, xerrors.ErrInvalidSignature) {
		return http.StatusBadRequest
	}
	return http.StatusOK
}
