// internal/handlers/payment/payment_handler.go
package payment

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"inspecto-service/internal/domain/payment"
	"inspecto-service/internal/middleware"
	"inspecto-service/internal/pkg/response"
	"inspecto-service/internal/service/billing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	maxWebhookBody       = 1 << 20
)

type Billing interface {
	Initiate(ctx context.Context, subscriberID uuid.UUID, idempotencyKey string, req *payment.InitiateRequest) (*payment.InitiateResponse, error)
	Quote(ctx context.Context, subscriberID uuid.UUID, req *payment.QuoteRequest) (*payment.BillingSummary, error)
	ConfirmWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (billing.WebhookOutcome, error)
}

type Ledger interface {
	List(ctx context.Context, subscriberID uuid.UUID, page, limit int) (*payment.ListPaymentsResponse, error)
	Get(ctx context.Context, subscriberID uuid.UUID, transactionID string) (*payment.Payment, error)
	Rollback(ctx context.Context, transactionID string) error
}

type PaymentHandler struct {
	billing Billing
	ledger  Ledger
	logger  *zap.Logger
}

func NewPaymentHandler(billing Billing, ledger Ledger, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{billing: billing, ledger: ledger, logger: logger}
}

// Initiate starts a payment for the caller's plan change.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req payment.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	subscriberID := middleware.MustGetSubscriberID(c)
	key := c.GetHeader(HeaderIdempotencyKey)
	if len(key) > 255 {
		response.ValidationError(c, "idempotency key too long", nil)
		return
	}

	result, err := h.billing.Initiate(c.Request.Context(), subscriberID, key, &req)
	if err != nil {
		response.FromError(c, "failed to initiate payment", err)
		return
	}

	response.Success(c, http.StatusCreated, "payment initiated", result)
}

// Quote prices a plan change without recording anything.
func (h *PaymentHandler) Quote(c *gin.Context) {
	var req payment.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	summary, err := h.billing.Quote(c.Request.Context(), middleware.MustGetSubscriberID(c), &req)
	if err != nil {
		response.FromError(c, "failed to compute quote", err)
		return
	}

	response.Success(c, http.StatusOK, "quote computed", summary)
}

// Webhook acknowledges provider callbacks. Only a bad signature is refused.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("failed to read webhook body", zap.String("provider", provider), zap.Error(err))
		response.Success(c, http.StatusOK, "received", nil)
		return
	}

	outcome, err := h.billing.ConfirmWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if status := billing.WebhookStatus(err); status != http.StatusOK {
		response.Error(c, status, "webhook signature verification failed", nil)
		return
	}

	h.logger.Debug("webhook handled", zap.String("provider", provider), zap.String("outcome", string(outcome)))
	response.Success(c, http.StatusOK, "received", nil)
}

// List returns the caller's payments, newest first.
func (h *PaymentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.ledger.List(c.Request.Context(), middleware.MustGetSubscriberID(c), page, limit)
	if err != nil {
		response.FromError(c, "failed to list payments", err)
		return
	}

	response.Success(c, http.StatusOK, "payments retrieved", result)
}

func (h *PaymentHandler) Get(c *gin.Context) {
	p, err := h.ledger.Get(c.Request.Context(), middleware.MustGetSubscriberID(c), c.Param("transaction_id"))
	if err != nil {
		response.FromError(c, "payment not found", err)
		return
	}

	response.Success(c, http.StatusOK, "payment retrieved", p)
}

// Rollback fails a payment stuck in pending (admin).
func (h *PaymentHandler) Rollback(c *gin.Context) {
	txnID := c.Param("transaction_id")
	if err := h.ledger.Rollback(c.Request.Context(), txnID); err != nil {
		response.FromError(c, "failed to roll back payment", err)
		return
	}

	jti, _ := middleware.GetJTI(c)
	h.logger.Info("payment rolled back by admin",
		zap.String("transaction_id", txnID),
		zap.Strings("roles", middleware.GetRoles(c)),
		zap.String("jti", jti),
	)
	response.Success(c, http.StatusOK, "payment rolled back", nil)
}
