// internal/domain/payment/dto.go
package payment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Discount is a percent (0-100) or a fixed amount in minor units.
type Discount struct {
	Kind  AdjustmentKind  `json:"type" binding:"required,oneof=PERCENTAGE FIXED"`
	Value decimal.Decimal `json:"value"`
	Cap   *int64          `json:"max_discount_minor,omitempty"`
}

type Tax struct {
	Kind      AdjustmentKind  `json:"type" binding:"required,oneof=PERCENTAGE FIXED"`
	Value     decimal.Decimal `json:"value"`
	Inclusive bool            `json:"inclusive"`
	Cap       *int64          `json:"max_tax_minor,omitempty"`
}

// BillingSummary breaks down what a subscriber owes, all in minor units.
type BillingSummary struct {
	Base       int64 `json:"base"`
	Proration  int64 `json:"proration"`
	Discount   int64 `json:"discount"`
	Tax        int64 `json:"tax"`
	Insurance  int64 `json:"insurance"`
	NetPayable int64 `json:"net_payable"`
}

type InitiateRequest struct {
	PlanID      uuid.UUID `json:"plan_id" binding:"required"`
	AmountMinor *int64    `json:"amount_minor,omitempty" binding:"omitempty,min=0"`
	Discount    *Discount `json:"discount,omitempty"`
	Tax         *Tax      `json:"tax,omitempty"`
	Currency    string    `json:"currency" binding:"required,len=3"`
	Provider    string    `json:"provider,omitempty"`
}

type InitiateResponse struct {
	PaymentID      uuid.UUID      `json:"payment_id"`
	TransactionID  string         `json:"transaction_id"`
	BillingSummary BillingSummary `json:"billing_summary"`
	CheckoutURL    string         `json:"checkout_url"`
}

type QuoteRequest struct {
	PlanID   uuid.UUID `json:"plan_id" binding:"required"`
	Discount *Discount `json:"discount,omitempty"`
	Tax      *Tax      `json:"tax,omitempty"`
}

type ListPaymentsResponse struct {
	Payments    []*Payment `json:"payments"`
	Total       int64      `json:"total"`
	Page        int        `json:"page"`
	Limit       int        `json:"limit"`
	TotalPages  int        `json:"total_pages"`
	HasNext     bool       `json:"has_next"`
	HasPrevious bool       `json:"has_previous"`
}

// Event names pushed to subscribers over the websocket.
const (
	EventPaymentUpdated      = "payment.updated"
	EventMembershipActivated = "membership.activated"
)
