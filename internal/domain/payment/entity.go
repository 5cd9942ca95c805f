// internal/domain/payment/entity.go
package payment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Payment is one billing attempt. TransactionID is its idempotency key.
type Payment struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	PlanID        uuid.UUID  `json:"plan_id" db:"plan_id"`
	SubscriberID  uuid.UUID  `json:"subscriber_id" db:"subscriber_id"`
	Amount        int64      `json:"amount" db:"amount"` // minor units
	Currency      string     `json:"currency" db:"currency"`
	Provider      string     `json:"provider" db:"provider"`
	TransactionID string     `json:"transaction_id" db:"transaction_id"`
	Status        Status     `json:"status" db:"status"`
	CheckoutRef   *string    `json:"checkout_ref,omitempty" db:"checkout_ref"`
	CheckoutURL   *string    `json:"checkout_url,omitempty" db:"checkout_url"`
	PaidAt        *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

type AdjustmentKind string

const (
	KindPercentage AdjustmentKind = "PERCENTAGE"
	KindFixed      AdjustmentKind = "FIXED"
)
