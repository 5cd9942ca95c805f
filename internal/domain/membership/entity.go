// internal/domain/membership/entity.go
package membership

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type HistoryReason string

const (
	ReasonExpired HistoryReason = "expired"
	ReasonUpgrade HistoryReason = "upgrade"
)

// Membership is a subscriber's plan period. Rows with IsActive=false are
// terminal and never written again.
type Membership struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	SubscriberID uuid.UUID  `json:"subscriber_id" db:"subscriber_id"`
	PlanID       uuid.UUID  `json:"plan_id" db:"plan_id"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	StartDate    time.Time  `json:"start_date" db:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty" db:"end_date"`
	Features     []string   `json:"features" db:"features"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// GrantsAccess is the access-control predicate: the row must be active and
// its period must not have ended. A nil end date never expires.
func (m *Membership) GrantsAccess(now time.Time) bool {
	if m == nil || !m.IsActive {
		return false
	}
	return m.EndDate == nil || m.EndDate.After(now)
}

// HasFeature checks the feature snapshot taken at activation.
func (m *Membership) HasFeature(key string) bool {
	return m != nil && slices.Contains(m.Features, key)
}

// History is an append-only record of an ended membership period.
type History struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	SubscriberID uuid.UUID     `json:"subscriber_id" db:"subscriber_id"`
	PlanID       uuid.UUID     `json:"plan_id" db:"plan_id"`
	StartDate    time.Time     `json:"start_date" db:"start_date"`
	EndDate      time.Time     `json:"end_date" db:"end_date"`
	Reason       HistoryReason `json:"reason" db:"reason"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}
