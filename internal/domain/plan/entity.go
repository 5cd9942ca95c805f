// internal/domain/plan/entity.go
package plan

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PlanType string

const (
	TypeBasic      PlanType = "basic"
	TypePro        PlanType = "pro"
	TypeEnterprise PlanType = "enterprise"
)

func (t PlanType) Valid() bool {
	switch t {
	case TypeBasic, TypePro, TypeEnterprise:
		return true
	}
	return false
}

type Plan struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Type PlanType  `json:"type" db:"type"`

	// Price is in major units; billing works on PriceMinor.
	Price        decimal.Decimal `json:"price" db:"price"`
	DurationDays *int            `json:"duration_days,omitempty" db:"duration_days"`

	// Quotas (nil = unlimited)
	MaxClients   *int `json:"max_clients,omitempty" db:"max_clients"`
	MaxEmployees *int `json:"max_employees,omitempty" db:"max_employees"`
	MaxAssets    *int `json:"max_assets,omitempty" db:"max_assets"`

	Features []PlanFeature `json:"features"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PriceMinor converts the major-unit price to minor units, rounding half up.
func (p *Plan) PriceMinor() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

// HasDuration reports whether the plan expires.
func (p *Plan) HasDuration() bool {
	return p.DurationDays != nil && *p.DurationDays > 0
}

// EnabledFeatureKeys is the snapshot copied onto a membership at activation.
func (p *Plan) EnabledFeatureKeys() []string {
	keys := make([]string, 0, len(p.Features))
	for _, f := range p.Features {
		if f.Enabled {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

type Feature struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Key         string    `json:"key" db:"key"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// PlanFeature is a feature grant on a plan.
type PlanFeature struct {
	FeatureID uuid.UUID `json:"feature_id" db:"feature_id"`
	Key       string    `json:"key" db:"key"`
	Name      string    `json:"name" db:"name"`
	Enabled   bool      `json:"enabled" db:"enabled"`
}
