// internal/domain/plan/dto.go
package plan

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreatePlanRequest struct {
	Type         PlanType        `json:"type" binding:"required,oneof=basic pro enterprise"`
	Price        decimal.Decimal `json:"price"`
	DurationDays *int            `json:"duration_days,omitempty" binding:"omitempty,min=1"`
	MaxClients   *int            `json:"max_clients,omitempty" binding:"omitempty,min=0"`
	MaxEmployees *int            `json:"max_employees,omitempty" binding:"omitempty,min=0"`
	MaxAssets    *int            `json:"max_assets,omitempty" binding:"omitempty,min=0"`
	FeatureIDs   []uuid.UUID     `json:"feature_ids" binding:"required,min=1"`
}

// UpdatePlanRequest only carries the fields that stay editable once a plan
// has been sold: price and quotas.
type UpdatePlanRequest struct {
	Price        *decimal.Decimal `json:"price,omitempty"`
	MaxClients   *int             `json:"max_clients,omitempty" binding:"omitempty,min=0"`
	MaxEmployees *int             `json:"max_employees,omitempty" binding:"omitempty,min=0"`
	MaxAssets    *int             `json:"max_assets,omitempty" binding:"omitempty,min=0"`
}

type CreateFeatureRequest struct {
	Key         string  `json:"key" binding:"required,min=2,max=100"`
	Name        string  `json:"name" binding:"required,min=2,max=255"`
	Description *string `json:"description,omitempty"`
}

type UpdateFeatureRequest struct {
	Name        *string `json:"name,omitempty" binding:"omitempty,min=2,max=255"`
	Description *string `json:"description,omitempty"`
}
