// internal/handlers/plan/plan_handler.go
package plan

import (
	"context"
	"net/http"

	"inspecto-service/internal/domain/plan"
	"inspecto-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Catalog interface {
	CreatePlan(ctx context.Context, req *plan.CreatePlanRequest) (*plan.Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
	ListPlans(ctx context.Context) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, id uuid.UUID, req *plan.UpdatePlanRequest) (*plan.Plan, error)
	DeletePlan(ctx context.Context, id uuid.UUID) error

	CreateFeature(ctx context.Context, req *plan.CreateFeatureRequest) (*plan.Feature, error)
	GetFeature(ctx context.Context, id uuid.UUID) (*plan.Feature, error)
	ListFeatures(ctx context.Context) ([]*plan.Feature, error)
	UpdateFeature(ctx context.Context, id uuid.UUID, req *plan.UpdateFeatureRequest) (*plan.Feature, error)
	DeleteFeature(ctx context.Context, id uuid.UUID) error
}

type PlanHandler struct {
	catalog Catalog
}

func NewPlanHandler(catalog Catalog) *PlanHandler {
	return &PlanHandler{catalog: catalog}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "invalid id", err)
		return uuid.Nil, false
	}
	return id, true
}

// ========== Public Endpoints ==========

func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.catalog.ListPlans(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.catalog.GetPlan(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "plan not found", err)
		return
	}
	response.Success(c, http.StatusOK, "plan retrieved", p)
}

func (h *PlanHandler) ListFeatures(c *gin.Context) {
	features, err := h.catalog.ListFeatures(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list features", err)
		return
	}
	response.Success(c, http.StatusOK, "features retrieved", features)
}

func (h *PlanHandler) GetFeature(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	f, err := h.catalog.GetFeature(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "feature not found", err)
		return
	}
	response.Success(c, http.StatusOK, "feature retrieved", f)
}

// ========== Admin Endpoints ==========

func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var req plan.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}
	p, err := h.catalog.CreatePlan(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create plan", err)
		return
	}
	response.Success(c, http.StatusCreated, "plan created", p)
}

func (h *PlanHandler) UpdatePlan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req plan.UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}
	p, err := h.catalog.UpdatePlan(c.Request.Context(), id, &req)
	if err != nil {
		response.FromError(c, "failed to update plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan updated", p)
}

func (h *PlanHandler) DeletePlan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeletePlan(c.Request.Context(), id); err != nil {
		response.FromError(c, "failed to delete plan", err)
		return
	}
	response.Success(c, http.StatusOK, "plan deleted", nil)
}

func (h *PlanHandler) CreateFeature(c *gin.Context) {
	var req plan.CreateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}
	f, err := h.catalog.CreateFeature(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create feature", err)
		return
	}
	response.Success(c, http.StatusCreated, "feature created", f)
}

func (h *PlanHandler) UpdateFeature(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req plan.UpdateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}
	f, err := h.catalog.UpdateFeature(c.Request.Context(), id, &req)
	if err != nil {
		response.FromError(c, "failed to update feature", err)
		return
	}
	response.Success(c, http.StatusOK, "feature updated", f)
}

func (h *PlanHandler) DeleteFeature(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteFeature(c.Request.Context(), id); err != nil {
		response.FromError(c, "failed to delete feature", err)
		return
	}
	response.Success(c, http.StatusOK, "feature deleted", nil)
}
