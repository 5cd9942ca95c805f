// internal/app/router.go
package app

import (
	membershipHandler "inspecto-service/internal/handlers/membership"
	paymentHandler "inspecto-service/internal/handlers/payment"
	planHandler "inspecto-service/internal/handlers/plan"
	subscriberHandler "inspecto-service/internal/handlers/subscriber"
	wsHandler "inspecto-service/internal/handlers/websocket"
	"inspecto-service/internal/middleware"
	"inspecto-service/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Handlers struct {
	PaymentHandler    *paymentHandler.PaymentHandler
	PlanHandler       *planHandler.PlanHandler
	MembershipHandler *membershipHandler.MembershipHandler
	SubscriberHandler *subscriberHandler.SubscriberHandler
	WSHandler         *wsHandler.WebSocketHandler
	AuthMiddleware    *middleware.AuthMiddleware

	// InitiateLimit guards payment initiation; nil disables it.
	InitiateLimit gin.HandlerFunc
	Gatherer      prometheus.Gatherer
	Metrics       *observability.Metrics
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	if h.Metrics != nil {
		r.Use(h.Metrics.GinMiddleware())
	}
	if h.Gatherer != nil {
		r.GET("/metrics", observability.Handler(h.Gatherer))
	}

	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Catalog (public) ====================
	plans := api.Group("/plans")
	{
		plans.GET("", h.PlanHandler.ListPlans)
		plans.GET("/:id", h.PlanHandler.GetPlan)
	}
	features := api.Group("/features")
	{
		features.GET("", h.PlanHandler.ListFeatures)
		features.GET("/:id", h.PlanHandler.GetFeature)
	}

	// ==================== Payments ====================
	// Provider callbacks carry no token; the payload signature authenticates them.
	api.POST("/payments/webhook", h.PaymentHandler.Webhook)
	api.POST("/payments/webhook/:provider", h.PaymentHandler.Webhook)

	payments := api.Group("/payments")
	payments.Use(h.AuthMiddleware.Auth())
	{
		initiate := []gin.HandlerFunc{h.PaymentHandler.Initiate}
		if h.InitiateLimit != nil {
			initiate = append([]gin.HandlerFunc{h.InitiateLimit}, initiate...)
		}
		payments.POST("/initiate", initiate...)
		payments.POST("/quote", h.PaymentHandler.Quote)
		payments.GET("", h.PaymentHandler.List)
		payments.GET("/:transaction_id", h.PaymentHandler.Get)
	}

	// ==================== Memberships ====================
	memberships := api.Group("/memberships")
	memberships.Use(h.AuthMiddleware.Auth())
	{
		memberships.GET("/me", h.MembershipHandler.Current)
		memberships.GET("/me/history", h.MembershipHandler.History)
		memberships.GET("/me/access", h.MembershipHandler.Access) // ?feature=xxx
	}

	// ==================== ADMIN ROUTES ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		adminPlans := admin.Group("/plans")
		{
			adminPlans.POST("", h.PlanHandler.CreatePlan)
			adminPlans.PUT("/:id", h.PlanHandler.UpdatePlan)
			adminPlans.DELETE("/:id", h.PlanHandler.DeletePlan)
		}

		adminFeatures := admin.Group("/features")
		{
			adminFeatures.POST("", h.PlanHandler.CreateFeature)
			adminFeatures.PUT("/:id", h.PlanHandler.UpdateFeature)
			adminFeatures.DELETE("/:id", h.PlanHandler.DeleteFeature)
		}

		admin.POST("/subscribers", h.SubscriberHandler.Create)
		admin.GET("/subscribers/:id", h.SubscriberHandler.Get)
		admin.POST("/payments/:transaction_id/rollback", h.PaymentHandler.Rollback)
		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}
}
