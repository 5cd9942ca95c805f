// internal/handlers/subscriber/subscriber_handler.go
package subscriber

import (
	"context"
	"net/http"

	"inspecto-service/internal/domain/subscriber"
	"inspecto-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Subscribers interface {
	Create(ctx context.Context, req *subscriber.CreateSubscriberRequest) (*subscriber.Subscriber, error)
	Get(ctx context.Context, id uuid.UUID) (*subscriber.Subscriber, error)
}

type SubscriberHandler struct {
	subscribers Subscribers
}

func NewSubscriberHandler(subscribers Subscribers) *SubscriberHandler {
	return &SubscriberHandler{subscribers: subscribers}
}

func (h *SubscriberHandler) Create(c *gin.Context) {
	var req subscriber.CreateSubscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}
	sub, err := h.subscribers.Create(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create subscriber", err)
		return
	}
	response.Success(c, http.StatusCreated, "subscriber created", sub)
}

func (h *SubscriberHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "invalid id", err)
		return
	}
	sub, err := h.subscribers.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "subscriber not found", err)
		return
	}
	response.Success(c, http.StatusOK, "subscriber retrieved", sub)
}
