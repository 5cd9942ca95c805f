// internal/handlers/membership/membership_handler.go
package membership

import (
	"context"
	"net/http"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/middleware"
	"inspecto-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Memberships interface {
	Current(ctx context.Context, subscriberID uuid.UUID) (*membership.Membership, error)
	History(ctx context.Context, subscriberID uuid.UUID) ([]*membership.History, error)
	Access(ctx context.Context, subscriberID uuid.UUID, feature string) (*membership.AccessResponse, error)
}

type MembershipHandler struct {
	memberships Memberships
}

func NewMembershipHandler(memberships Memberships) *MembershipHandler {
	return &MembershipHandler{memberships: memberships}
}

func (h *MembershipHandler) Current(c *gin.Context) {
	m, err := h.memberships.Current(c.Request.Context(), middleware.MustGetSubscriberID(c))
	if err != nil {
		response.FromError(c, "no membership found", err)
		return
	}
	response.Success(c, http.StatusOK, "membership retrieved", m)
}

func (h *MembershipHandler) History(c *gin.Context) {
	history, err := h.memberships.History(c.Request.Context(), middleware.MustGetSubscriberID(c))
	if err != nil {
		response.FromError(c, "failed to load membership history", err)
		return
	}
	response.Success(c, http.StatusOK, "membership history retrieved", history)
}

// Access reports whether the caller may use ?feature= right now.
func (h *MembershipHandler) Access(c *gin.Context) {
	access, err := h.memberships.Access(c.Request.Context(), middleware.MustGetSubscriberID(c), c.Query("feature"))
	if err != nil {
		response.FromError(c, "failed to check access", err)
		return
	}
	response.Success(c, http.StatusOK, "access evaluated", access)
}
