// internal/middleware/membership_middleware.go
package middleware

import (
	"context"
	"net/http"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccessChecker evaluates the membership access predicate.
type AccessChecker interface {
	Access(ctx context.Context, subscriberID uuid.UUID, feature string) (*membership.AccessResponse, error)
}

// RequireActiveMembership blocks subscribers without a current paid period.
// Use after Auth().
func RequireActiveMembership(checker AccessChecker) gin.HandlerFunc {
	return RequireFeature(checker)
}

// RequireFeature blocks subscribers whose membership does not include every
// feature key. With no keys it only requires an active membership.
func RequireFeature(checker AccessChecker, features ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subscriberID, ok := GetSubscriberID(c)
		if !ok {
			response.Error(c, http.StatusUnauthorized, "authentication required", nil)
			return
		}

		keys := features
		if len(keys) == 0 {
			keys = []string{""}
		}
		for _, key := range keys {
			access, err := checker.Access(c.Request.Context(), subscriberID, key)
			if err != nil {
				response.FromError(c, "failed to check membership", err)
				return
			}
			if !access.Active {
				response.Error(c, http.StatusPaymentRequired, "an active membership is required", nil)
				return
			}
			if !access.Granted {
				response.Error(c, http.StatusForbidden, "your plan does not include this feature", nil,
					map[string]any{"feature": key})
				return
			}
		}
		c.Next()
	}
}
