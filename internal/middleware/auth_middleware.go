// internal/middleware/auth_middleware.go
package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"inspecto-service/internal/pkg/jwt"
	"inspecto-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ctxSubscriberID = "subscriber_id"
	ctxUserID       = "user_id"
	ctxJTI          = "jti"
	ctxRoles        = "roles"
)

// TokenVerifier validates bearer tokens issued by the identity service.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Auth validates the bearer token and puts the subscriber on the context.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "missing authorization token")
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		subscriberID, err := uuid.Parse(claims.SubscriberID)
		if err != nil {
			response.Unauthorized(c, "token does not name a subscriber")
			return
		}

		c.Set(ctxSubscriberID, subscriberID)
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxJTI, claims.ID)
		c.Set(ctxRoles, claims.Roles)

		c.Next()
	}
}

// RequireRole requires at least one of roles. Use after Auth().
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ctxRoles); !exists {
			response.Forbidden(c, "no roles found - authentication required")
			return
		}

		for _, role := range roles {
			if HasRole(c, role) {
				c.Next()
				return
			}
		}

		response.Error(c, http.StatusForbidden, "insufficient permissions",
			errors.New("user does not have required role"),
			map[string]any{"required_roles": roles},
		)
	}
}

// AdminOnly returns middlewares for admin-only routes (Auth + RequireRole)
func (m *AuthMiddleware) AdminOnly() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireRole(jwt.RoleAdmin, jwt.RoleSuperAdmin),
	}
}

// extractToken reads the bearer header only; query tokens are accepted on
// the websocket route alone.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func GetSubscriberID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(ctxSubscriberID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func GetJTI(c *gin.Context) (string, bool) {
	jti, exists := c.Get(ctxJTI)
	if !exists {
		return "", false
	}
	jtiStr, ok := jti.(string)
	return jtiStr, ok
}

func HasRole(c *gin.Context, role string) bool {
	return slices.Contains(GetRoles(c), role)
}

// MustGetSubscriberID panics without Auth() in front of the handler.
func MustGetSubscriberID(c *gin.Context) uuid.UUID {
	id, ok := GetSubscriberID(c)
	if !ok {
		panic("subscriber_id not found in context")
	}
	return id
}

func GetRoles(c *gin.Context) []string {
	roles, _ := c.Get(ctxRoles)
	list, _ := roles.([]string)
	return list
}
