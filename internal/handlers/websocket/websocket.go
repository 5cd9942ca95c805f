// internal/handlers/websocket/websocket.go
package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"inspecto-service/internal/domain/membership"
	wstypes "inspecto-service/internal/domain/websocket"
	xerrors "inspecto-service/internal/pkg/errors"
	"inspecto-service/internal/pkg/response"
	ws "inspecto-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler accepts connections from allowedOrigins; an empty list
// allows any origin.
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
		logger: logger,
	}
}

// HandleConnection authenticates the token and upgrades the connection.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	token := extractToken(c)
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "missing authentication token", nil)
		return
	}

	auth, err := h.hub.AuthenticateClient(token)
	if err != nil {
		h.logger.Warn("websocket authentication failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		response.Error(c, http.StatusUnauthorized, "authentication failed", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		return
	}

	client := ws.NewClient(h.hub, conn, auth)

	select {
	case h.hub.Register <- client:
	case <-c.Request.Context().Done():
		client.Close()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// extractToken reads ?token= first, since browsers cannot set headers on
// websocket upgrades, then the bearer header.
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}

// GetStats returns connection counts (admin only).
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	response.Success(c, http.StatusOK, "WebSocket stats", gin.H{
		"total_connections": h.hub.TotalClients(),
		"timestamp":         time.Now(),
	})
}

// MembershipReader answers membership status requests.
type MembershipReader interface {
	Current(ctx context.Context, subscriberID uuid.UUID) (*membership.Membership, error)
}

// MembershipStatusHandler replies to "membership.status" with the client's
// current membership, or null data when there is none.
type MembershipStatusHandler struct {
	memberships MembershipReader
}

func NewMembershipStatusHandler(memberships MembershipReader) *MembershipStatusHandler {
	return &MembershipStatusHandler{memberships: memberships}
}

func (h *MembershipStatusHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeMembershipStatus}
}

func (h *MembershipStatusHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	m, err := h.memberships.Current(ctx, client.SubscriberID())
	if errors.Is(err, xerrors.ErrNotFound) {
		client.SendMessage(wstypes.NewMessage(wstypes.EventTypeMembershipStatus, nil))
		return nil
	}
	if err != nil {
		return err
	}

	reply := wstypes.NewMessage(wstypes.EventTypeMembershipStatus, &wstypes.MembershipEventData{
		MembershipID: m.ID,
		PlanID:       m.PlanID,
		StartDate:    m.StartDate,
		EndDate:      m.EndDate,
		Features:     m.Features,
	})
	if msg.ID != "" {
		reply.Metadata = map[string]any{"reply_to": msg.ID}
	}
	client.SendMessage(reply)
	return nil
}
