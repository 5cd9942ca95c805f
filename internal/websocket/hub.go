// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"

	wstypes "inspecto-service/internal/domain/websocket"
	"inspecto-service/internal/pkg/jwt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenVerifier validates access tokens presented on connect.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type Hub struct {
	// Registered clients by subscriber
	clients map[uuid.UUID]map[*Client]bool
	mu      sync.RWMutex

	Register   chan *Client
	unregister chan *Client

	broadcast chan *BroadcastMessage

	handlerRegistry *HandlerRegistry

	verifier TokenVerifier
	logger   *zap.Logger
}

type BroadcastMessage struct {
	SubscriberIDs []uuid.UUID // nil means everyone
	Channel       wstypes.ChannelType
	Message       *wstypes.WSMessage
}

func NewHub(verifier TokenVerifier, logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[uuid.UUID]map[*Client]bool),
		Register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan *BroadcastMessage, 256),
		handlerRegistry: NewHandlerRegistry(),
		verifier:        verifier,
		logger:          logger,
	}
}

// AuthenticateClient validates the token and returns the identity it carries.
func (h *Hub) AuthenticateClient(token string) (*ClientAuth, error) {
	claims, err := h.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	subscriberID, err := uuid.Parse(claims.SubscriberID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	return &ClientAuth{
		SubscriberID: subscriberID,
		UserID:       claims.UserID,
		TokenID:      claims.ID,
		Roles:        claims.Roles,
	}, nil
}

// RegisterHandler registers a message handler
func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

// HandleClientMessage dispatches to a registered handler. It reports whether
// one handled the message.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	return h.handlerRegistry.Dispatch(ctx, client, msg)
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.BroadcastMessage(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.subscriberID] == nil {
		h.clients[client.subscriberID] = make(map[*Client]bool)
	}
	h.clients[client.subscriberID][client] = true

	h.logger.Info("websocket client connected",
		zap.String("subscriber_id", client.subscriberID.String()),
		zap.Int("total", h.totalClients()),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]any{
		"subscriber_id": client.subscriberID,
		"channels":      client.Channels(),
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.subscriberID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.Close()

			if len(clients) == 0 {
				delete(h.clients, client.subscriberID)
			}

			h.logger.Info("websocket client disconnected",
				zap.String("subscriber_id", client.subscriberID.String()),
				zap.Int("total", h.totalClients()),
			)
		}
	}
}

func (h *Hub) BroadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send := func(clients map[*Client]bool) {
		for client := range clients {
			if client.IsSubscribed(msg.Channel) {
				client.SendMessage(msg.Message)
			}
		}
	}

	if msg.SubscriberIDs == nil {
		for _, clients := range h.clients {
			send(clients)
		}
		return
	}
	for _, id := range msg.SubscriberIDs {
		send(h.clients[id])
	}
}

// enqueue never blocks the caller; a full queue drops the message.
func (h *Hub) enqueue(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message",
			zap.String("type", string(msg.Message.Type)),
		)
	}
}

// PublishPayment pushes a payment status change to the subscriber.
func (h *Hub) PublishPayment(subscriberID uuid.UUID, data *wstypes.PaymentEventData) {
	h.enqueue(&BroadcastMessage{
		SubscriberIDs: []uuid.UUID{subscriberID},
		Channel:       wstypes.ChannelBilling,
		Message:       wstypes.NewMessage(wstypes.EventTypePaymentUpdated, data),
	})
}

// PublishMembership pushes a newly granted or renewed membership.
func (h *Hub) PublishMembership(subscriberID uuid.UUID, data *wstypes.MembershipEventData) {
	h.enqueue(&BroadcastMessage{
		SubscriberIDs: []uuid.UUID{subscriberID},
		Channel:       wstypes.ChannelBilling,
		Message:       wstypes.NewMessage(wstypes.EventTypeMembershipActivated, data),
	})
}

func (h *Hub) GetConnectedClients(subscriberID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[subscriberID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
		delete(h.clients, id)
	}
}
