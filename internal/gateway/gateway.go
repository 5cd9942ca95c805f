// internal/gateway/gateway.go
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	xerrors "inspecto-service/internal/pkg/errors"

	"github.com/google/uuid"
)

// CheckoutRequest describes one payment intent. TransactionID doubles as the
// provider-side idempotency key.
type CheckoutRequest struct {
	TransactionID  string
	Amount         int64 // minor units
	Currency       string
	PlanID         uuid.UUID
	PlanType       string
	BasePriceMinor int64
	SubscriberID   uuid.UUID
	CustomerEmail  string
}

type Checkout struct {
	Reference string
	URL       string
}

// Event is a verified provider callback reduced to what the ledger needs.
// Ignored events verified fine but carry no payment outcome.
type Event struct {
	Provider      string
	Type          string
	TransactionID string
	Success       bool
	Ignored       bool
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// VerifyWebhook fails with an error wrapping xerrors.ErrInvalidSignature
	// when the payload is not authentic.
	VerifyWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error)
}

// Registry dispatches to gateways by provider name and bounds every call.
type Registry struct {
	gateways map[string]Gateway
	timeout  time.Duration
}

func NewRegistry(timeout time.Duration, gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways)), timeout: timeout}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(provider string) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported payment provider %q: %w", provider, xerrors.ErrInvalidInput)
	}
	return g, nil
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) CreateCheckout(ctx context.Context, provider string, req CheckoutRequest) (*Checkout, error) {
	g, err := r.Get(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return g.CreateCheckout(ctx, req)
}

func (r *Registry) VerifyWebhook(ctx context.Context, provider string, payload []byte, header http.Header) (*Event, error) {
	g, err := r.Get(provider)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()

	event, err := g.VerifyWebhook(ctx, payload, header)
	if err != nil {
		return nil, err
	}
	event.Provider = g.Name()
	return event, nil
}

func (r *Registry) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func invalidSignature(err error) error {
	return fmt.Errorf("%w: %v", xerrors.ErrInvalidSignature, err)
}
