// internal/gateway/stripe.go
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const StripeProvider = "stripe"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Stripe creates one-off Checkout Sessions priced at the exact net payable.
type Stripe struct {
	cfg    StripeConfig
	client *stripe.Client
}

func NewStripe(cfg StripeConfig) *Stripe {
	return &Stripe{cfg: cfg, client: stripe.NewClient(cfg.SecretKey)}
}

func (s *Stripe) Name() string { return StripeProvider }

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	successURL, err := withTransactionID(s.cfg.SuccessURL, req.TransactionID)
	if err != nil {
		return nil, err
	}
	cancelURL, err := withTransactionID(s.cfg.CancelURL, req.TransactionID)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.TransactionID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s membership", req.PlanType)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"transaction_id": req.TransactionID,
			"subscriber_id":  req.SubscriberID.String(),
			"plan_id":        req.PlanID.String(),
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.SetIdempotencyKey(req.TransactionID)

	sess, err := s.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}

	return &Checkout{Reference: sess.ID, URL: sess.URL}, nil
}

// withTransactionID adds transaction_id to base, keeping any query it has.
func withTransactionID(base, transactionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid checkout redirect url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("transaction_id", transactionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

func (s *Stripe) VerifyWebhook(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		header.Get("Stripe-Signature"),
		s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, invalidSignature(err)
	}

	return parseStripeEvent(string(event.Type), event.Data.Raw)
}

func parseStripeEvent(eventType string, raw json.RawMessage) (*Event, error) {
	out := &Event{Type: eventType}

	switch eventType {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		out.Ignored = true
		return out, nil
	}

	var sess stripeCheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session: %w", err)
	}

	out.TransactionID = sess.Metadata["transaction_id"]
	if out.TransactionID == "" {
		out.TransactionID = sess.ClientReferenceID
	}
	if out.TransactionID == "" {
		out.Ignored = true
		return out, nil
	}

	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		// completed fires before async methods settle; wait for the follow-up
		if sess.PaymentStatus != "paid" {
			out.Ignored = true
			return out, nil
		}
		out.Success = true
	default:
		out.Success = false
	}
	return out, nil
}
