// internal/gateway/paddle.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	xerrors "inspecto-service/internal/pkg/errors"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

const PaddleProvider = "paddle"

type PaddleConfig struct {
	APIKey        string
	WebhookSecret string
	Environment   string            // "sandbox" or "production"
	PriceIDs      map[string]string // plan type -> Paddle price id
	SuccessURL    string
}

// Paddle sells plans through catalog prices, so it only takes full-price
// checkouts: prorated or discounted amounts cannot be expressed.
type Paddle struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	cfg      PaddleConfig
}

func NewPaddle(cfg PaddleConfig) (*Paddle, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle api key is required")
	}

	var client *paddle.SDK
	var err error
	if cfg.Environment == "production" {
		client, err = paddle.New(cfg.APIKey)
	} else {
		client, err = paddle.NewSandbox(cfg.APIKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &Paddle{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		cfg:      cfg,
	}, nil
}

func (p *Paddle) Name() string { return PaddleProvider }

func (p *Paddle) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	priceID, ok := p.cfg.PriceIDs[req.PlanType]
	if !ok {
		return nil, fmt.Errorf("no paddle price configured for plan %q: %w", req.PlanType, xerrors.ErrInvalidInput)
	}
	if req.Amount != req.BasePriceMinor {
		return nil, fmt.Errorf("paddle only accepts full-price checkouts: %w", xerrors.ErrInvalidInput)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"transaction_id": req.TransactionID,
			"subscriber_id":  req.SubscriberID.String(),
		},
	}
	if p.cfg.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(p.cfg.SuccessURL)}
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil {
		return nil, errors.New("no checkout URL returned from paddle")
	}

	return &Checkout{Reference: txn.ID, URL: *txn.Checkout.URL}, nil
}

func (p *Paddle) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", header.Get("Paddle-Signature"))

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, invalidSignature(err)
	}
	if !valid {
		return nil, invalidSignature(errors.New("paddle signature mismatch"))
	}

	return parsePaddleEvent(payload)
}

type paddleNotification struct {
	EventType string `json:"event_type"`
	Data      struct {
		ID         string            `json:"id"`
		Status     string            `json:"status"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"data"`
}

func parsePaddleEvent(payload []byte) (*Event, error) {
	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("failed to parse paddle notification: %w", err)
	}

	out := &Event{Type: n.EventType, TransactionID: n.Data.CustomData["transaction_id"]}
	switch n.EventType {
	case "transaction.completed":
		out.Success = true
	case "transaction.canceled", "transaction.past_due":
		out.Success = false
	case "transaction.updated":
		// Only a closed checkout fails the payment.
		out.Ignored = !paddleTerminalFailure(n.Data.Status)
	default:
		// transaction.payment_failed fires per declined attempt while the
		// checkout stays open for another card.
		out.Ignored = true
	}
	if out.TransactionID == "" {
		out.Ignored = true
	}
	return out, nil
}

func paddleTerminalFailure(status string) bool {
	return status == "canceled" || status == "past_due"
}
