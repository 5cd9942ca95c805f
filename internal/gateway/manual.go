// internal/gateway/manual.go
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	ManualProvider        = "manual"
	ManualSignatureHeader = "X-Signature"
)

// Manual is an HMAC-signed gateway for local development and back-office
// settlement. Callbacks carry X-Signature: t=<unix>,v1=<hex>, where v1 is
// HMAC-SHA256(secret, "<t>.<body>").
type Manual struct {
	secret  string
	baseURL string
	maxAge  time.Duration
	now     func() time.Time
}

func NewManual(secret, baseURL string) *Manual {
	return &Manual{
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxAge:  5 * time.Minute,
		now:     time.Now,
	}
}

func (m *Manual) Name() string { return ManualProvider }

func (m *Manual) CreateCheckout(_ context.Context, req CheckoutRequest) (*Checkout, error) {
	return &Checkout{
		Reference: req.TransactionID,
		URL:       fmt.Sprintf("%s/pay/%s", m.baseURL, req.TransactionID),
	}, nil
}

type manualEvent struct {
	TransactionID string `json:"transaction_id"`
	Success       *bool  `json:"success"`
}

func (m *Manual) VerifyWebhook(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	if err := m.verify(payload, header.Get(ManualSignatureHeader)); err != nil {
		return nil, invalidSignature(err)
	}

	var body manualEvent
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("failed to parse manual webhook: %w", err)
	}
	if body.TransactionID == "" || body.Success == nil {
		return &Event{Type: "manual.unknown", Ignored: true}, nil
	}

	return &Event{
		Type:          "manual.settled",
		TransactionID: body.TransactionID,
		Success:       *body.Success,
	}, nil
}

func (m *Manual) verify(payload []byte, signature string) error {
	if m.secret == "" {
		return errors.New("manual webhook secret not configured")
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(signature, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return errors.New("malformed signature header")
	}

	age := m.now().Sub(time.Unix(ts, 0))
	if age > m.maxAge || age < -time.Minute {
		return errors.New("signature timestamp outside tolerance")
	}

	expected := SignManual(m.secret, payload, ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// SignManual returns the v1 signature for payload at unix time ts.
func SignManual(secret string, payload []byte, ts int64) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", ts, payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ManualSignatureHeaderValue builds the full X-Signature header value.
func ManualSignatureHeaderValue(secret string, payload []byte, ts int64) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, SignManual(secret, payload, ts))
}
