// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Generator signs access tokens. Production tokens come from the identity
// service; the generator is used by tooling and tests.
type Generator struct {
	priv     *rsa.PrivateKey
	issuer   string
	audience string
	kid      string // key id for rotation
	ttl      time.Duration
}

func NewGenerator(priv *rsa.PrivateKey, issuer, audience, kid string, ttl time.Duration) *Generator {
	return &Generator{
		priv:     priv,
		issuer:   issuer,
		audience: audience,
		kid:      kid,
		ttl:      ttl,
	}
}

// GenerateAccessToken returns the signed token and its jti.
func (g *Generator) GenerateAccessToken(subscriberID, userID string, roles []string) (string, string, error) {
	return g.GenerateAccessTokenAt(time.Now(), subscriberID, userID, roles)
}

// GenerateAccessTokenAt issues a token as if it were now.
func (g *Generator) GenerateAccessTokenAt(now time.Time, subscriberID, userID string, roles []string) (string, string, error) {
	if g.priv == nil {
		return "", "", fmt.Errorf("jwt generator has nil private key")
	}

	jti := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		SubscriberID: subscriberID,
		UserID:       userID,
		Roles:        roles,
		Purpose:      PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{g.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	})
	if g.kid != "" {
		tok.Header["kid"] = g.kid
	}

	signed, err := tok.SignedString(g.priv)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, jti, nil
}
