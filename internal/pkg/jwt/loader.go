// internal/pkg/jwt/loader.go
package jwt

import (
	"fmt"
	"time"
)

// Config locates the signing keys. A PEM value takes precedence over its
// path, so keys can come straight from the environment.
type Config struct {
	PubPEM   string
	PubPath  string
	PrivPEM  string
	PrivPath string
	Issuer   string
	Audience string
	TTL      time.Duration
	KID      string
}

type Manager struct {
	Generator *Generator // nil without a private key
	Verifier  *Verifier
}

func LoadAndBuild(cfg Config) (*Manager, error) {
	pubPEM, err := readPEM(cfg.PubPEM, cfg.PubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}
	pub, err := ParseRSAPublicKey(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	m := &Manager{Verifier: NewVerifier(pub, cfg.Issuer, cfg.Audience)}

	if cfg.PrivPEM == "" && cfg.PrivPath == "" {
		return m, nil
	}
	privPEM, err := readPEM(cfg.PrivPEM, cfg.PrivPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	priv, err := ParseRSAPrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	m.Generator = NewGenerator(priv, cfg.Issuer, cfg.Audience, cfg.KID, cfg.TTL)
	return m, nil
}
