// internal/domain/membership/dto.go
package membership

import "time"

type AccessResponse struct {
	Active    bool       `json:"active"`
	Feature   string     `json:"feature,omitempty"`
	Granted   bool       `json:"granted"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
