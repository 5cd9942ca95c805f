// internal/domain/subscriber/entity.go
package subscriber

import (
	"time"

	"github.com/google/uuid"
)

// Subscriber is one paying account.
type Subscriber struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CreateSubscriberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name" binding:"required,min=2,max=255"`
	Email  string `json:"email" binding:"required,email"`
}
