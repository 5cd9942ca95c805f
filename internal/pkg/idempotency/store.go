// internal/pkg/idempotency/store.go
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInProgress is returned when another request holds the same key.
var ErrInProgress = errors.New("request with this idempotency key is in progress")

const pendingMarker = "__pending__"

// Store remembers the outcome of client requests keyed by an
// Idempotency-Key header. Entries live for ttl.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

// Reserve claims scope/key. It returns the stored payload when the request
// already completed, ErrInProgress while another holder is working on it,
// and (nil, nil) when the caller now owns the key.
func (s *Store) Reserve(ctx context.Context, scope, key string) ([]byte, error) {
	k := s.key(scope, key)

	ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	stored, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return s.Reserve(ctx, scope, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if string(stored) == pendingMarker {
		return nil, ErrInProgress
	}
	return stored, nil
}

// Complete stores the payload returned to the first caller.
func (s *Store) Complete(ctx context.Context, scope, key string, payload []byte) error {
	if err := s.client.Set(ctx, s.key(scope, key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotent result: %w", err)
	}
	return nil
}

// Release drops a reservation so the client may retry after a failure.
func (s *Store) Release(ctx context.Context, scope, key string) error {
	return s.client.Del(ctx, s.key(scope, key)).Err()
}
