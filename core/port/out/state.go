package out

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OAuthStateStore holds short-lived OAuth state nonces. Take consumes the
// state atomically so a replayed callback fails closed.
type OAuthStateStore interface {
	Put(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error
	Take(ctx context.Context, state string) (uuid.UUID, error)
}
