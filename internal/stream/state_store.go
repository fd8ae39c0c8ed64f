package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

const statePrefix = "oauth:state:"

// StateStore keeps OAuth state nonces in Redis with a TTL. Take uses GETDEL
// so a replayed callback cannot redeem the same nonce twice.
type StateStore struct {
	client *redis.Client
}

var _ out.OAuthStateStore = (*StateStore)(nil)

func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) Put(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error {
	if err := s.client.Set(ctx, statePrefix+state, userID.String(), ttl).Err(); err != nil {
		return apperr.Wrap(err, apperr.CodeInternalError, "failed to store oauth state", 500)
	}
	return nil
}

func (s *StateStore) Take(ctx context.Context, state string) (uuid.UUID, error) {
	val, err := s.client.GetDel(ctx, statePrefix+state).Result()
	if err == redis.Nil {
		return uuid.Nil, apperr.Unauthorized("unknown or expired oauth state")
	}
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, apperr.CodeInternalError, "failed to read oauth state", 500)
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("corrupt oauth state")
	}
	return userID, nil
}
