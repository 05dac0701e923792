package experiment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const assignmentTTL = 90 * 24 * time.Hour

// AssignmentStore persists per-user variant assignments so repeat visits
// reuse the stored assignment instead of re-rolling.
type AssignmentStore interface {
	Get(ctx context.Context, userID string) (map[string]string, error)
	Set(ctx context.Context, userID, experimentID, variantKey string) error
}

type redisStore struct {
	rdb *redis.Client
}

type StoreParams struct {
	fx.In
	Redis *redis.Client
}

func NewRedisStore(p StoreParams) AssignmentStore {
	return &redisStore{rdb: p.Redis}
}

func assignmentKey(userID string) string {
	return "assign:" + userID
}

func (s *redisStore) Get(ctx context.Context, userID string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, assignmentKey(userID)).Result()
}

func (s *redisStore) Set(ctx context.Context, userID, experimentID, variantKey string) error {
	key := assignmentKey(userID)
	if err := s.rdb.HSet(ctx, key, experimentID, variantKey).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, assignmentTTL).Err()
}
