package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRepo struct {
	rdb *redis.Client
}

// NewRedisRepo keeps session jtis in Redis instead of process memory.
// Key layout: sess:{roomId}:{playerId}, TTL-managed by Redis itself.
func NewRedisRepo(rdb *redis.Client) Repo {
	return &redisRepo{rdb: rdb}
}

func redisKey(roomID, playerID string) string {
	return fmt.Sprintf("sess:%s:%s", roomID, playerID)
}

func (r *redisRepo) Save(ctx context.Context, roomID, playerID, jti string, ttl time.Duration) error {
	return r.rdb.Set(ctx, redisKey(roomID, playerID), jti, ttl).Err()
}

func (r *redisRepo) Get(ctx context.Context, roomID, playerID string) (string, error) {
	val, err := r.rdb.Get(ctx, redisKey(roomID, playerID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *redisRepo) Delete(ctx context.Context, roomID, playerID string) error {
	return r.rdb.Del(ctx, redisKey(roomID, playerID)).Err()
}
