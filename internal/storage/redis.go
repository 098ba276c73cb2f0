package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

var Rdb *redis.Client

// InitRedis connects the optional session backend.
func InitRedis(addr, password string, db int) error {
	Rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return Rdb.Ping(context.Background()).Err()
}
