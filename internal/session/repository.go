package session

import (
	"context"
	"time"
)

// Repo stores the current jti per seat. Implementations must expire
// entries after the given TTL.
type Repo interface {
	Save(ctx context.Context, roomID, playerID, jti string, ttl time.Duration) error
	Get(ctx context.Context, roomID, playerID string) (string, error)
	Delete(ctx context.Context, roomID, playerID string) error
}
