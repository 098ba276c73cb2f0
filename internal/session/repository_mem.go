package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	jti       string
	expiresAt time.Time
}

type memRepo struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryRepo is the default repository when no Redis is configured.
func NewMemoryRepo() Repo {
	return &memRepo{entries: make(map[string]memEntry)}
}

func memKey(roomID, playerID string) string {
	return fmt.Sprintf("sess:%s:%s", roomID, playerID)
}

func (m *memRepo) Save(ctx context.Context, roomID, playerID, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey(roomID, playerID)] = memEntry{jti: jti, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *memRepo) Get(ctx context.Context, roomID, playerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(roomID, playerID)
	e, ok := m.entries[key]
	if !ok {
		return "", nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", nil
	}
	return e.jti, nil
}

func (m *memRepo) Delete(ctx context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memKey(roomID, playerID))
	return nil
}
