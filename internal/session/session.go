package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidSession = errors.New("invalid_session")

// TTL is how long a session token stays resumable.
const TTL = 24 * time.Hour

// Manager issues and validates resumable session tokens. Tokens are
// HS256 JWTs carrying a per-issue jti; issuing a new token for the same
// seat overwrites the stored jti, which invalidates every older token.
type Manager struct {
	secret []byte
	repo   Repo
	ttl    time.Duration
}

func NewManager(secret []byte, repo Repo) *Manager {
	return &Manager{secret: secret, repo: repo, ttl: TTL}
}

// Issue mints a fresh token for a seat and rotates out any prior one.
func (m *Manager) Issue(ctx context.Context, roomID, playerID string) (string, error) {
	jti := uuid.NewString()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  playerID,
		"room": roomID,
		"jti":  jti,
		"iat":  now.Unix(),
		"exp":  now.Add(m.ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", err
	}
	if err := m.repo.Save(ctx, roomID, playerID, jti, m.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Validate checks a presented token against the stored jti for the
// seat. Any mismatch, bad signature or expiry is an invalid session.
func (m *Manager) Validate(ctx context.Context, roomID, playerID, token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidSession
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ErrInvalidSession
	}
	sub, _ := claims["sub"].(string)
	room, _ := claims["room"].(string)
	jti, _ := claims["jti"].(string)
	if sub != playerID || room != roomID || jti == "" {
		return ErrInvalidSession
	}
	stored, err := m.repo.Get(ctx, roomID, playerID)
	if err != nil || stored == "" || stored != jti {
		return ErrInvalidSession
	}
	return nil
}

// Revoke drops the stored jti so no outstanding token can resume.
func (m *Manager) Revoke(ctx context.Context, roomID, playerID string) {
	_ = m.repo.Delete(ctx, roomID, playerID)
}
