package csrf

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoToken is returned when no CSRF token exists for the session.
var ErrNoToken = errors.New("no csrf token for session")

// ErrStoreUnavailable wraps any Redis failure.
var ErrStoreUnavailable = errors.New("csrf store unavailable")

const tokenBytes = 32

// Store holds one CSRF token per session in Redis. Issue supersedes, so a
// re-login rotates the token along with the session.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "csrf"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{redis: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// Issue mints a fresh token for the session, replacing any existing one.
func (s *Store) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("empty session id")
	}

	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if err := s.redis.Set(ctx, s.key(sessionID), token, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return token, nil
}

// Get returns the current token for the session.
func (s *Store) Get(ctx context.Context, sessionID string) (string, error) {
	token, err := s.redis.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Drop removes the session's token. Called on logout.
func (s *Store) Drop(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
