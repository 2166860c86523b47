package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ampease/backend/services/charger-service/internal/models"
)

// SessionStore keeps the running session so a restart can pick it up again.
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewSessionStore returns redis-backed store.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

func sessionKey(alias string) string {
	return fmt.Sprintf("charger:session:%s", alias)
}

// sessionTTL keeps the key slightly past expiry so a restart right at the boundary still sees it.
func sessionTTL(now, expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(now) + time.Minute
	if ttl < time.Minute {
		return time.Minute
	}
	return ttl
}

// Save stores session for alias until shortly after it expires.
func (s *SessionStore) Save(ctx context.Context, alias string, session models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(alias), data, sessionTTL(s.now(), session.ExpiresAt)).Err()
}

// Load returns the stored session, or nil when there is none.
func (s *SessionStore) Load(ctx context.Context, alias string) (*models.Session, error) {
	result, err := s.client.Get(ctx, sessionKey(alias)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes the stored session.
func (s *SessionStore) Delete(ctx context.Context, alias string) error {
	return s.client.Del(ctx, sessionKey(alias)).Err()
}
