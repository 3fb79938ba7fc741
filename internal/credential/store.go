package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-gateway/internal/config"
)

// ErrNoCredential is returned when no access credential is stored for a user.
var ErrNoCredential = errors.New("no credential stored for user")

// Store keeps the access credential supplied by the session manager.
// The attempt lifecycle only ever reads through this interface, so it does not
// care where tokens live.
type Store interface {
	Get(ctx context.Context, userID string) (string, error)
	Set(ctx context.Context, userID, token string, ttl time.Duration) error
	Clear(ctx context.Context, userID string) error
}

// ─── Redis ──────────────────────────────────────────────────────────

// RedisStore keeps credentials in Redis so every gateway replica sees token refreshes.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.rdb.Get(ctx, config.CacheKey.UserCredentialKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Set(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, config.CacheKey.UserCredentialKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, config.CacheKey.UserCredentialKey(userID)).Err()
}

// ─── Memory ─────────────────────────────────────────────────────────

type memoryEntry struct {
	token     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a process-local Store for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNoCredential
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, userID)
		s.mu.Unlock()
		return "", ErrNoCredential
	}
	return e.token, nil
}

func (s *MemoryStore) Set(_ context.Context, userID, token string, ttl time.Duration) error {
	e := memoryEntry{token: token}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[userID] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
	return nil
}
