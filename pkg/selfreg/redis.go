package selfreg

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix  = "orgdeploy:selfreg:session:"
	accountsKeyPrefix = "orgdeploy:selfreg:accounts:"

	sessionActive = "active"
	sessionEnded  = "ended"
)

// RedisStore is a redis-backed SessionStore. It lets announcements land on
// any API replica while still deduplicating per account.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithSessionTTL overrides the retention of session and dedup keys.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// NewRedisStore creates a session store on an existing redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: DefaultSessionTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Begin(ctx context.Context, externalID string) error {
	ok, err := s.client.SetNX(ctx, sessionKeyPrefix+externalID, sessionActive, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

func (s *RedisStore) End(ctx context.Context, externalID string) error {
	// KeepTTL preserves the original expiry so the claim on the external id
	// lapses at the same time as the dedup set.
	if err := s.client.Set(ctx, sessionKeyPrefix+externalID, sessionEnded, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (s *RedisStore) Active(ctx context.Context, externalID string) (bool, error) {
	state, err := s.client.Get(ctx, sessionKeyPrefix+externalID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return state == sessionActive, nil
}

func (s *RedisStore) MarkRegistered(ctx context.Context, externalID, accountID string) (bool, error) {
	active, err := s.Active(ctx, externalID)
	if err != nil {
		return false, err
	}
	if !active {
		return false, ErrNoSession
	}

	key := accountsKeyPrefix + externalID
	pipe := s.client.TxPipeline()
	added := pipe.SAdd(ctx, key, accountID)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record announcement: %w", err)
	}
	return added.Val() == 1, nil
}
