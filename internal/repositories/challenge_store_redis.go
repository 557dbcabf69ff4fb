package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/redis/go-redis/v9"
)

// RedisChallengeStore keeps challenge answers in redis so every API instance
// sees the same entries. Keys expire through redis TTLs.
type RedisChallengeStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisChallengeStore(client redis.Cmdable, prefix string) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, prefix: prefix}
}

func (s *RedisChallengeStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisChallengeStore) Put(ctx context.Context, key, answer string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), answer, ttl).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

// Consume uses GETDEL so two concurrent callers cannot both read the entry.
func (s *RedisChallengeStore) Consume(ctx context.Context, key string) (string, error) {
	answer, err := s.client.GetDel(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", auth.ErrChallengeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume challenge: %w", err)
	}
	return answer, nil
}
