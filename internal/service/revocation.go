package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prperemyshlev/identity-service/pkg/database"
	"github.com/redis/go-redis/v9"
)

const revokedBeforeKey = "auth:revoked_before:%s"

// RedisRevocationStore keeps the watermark only as long as an access token can live,
// after which every older token has expired on its own.
type RedisRevocationStore struct {
	redis *database.Redis
	ttl   time.Duration
}

func NewRedisRevocationStore(redis *database.Redis, accessTokenTTL time.Duration) *RedisRevocationStore {
	return &RedisRevocationStore{redis: redis, ttl: accessTokenTTL}
}

func (s *RedisRevocationStore) RevokeBefore(ctx context.Context, userID string, at time.Time) error {
	key := fmt.Sprintf(revokedBeforeKey, userID)
	if err := s.redis.Client.Set(ctx, key, at.Unix(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revocation watermark: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) RevokedBefore(ctx context.Context, userID string) (time.Time, bool, error) {
	key := fmt.Sprintf(revokedBeforeKey, userID)
	raw, err := s.redis.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read revocation watermark: %w", err)
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid revocation watermark %q: %w", raw, err)
	}
	return time.Unix(unix, 0), true, nil
}
