package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const consumedTokenKeyPrefix = "authcore:consumed:"

// RedisConsumedTokenStore は使用済みトークンをRedisに記録する。
// キーはトークン自身の有効期限で失効するため、定期削除は不要。
type RedisConsumedTokenStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	now     func() time.Time
}

// NewRedisConsumedTokenStore はRedisConsumedTokenStoreを生成する。
func NewRedisConsumedTokenStore(client redis.UniversalClient, timeout time.Duration) *RedisConsumedTokenStore {
	return &RedisConsumedTokenStore{client: client, timeout: timeout, now: time.Now}
}

// MarkConsumed はSET NX PXでjtiを記録する。
func (s *RedisConsumedTokenStore) MarkConsumed(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := s.client.SetNX(ctx, consumedTokenKeyPrefix+jti, 1, ttl).Result()
	if err != nil {
		return false, wrapStoreError(ctx, "failed to mark token consumed", err)
	}
	return ok, nil
}

var _ ConsumedTokenStore = (*RedisConsumedTokenStore)(nil)
