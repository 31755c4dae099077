package redis

import (
	"context"
	"strconv"
	"time"
)

// StoreToken records an issued credential so it can be revoked on
// logout before its expiry. With no redis the allowlist is skipped and
// tokens stay valid until they expire.
func StoreToken(ctx context.Context, token string, userID uint64, ttl time.Duration) error {
	if RedisClient == nil {
		return nil
	}
	return RedisClient.Set(ctx, token, strconv.FormatUint(userID, 10), ttl).Err()
}

// TokenExists reports whether the token is still on the allowlist.
func TokenExists(ctx context.Context, token string) (bool, error) {
	if RedisClient == nil {
		return true, nil
	}
	n, err := RedisClient.Exists(ctx, token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteToken revokes a token.
func DeleteToken(ctx context.Context, token string) error {
	if RedisClient == nil {
		return nil
	}
	return RedisClient.Del(ctx, token).Err()
}
