package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "fifoshop:revoked:"

type revocation struct {
	Username  string    `json:"username"`
	RevokedAt time.Time `json:"revoked_at"`
}

type RedisTokenBlocklist struct {
	client *redis.Client
}

func NewRedisTokenBlocklist(addr string, password string, db int) *RedisTokenBlocklist {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTokenBlocklist{client: client}
}

func (c *RedisTokenBlocklist) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTokenBlocklist) Close() error {
	return c.client.Close()
}

// Revoke stores the token id until ttl elapses, which callers set to the
// token's remaining lifetime.
func (c *RedisTokenBlocklist) Revoke(ctx context.Context, tokenID string, username string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(revocation{Username: username, RevokedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, revokedKeyPrefix+tokenID, payload, ttl).Err()
}

func (c *RedisTokenBlocklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
