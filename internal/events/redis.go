package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionTTL = 300 * time.Second
	shadowTTL         = 24 * time.Hour
)

// RedisClient is the subset of redis.Cmdable used by RedisRegistry.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisRegistry keeps a TTL'd record of live sessions and the last command
// outcome per session:
//
//	edgefetch:sess:<id>   -> "<node>|<remote>"
//	edgefetch:shadow:<id> -> hash{kind,status,success,ts}
type RedisRegistry struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisRegistry(client RedisClient, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func SessionKey(id string) string {
	return fmt.Sprintf("edgefetch:sess:%s", id)
}

func ShadowKey(id string) string {
	return fmt.Sprintf("edgefetch:shadow:%s", id)
}

func (r *RedisRegistry) SessionOpened(ctx context.Context, info SessionInfo) error {
	value := fmt.Sprintf("%s|%s", info.Node, info.Remote)
	return r.client.Set(ctx, SessionKey(info.ID), value, r.ttl).Err()
}

func (r *RedisRegistry) SessionClosed(ctx context.Context, info SessionInfo) error {
	return r.client.Del(ctx, SessionKey(info.ID)).Err()
}

func (r *RedisRegistry) CommandFinished(ctx context.Context, out Outcome) error {
	if err := r.client.Expire(ctx, SessionKey(out.SessionID), r.ttl).Err(); err != nil {
		return err
	}
	key := ShadowKey(out.SessionID)
	if err := r.client.HSet(ctx, key,
		"kind", out.Kind,
		"status", out.Status,
		"success", out.Success,
		"ts", out.Timestamp.Unix(),
	).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, shadowTTL).Err()
}
