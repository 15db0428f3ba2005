package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/redis/go-redis/v9"
)

const defaultLedgerPrefix = "webhook-claim:"

// RedisLedger shares delivery claims between app instances. Each claim is a
// SET NX key that redis expires on its own.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger uses prefix for claim keys, "webhook-claim:" when empty.
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultLedgerPrefix
	}
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("webhooks: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.ttl
	}
	claimed, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("webhooks: claim %s: %w", key, err)
	}
	return claimed, nil
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+strings.TrimSpace(key)).Err(); err != nil {
		return fmt.Errorf("webhooks: release %s: %w", key, err)
	}
	return nil
}

// PurgeExpired is a no-op; redis drops expired claims itself.
func (l *RedisLedger) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

var _ core.ReplayLedger = (*RedisLedger)(nil)
