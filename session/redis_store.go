package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "session:"

// extendIndexTTL only ever lengthens the shop index TTL, so a short lived
// state session saved later cannot expire the index under a longer one.
var extendIndexTTL = redis.NewScript(`
local current = redis.call("PTTL", KEYS[1])
if current >= 0 and current >= tonumber(ARGV[1]) then
	return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[1])
`)

type RedisStoreOption func(*RedisStore)

// WithRedisPrefix overrides the "session:" key prefix.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// WithRedisSealer encrypts stored values so access tokens never sit in redis in clear.
func WithRedisSealer(sealer *security.Sealer) RedisStoreOption {
	return func(s *RedisStore) {
		s.sealer = sealer
	}
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// RedisStore keeps one JSON value per session under "<prefix><id>" with a TTL
// that ends at ExpiresAt. A set per shop indexes ids for DeleteByShop.
type RedisStore struct {
	client *redis.Client
	prefix string
	sealer *security.Sealer
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) shopKey(shop string) string {
	return r.prefix + "shop:" + shop
}

func (r *RedisStore) Load(ctx context.Context, id string) (*core.Session, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("session: redis store is not configured")
	}
	session, err := r.read(ctx, strings.TrimSpace(id))
	if err != nil || session == nil {
		return nil, err
	}
	if session.Expired(r.now()) {
		return nil, nil
	}
	return session, nil
}

func (r *RedisStore) read(ctx context.Context, id string) (*core.Session, error) {
	if id == "" {
		return nil, nil
	}
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.sealer != nil {
		val, err = r.sealer.Open(ctx, val)
		if err != nil {
			return nil, err
		}
	}
	var session core.Session
	if err := json.Unmarshal(val, &session); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	session.ID = id
	return &session, nil
}

func (r *RedisStore) Save(ctx context.Context, session core.Session) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("session: redis store is not configured")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return fmt.Errorf("session: missing session id")
	}
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	if r.sealer != nil {
		data, err = r.sealer.Seal(ctx, data)
		if err != nil {
			return err
		}
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(id), data, ttl)
	if shop := strings.TrimSpace(session.Shop); shop != "" {
		pipe.SAdd(ctx, r.shopKey(shop), id)
		extendIndexTTL.Eval(ctx, pipe, []string{r.shopKey(shop)}, ttl.Milliseconds())
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("session: redis store is not configured")
	}
	id = strings.TrimSpace(id)
	// an unreadable value is still deleted; it just has no index entry to drop
	current, _ := r.read(ctx, id)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(id))
	if current != nil && strings.TrimSpace(current.Shop) != "" {
		pipe.SRem(ctx, r.shopKey(strings.TrimSpace(current.Shop)), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) DeleteByShop(ctx context.Context, shop string) (int, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("session: redis store is not configured")
	}
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return 0, fmt.Errorf("session: shop is required")
	}
	ids, err := r.client.SMembers(ctx, r.shopKey(shop)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}
	removed := 0
	if len(keys) > 0 {
		count, err := r.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, err
		}
		removed = int(count)
	}
	if err := r.client.Del(ctx, r.shopKey(shop)).Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

// PurgeExpired is a no-op; redis expires keys on its own.
func (r *RedisStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

var _ Store = (*RedisStore)(nil)
