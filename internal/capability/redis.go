package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix = "pdfgate:cap:"
	redisExpiryKey = "pdfgate:cap:expiry"

	// redisRetention keeps entries past ExpiresAt so the reaper can still
	// learn which workspace to clean.
	redisRetention = time.Hour
)

// RedisStore keeps capabilities in Redis. Keys embed a hash of the session,
// so a foreign session addresses a different key and consumes nothing.
type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// takeScript is GET+DEL+ZREM in one step; GETDEL alone would leave the
// expiry index behind.
var takeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("DEL", KEYS[1])
end
redis.call("ZREM", KEYS[2], KEYS[1])
return v
`)

func (s *RedisStore) Put(ctx context.Context, c Capability) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode capability: %w", err)
	}
	key := redisKey(c.Session, c.Token)
	ttl := time.Until(c.ExpiresAt) + redisRetention
	if ttl <= 0 {
		ttl = redisRetention
	}

	ok, err := s.rdb.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("store capability: %w", err)
	}
	if !ok {
		return fmt.Errorf("capability token collision")
	}
	if err := s.rdb.ZAdd(ctx, redisExpiryKey, &redis.Z{
		Score:  float64(c.ExpiresAt.UnixMilli()),
		Member: key,
	}).Err(); err != nil {
		return fmt.Errorf("index capability expiry: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, session, token string) (Capability, error) {
	return s.take(ctx, redisKey(session, token))
}

func (s *RedisStore) take(ctx context.Context, key string) (Capability, error) {
	res, err := takeScript.Run(ctx, s.rdb, []string{key, redisExpiryKey}).Result()
	if errors.Is(err, redis.Nil) {
		return Capability{}, ErrNotFound
	}
	if err != nil {
		return Capability{}, fmt.Errorf("take capability: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return Capability{}, fmt.Errorf("unexpected redis capability response: %T", res)
	}

	var c Capability
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Capability{}, fmt.Errorf("decode capability: %w", err)
	}
	return c, nil
}

func (s *RedisStore) TakeExpired(ctx context.Context, now time.Time) ([]Capability, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, redisExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired capabilities: %w", err)
	}

	var out []Capability
	for _, key := range keys {
		c, err := s.take(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Redeemed concurrently, or dropped by Redis TTL.
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func redisKey(session, token string) string {
	return redisKeyPrefix + sha256Hex(session) + ":" + token
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
