package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/conduit/internal/types"
)

const redisRecordPrefix = "conduit:cache:"

// decrementScript atomically decrements the admission countdown, flooring at
// 0. Returns -1 when the fingerprint has no record.
var decrementScript = redis.NewScript(`
local t = redis.call('HGET', KEYS[1], 'threshold')
if not t then
    return -1
end
t = tonumber(t)
if t > 0 then
    t = t - 1
end
redis.call('HSET', KEYS[1], 'threshold', t)
return t
`)

// RedisStore is a Store backed by Redis hashes, one per fingerprint. The
// admission countdown is decremented server-side so concurrent sightings
// cannot double-count a single decrement.
type RedisStore struct {
	rdb       *redis.Client
	threshold int
	ttl       time.Duration
}

func NewRedisStore(rdb *redis.Client, threshold int, ttl time.Duration) *RedisStore {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, threshold: threshold, ttl: ttl}
}

func (s *RedisStore) key(fingerprint string) string {
	return redisRecordPrefix + fingerprint
}

func (s *RedisStore) AddQuery(ctx context.Context, fingerprint, query string, kind types.ResponseKind) error {
	if fingerprint == "" || query == "" {
		return ErrEmptyQuery
	}

	now := time.Now().Format(time.RFC3339Nano)
	err := s.rdb.HSet(ctx, s.key(fingerprint), map[string]any{
		"query":            query,
		"kind":             string(kind),
		"threshold":        s.threshold,
		"hits":             0,
		"created_at":       now,
		"last_accessed_at": now,
	}).Err()
	if err != nil {
		return fmt.Errorf("cache: add query: %w", err)
	}
	return nil
}

func (s *RedisStore) DecrementThreshold(ctx context.Context, fingerprint string) (int, error) {
	remaining, err := decrementScript.Run(ctx, s.rdb, []string{s.key(fingerprint)}).Int()
	if err != nil {
		return -1, fmt.Errorf("cache: decrement threshold: %w", err)
	}
	if remaining < 0 {
		return -1, ErrNotFound
	}
	return remaining, nil
}

func (s *RedisStore) CacheResponse(ctx context.Context, fingerprint string, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	exists, err := s.rdb.Exists(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return fmt.Errorf("cache: cache response: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	data, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("cache: marshal payload: %w", err)
	}
	expires := time.Now().Add(s.ttl).Format(time.RFC3339Nano)

	err = s.rdb.HSet(ctx, s.key(fingerprint), map[string]any{
		"payload":    string(data),
		"expires_at": expires,
	}).Err()
	if err != nil {
		return fmt.Errorf("cache: cache response: %w", err)
	}
	return nil
}

func (s *RedisStore) GetRecord(ctx context.Context, fingerprint string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: get record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		Fingerprint: fingerprint,
		Query:       fields["query"],
		Kind:        types.ResponseKind(fields["kind"]),
	}
	rec.Threshold, _ = strconv.Atoi(fields["threshold"])
	rec.Hits, _ = strconv.ParseInt(fields["hits"], 10, 64)

	if raw := fields["payload"]; raw != "" {
		var p Payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("cache: unmarshal payload: %w", err)
		}
		rec.Payload = &p
	}
	if raw := fields["expires_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			rec.ExpiresAt = &t
		}
	}
	if raw := fields["created_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			rec.CreatedAt = t
		}
	}
	if raw := fields["last_used_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			rec.LastUsedAt = t
		}
	}
	if raw := fields["last_accessed_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			rec.LastAccessedAt = t
		}
	}
	return rec, nil
}

func (s *RedisStore) Reset(ctx context.Context, fingerprint string) error {
	exists, err := s.rdb.Exists(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return fmt.Errorf("cache: reset: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.key(fingerprint), "payload", "expires_at")
	pipe.HSet(ctx, s.key(fingerprint), "threshold", s.threshold)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: reset: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrementHits(ctx context.Context, fingerprint string) error {
	if err := s.rdb.HIncrBy(ctx, s.key(fingerprint), "hits", 1).Err(); err != nil {
		return fmt.Errorf("cache: increment hits: %w", err)
	}
	return nil
}

func (s *RedisStore) TouchLastUsed(ctx context.Context, fingerprint string) error {
	now := time.Now().Format(time.RFC3339Nano)
	if err := s.rdb.HSet(ctx, s.key(fingerprint), "last_used_at", now).Err(); err != nil {
		return fmt.Errorf("cache: touch last used: %w", err)
	}
	return nil
}

func (s *RedisStore) TouchLastAccessed(ctx context.Context, fingerprint string) error {
	now := time.Now().Format(time.RFC3339Nano)
	if err := s.rdb.HSet(ctx, s.key(fingerprint), "last_accessed_at", now).Err(); err != nil {
		return fmt.Errorf("cache: touch last accessed: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
