package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "conduit:cred:"

// PostgresStore is a Store backed by PostgreSQL with an optional Redis
// read-through cache in front of Get. Mutations invalidate the cached entry.
type PostgresStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

// NewPostgresStore creates a PostgresStore. rdb may be nil to disable the
// read cache.
func NewPostgresStore(db *pgxpool.Pool, rdb *redis.Client) *PostgresStore {
	return &PostgresStore{db: db, redis: rdb}
}

func (s *PostgresStore) Add(ctx context.Context, token string, nc NewCredential) error {
	if nc.OwnerID == "" {
		return ErrOwnerRequired
	}

	status := nc.Status
	if status == "" {
		status = StatusActive
	}
	endpoints := nc.AllowedEndpoints
	if len(endpoints) == 0 {
		endpoints = []string{EndpointAll}
	}
	endpointsJSON, err := json.Marshal(endpoints)
	if err != nil {
		return fmt.Errorf("marshal allowed endpoints: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO credentials (token_hash, owner_id, status, allowed_endpoints, request_limit)
		VALUES ($1, $2, $3, $4, $5)
	`, HashToken(token), nc.OwnerID, string(status), endpointsJSON, nc.RequestLimit)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, token string, upd Update) error {
	hash := HashToken(token)

	set := "updated_at = NOW()"
	args := []any{hash}
	n := 2
	if upd.Status != nil {
		set += fmt.Sprintf(", status = $%d", n)
		args = append(args, string(*upd.Status))
		n++
	}
	if upd.AllowedEndpoints != nil {
		endpointsJSON, err := json.Marshal(upd.AllowedEndpoints)
		if err != nil {
			return fmt.Errorf("marshal allowed endpoints: %w", err)
		}
		set += fmt.Sprintf(", allowed_endpoints = $%d", n)
		args = append(args, endpointsJSON)
		n++
	}
	if upd.RequestCount != nil {
		set += fmt.Sprintf(", request_count = $%d", n)
		args = append(args, *upd.RequestCount)
		n++
	}
	if upd.RequestLimit != nil {
		set += fmt.Sprintf(", request_limit = $%d", n)
		args = append(args, *upd.RequestLimit)
	}

	tag, err := s.db.Exec(ctx, "UPDATE credentials SET "+set+" WHERE token_hash = $1", args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	s.invalidate(ctx, hash)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (*Record, bool, error) {
	hash := HashToken(token)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+hash).Bytes()
		if err == nil {
			var rec Record
			if err := json.Unmarshal(cached, &rec); err == nil {
				return &rec, true, nil
			}
		}
	}

	rec, err := s.getDB(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}

	if s.redis != nil {
		if data, err := json.Marshal(rec); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+hash, data, redisCacheTTL)
		}
	}
	return rec, true, nil
}

func (s *PostgresStore) getDB(ctx context.Context, hash string) (*Record, error) {
	var rec Record
	var endpointsJSON []byte
	var status string
	var lastUsed *time.Time

	err := s.db.QueryRow(ctx, `
		SELECT token_hash, owner_id, status, allowed_endpoints, request_count,
		       request_limit, last_used_at, created_at
		FROM credentials
		WHERE token_hash = $1
	`, hash).Scan(
		&rec.TokenHash,
		&rec.OwnerID,
		&status,
		&endpointsJSON,
		&rec.RequestCount,
		&rec.RequestLimit,
		&lastUsed,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query credentials: %w", err)
	}

	rec.Status = Status(status)
	if lastUsed != nil {
		rec.LastUsedAt = *lastUsed
	}
	if len(endpointsJSON) > 0 {
		if err := json.Unmarshal(endpointsJSON, &rec.AllowedEndpoints); err != nil {
			return nil, fmt.Errorf("decode allowed endpoints: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, token string) (bool, error) {
	hash := HashToken(token)

	tag, err := s.db.Exec(ctx, `DELETE FROM credentials WHERE token_hash = $1`, hash)
	if err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}

	s.invalidate(ctx, hash)
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) IncrementRequests(ctx context.Context, token string) error {
	hash := HashToken(token)

	tag, err := s.db.Exec(ctx, `
		UPDATE credentials
		SET request_count = request_count + 1, last_used_at = NOW()
		WHERE token_hash = $1
	`, hash)
	if err != nil {
		return fmt.Errorf("increment requests: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	s.invalidate(ctx, hash)
	return nil
}

func (s *PostgresStore) invalidate(ctx context.Context, hash string) {
	if s.redis != nil {
		s.redis.Del(ctx, redisKeyPrefix+hash)
	}
}

var _ Store = (*PostgresStore)(nil)
