package cache

import (
	"context"

	"github.com/af-corp/conduit/internal/types"
)

// Store persists cache records keyed by fingerprint. Backends: in-process
// map (MemoryStore) and Redis (RedisStore). Implementations must tolerate
// concurrent callers; last write wins on races.
type Store interface {
	// AddQuery inserts a fresh record with the configured threshold and no
	// payload. Fails with ErrEmptyQuery on empty input.
	AddQuery(ctx context.Context, fingerprint, query string, kind types.ResponseKind) error

	// DecrementThreshold decrements the countdown by 1, flooring at 0, and
	// returns the remaining value. Unknown fingerprints return -1 and
	// ErrNotFound.
	DecrementThreshold(ctx context.Context, fingerprint string) (int, error)

	// CacheResponse attaches a payload and a fresh expiry. This is the only
	// operation that ever sets a payload.
	CacheResponse(ctx context.Context, fingerprint string, p Payload) error

	// GetRecord returns the record for a fingerprint, failing with
	// ErrNotFound if it has never been seen.
	GetRecord(ctx context.Context, fingerprint string) (*Record, error)

	// Reset clears the payload and restores the threshold to the configured
	// starting value. Called on expiry detection.
	Reset(ctx context.Context, fingerprint string) error

	// IncrementHits bumps the hit counter. Observability only; never affects
	// admission.
	IncrementHits(ctx context.Context, fingerprint string) error

	// TouchLastUsed / TouchLastAccessed update observability timestamps.
	TouchLastUsed(ctx context.Context, fingerprint string) error
	TouchLastAccessed(ctx context.Context, fingerprint string) error
}
