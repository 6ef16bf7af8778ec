// Package cache implements threshold-gated response caching. A query's
// response is cached only after its fingerprint has been seen a configured
// number of times, so one-off questions never occupy the cache.
package cache

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/af-corp/conduit/internal/types"
)

const (
	// DefaultThreshold is the number of sightings before a response is cached.
	DefaultThreshold = 3
	// DefaultTTL is the lifetime of a cached payload.
	DefaultTTL = 24 * time.Hour
)

var (
	// ErrNotFound distinguishes "never asked before" from "asked, not yet
	// cached": GetRecord fails with it rather than returning an absent value.
	ErrNotFound = errors.New("cache: record not found")

	// ErrEmptyQuery rejects AddQuery calls with no fingerprint or query text.
	ErrEmptyQuery = errors.New("cache: fingerprint and query must not be empty")

	// ErrKindMismatch is raised when a stored payload does not carry the shape
	// its kind tag promises. The pipeline fails loudly on it instead of
	// coercing.
	ErrKindMismatch = errors.New("cache: cached payload does not match its declared kind")
)

// Payload is a kind-tagged cached response. Body holds text and serialized
// structured output; Media holds the media shape.
type Payload struct {
	Kind  types.ResponseKind `json:"kind"`
	Body  string             `json:"body,omitempty"`
	Media *types.Media       `json:"media,omitempty"`
}

// Validate checks the tag/shape discipline of a payload.
func (p *Payload) Validate() error {
	switch p.Kind {
	case types.KindText, types.KindStructured:
		if p.Media != nil {
			return ErrKindMismatch
		}
	case types.KindMedia:
		if p.Media == nil {
			return ErrKindMismatch
		}
	default:
		return ErrKindMismatch
	}
	return nil
}

// Record is the stored state for one fingerprint.
type Record struct {
	Fingerprint string             `json:"fingerprint"`
	Query       string             `json:"query"`
	Kind        types.ResponseKind `json:"kind"`

	// Threshold counts down from the configured N; the payload is attached
	// by the sighting whose decrement reaches 0.
	Threshold int      `json:"threshold"`
	Hits      int64    `json:"hits"`
	Payload   *Payload `json:"payload,omitempty"`

	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     time.Time  `json:"last_used_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Expired reports whether the record holds a payload past its expiry. Expired
// records are misses that must also be Reset, never served.
func (r *Record) Expired(now time.Time) bool {
	return r.Payload != nil && r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Fingerprint computes a deterministic cache key over the given parts. Parts
// are joined with a unit separator so ("ab","c") and ("a","bc") differ.
func Fingerprint(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%x", h)
}
