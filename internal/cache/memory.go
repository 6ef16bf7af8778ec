package cache

import (
	"context"
	"sync"
	"time"

	"github.com/af-corp/conduit/internal/types"
)

// MemoryStore is a Store backed by a mutex-guarded map.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	threshold int
	ttl       time.Duration
}

// NewMemoryStore creates an in-process cache store. Non-positive threshold or
// TTL fall back to the defaults.
func NewMemoryStore(threshold int, ttl time.Duration) *MemoryStore {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		records:   make(map[string]*Record),
		threshold: threshold,
		ttl:       ttl,
	}
}

func (s *MemoryStore) AddQuery(ctx context.Context, fingerprint, query string, kind types.ResponseKind) error {
	if fingerprint == "" || query == "" {
		return ErrEmptyQuery
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.records[fingerprint] = &Record{
		Fingerprint:    fingerprint,
		Query:          query,
		Kind:           kind,
		Threshold:      s.threshold,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	return nil
}

func (s *MemoryStore) DecrementThreshold(ctx context.Context, fingerprint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return -1, ErrNotFound
	}
	if rec.Threshold > 0 {
		rec.Threshold--
	}
	return rec.Threshold, nil
}

func (s *MemoryStore) CacheResponse(ctx context.Context, fingerprint string, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return ErrNotFound
	}
	expires := time.Now().Add(s.ttl)
	rec.Payload = &p
	rec.ExpiresAt = &expires
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, fingerprint string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	if rec.Payload != nil {
		p := *rec.Payload
		cp.Payload = &p
	}
	return &cp, nil
}

func (s *MemoryStore) Reset(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return ErrNotFound
	}
	rec.Payload = nil
	rec.ExpiresAt = nil
	rec.Threshold = s.threshold
	return nil
}

func (s *MemoryStore) IncrementHits(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return ErrNotFound
	}
	rec.Hits++
	return nil
}

func (s *MemoryStore) TouchLastUsed(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return ErrNotFound
	}
	rec.LastUsedAt = time.Now()
	return nil
}

func (s *MemoryStore) TouchLastAccessed(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return ErrNotFound
	}
	rec.LastAccessedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
