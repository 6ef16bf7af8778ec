package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store backed by a mutex-guarded map.
// Suitable for tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed by token hash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Add(ctx context.Context, token string, nc NewCredential) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[HashToken(token)] = &Record{
		TokenHash:        HashToken(token),
		OwnerID:          nc.OwnerID,
		Status:           status,
		AllowedEndpoints: append([]string(nil), endpoints...),
		RequestLimit:     nc.RequestLimit,
		CreatedAt:        time.Now(),
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, token string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[HashToken(token)]
	if !ok {
		return ErrTokenNotFound
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.AllowedEndpoints != nil {
		rec.AllowedEndpoints = append([]string(nil), upd.AllowedEndpoints...)
	}
	if upd.RequestCount != nil {
		rec.RequestCount = *upd.RequestCount
	}
	if upd.RequestLimit != nil {
		rec.RequestLimit = upd.RequestLimit
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[HashToken(token)]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	cp.AllowedEndpoints = append([]string(nil), rec.AllowedEndpoints...)
	return &cp, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := HashToken(token)
	_, ok := s.records[hash]
	delete(s.records, hash)
	return ok, nil
}

func (s *MemoryStore) IncrementRequests(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[HashToken(token)]
	if !ok {
		return ErrTokenNotFound
	}
	rec.RequestCount++
	rec.LastUsedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
