package history

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	messages  []Message
	updatedAt time.Time
}

// MemoryStore is a Store backed by a mutex-guarded map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, initial []Message) (string, error) {
	id, err := NewConversationID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = &memoryRecord{
		messages:  stampMessages(initial),
		updatedAt: time.Now(),
	}
	return id, nil
}

func (s *MemoryStore) Overwrite(ctx context.Context, id string, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.messages = stampMessages(messages)
	rec.updatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, id string, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.messages = append(rec.messages, stampMessages(messages)...)
	rec.updatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Fetch(ctx context.Context, id string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Message(nil), rec.messages...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}

func stampMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	now := time.Now()
	for i, m := range messages {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		out[i] = m
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
