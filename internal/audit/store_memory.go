package audit

import (
	"context"
	"sync"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for i := len(s.records) - 1; i >= 0 && len(out) < filter.limit(); i-- {
		if filter.matches(s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}
