package store

import (
	"context"
	"sync"

	"veritas/internal/anchor/models"
	id "veritas/pkg/domain"
)

type recordKey struct {
	issuer id.IssuerID
	epoch  uint64
}

// InMemoryStore keeps anchor records in memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]models.AnchorRecord
	latest  map[id.IssuerID]uint64
	sealed  uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[recordKey]models.AnchorRecord),
		latest:  make(map[id.IssuerID]uint64),
	}
}

func (s *InMemoryStore) Save(_ context.Context, record models.AnchorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{record.IssuerID, record.Epoch}
	if existing, ok := s.records[key]; ok {
		if sameRecord(existing, record) {
			return nil
		}
		return ErrConflict
	}
	s.records[key] = record
	if record.Epoch > s.latest[record.IssuerID] {
		s.latest[record.IssuerID] = record.Epoch
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, issuerID id.IssuerID, epoch uint64) (models.AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey{issuerID, epoch}]
	if !ok {
		return models.AnchorRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) Latest(_ context.Context, issuerID id.IssuerID) (models.AnchorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	epoch, ok := s.latest[issuerID]
	if !ok {
		return models.AnchorRecord{}, ErrNotFound
	}
	return s.records[recordKey{issuerID, epoch}], nil
}

func (s *InMemoryStore) RecordSealed(_ context.Context, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch > s.sealed {
		s.sealed = epoch
	}
	return nil
}

func (s *InMemoryStore) LastSealed(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed, nil
}
