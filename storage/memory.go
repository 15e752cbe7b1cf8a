package storage

import (
	"context"
	"sync"

	"github.com/MrEthical07/credsync/record"
)

// MemoryStore keeps records in process memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]record.Record
}

// NewMemoryStore returns an empty in-process tier.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]record.Record)}
}

func (s *MemoryStore) Tier() Tier { return TierMemory }

func (s *MemoryStore) Capability() Capability { return CapabilityCache }

func (s *MemoryStore) Get(_ context.Context, key record.Key) (record.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[key.String()]
	if !ok {
		return record.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key record.Key, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	stored, found := s.data[k]
	if err := checkVersion(TierMemory, stored, found, rec); err != nil {
		return err
	}
	s.data[k] = rec.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key record.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key.String())
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
