package storage

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/credsync/record"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultEphemeralSize = 1024
	defaultEphemeralTTL  = 30 * time.Minute
)

// EphemeralStore survives only within one browsing/session context: entries
// expire after the session TTL and Purge drops everything when the context ends.
type EphemeralStore struct {
	// mu serializes compare-and-set; the LRU itself is already safe for
	// concurrent use.
	mu  sync.Mutex
	lru *expirable.LRU[string, record.Record]
}

// NewEphemeralStore builds a session-scoped tier holding at most size records
// for at most ttl each. Non-positive values fall back to defaults.
func NewEphemeralStore(size int, ttl time.Duration) *EphemeralStore {
	if size <= 0 {
		size = defaultEphemeralSize
	}
	if ttl <= 0 {
		ttl = defaultEphemeralTTL
	}
	return &EphemeralStore{
		lru: expirable.NewLRU[string, record.Record](size, nil, ttl),
	}
}

func (s *EphemeralStore) Tier() Tier { return TierEphemeral }

func (s *EphemeralStore) Capability() Capability { return CapabilityCache }

func (s *EphemeralStore) Get(_ context.Context, key record.Key) (record.Record, bool, error) {
	rec, ok := s.lru.Get(key.String())
	if !ok {
		return record.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *EphemeralStore) Set(_ context.Context, key record.Key, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	stored, found := s.lru.Peek(k)
	if err := checkVersion(TierEphemeral, stored, found, rec); err != nil {
		return err
	}
	s.lru.Add(k, rec.Clone())
	return nil
}

func (s *EphemeralStore) Delete(_ context.Context, key record.Key) error {
	s.lru.Remove(key.String())
	return nil
}

// Purge ends the session context and drops every entry.
func (s *EphemeralStore) Purge() {
	s.lru.Purge()
}

// Len returns the number of live entries.
func (s *EphemeralStore) Len() int {
	return s.lru.Len()
}
