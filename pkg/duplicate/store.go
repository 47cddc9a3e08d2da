// Package duplicate implements receiver-side duplicate detection for
// inbound message IDs. A Store records which IDs have been seen inside
// a sliding window so that retransmitted messages can be answered with
// the original signal instead of being redelivered.
package duplicate

import (
	"context"
	"sync"
	"time"
)

// Store persists seen message IDs. CheckAndRecord is the only mutation
// receivers need on the hot path and must be atomic: two concurrent
// calls with the same ID must not both report first-sight.
type Store interface {
	// CheckAndRecord records the ID and reports whether it was already
	// present. It returns (true, nil) for a duplicate and (false, nil)
	// when the ID was recorded for the first time.
	CheckAndRecord(ctx context.Context, messageID string, seenAt time.Time) (bool, error)

	// Contains reports whether the ID is retained, without recording it.
	Contains(ctx context.Context, messageID string) (bool, error)

	// Expire removes entries seen before the cutoff.
	Expire(ctx context.Context, cutoff time.Time) (int, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Count returns the number of retained entries.
	Count(ctx context.Context) (int, error)
}

// MemoryStore is the default in-process Store. It is safe for
// concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (s *MemoryStore) CheckAndRecord(_ context.Context, messageID string, seenAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[messageID]; ok {
		return true, nil
	}
	s.seen[messageID] = seenAt
	return false, nil
}

func (s *MemoryStore) Contains(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[messageID]
	return ok, nil
}

func (s *MemoryStore) Expire(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]time.Time)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen), nil
}
