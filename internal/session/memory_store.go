package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	mode      string
	expiresAt time.Time
}

// MemoryStore implements mode storage in process memory. It is selected at
// wiring time when no Redis URL is configured. Entries are evicted lazily
// on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (s *MemoryStore) GetMode(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		return ModeIdle, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, userID)
		return ModeIdle, nil
	}
	return entry.mode, nil
}

func (s *MemoryStore) SetMode(_ context.Context, userID, mode string) error {
	if !ValidMode(mode) {
		return errUnknownMode(mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = memoryEntry{mode: mode, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) ClearMode(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
