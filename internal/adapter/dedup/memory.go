package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process store with the same TTL semantics as the
// Redis store: retention counts from the moment of insertion, and the
// caller-reported first-seen timestamp is carried as payload only. It backs
// single-node deployments and tests. Expiry is lazy on lookup; a janitor
// additionally sweeps the map so memory stays bounded.
type MemoryStore struct {
	retention time.Duration

	mu   sync.RWMutex
	seen map[string]memoryEntry

	stop chan struct{}
	once sync.Once
}

// memoryEntry pairs the reported first-seen timestamp with the insertion
// instant the retention clock runs on.
type memoryEntry struct {
	firstSeen  time.Time
	insertedAt time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	s := &MemoryStore{
		retention: retention,
		seen:      make(map[string]memoryEntry),
		stop:      make(chan struct{}),
	}

	interval := retention
	if interval < time.Second {
		interval = time.Second
	}
	go s.janitor(interval)

	return s
}

func (s *MemoryStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	e, ok := s.seen[eventID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return time.Since(e.insertedAt) < s.retention, nil
}

func (s *MemoryStore) Record(ctx context.Context, eventID string, firstSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.seen[eventID]; ok && time.Since(existing.insertedAt) < s.retention {
		// A live entry wins, matching SETNX; the original firstSeen stays.
		return nil
	}
	s.seen[eventID] = memoryEntry{firstSeen: firstSeen, insertedAt: time.Now()}
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.seen {
		if time.Since(e.insertedAt) >= s.retention {
			delete(s.seen, id)
		}
	}
}
