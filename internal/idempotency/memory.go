package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. Suitable for a single API instance.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Prune drops expired records and returns how many were removed.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, record := range s.records {
		if !now.Before(record.ExpiresAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Prune every interval until Stop is called.
func (s *MemoryStore) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) Begin(_ context.Context, key string, ttl time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.records[key]; ok && now.Before(existing.ExpiresAt) {
		record := existing
		return &record, nil
	}
	s.records[key] = Record{Key: key, State: StatePending, ExpiresAt: now.Add(ttl)}
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, status int, body []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = Record{
		Key:       key,
		State:     StateComplete,
		Status:    status,
		Body:      body,
		ExpiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}
