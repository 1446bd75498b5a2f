package capability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps capabilities in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Capability
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Capability)}
}

func (s *MemoryStore) Put(ctx context.Context, c Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.Token]; exists {
		return fmt.Errorf("capability token collision")
	}
	s.items[c.Token] = c
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, session, token string) (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[token]
	if !ok || c.Session != session {
		return Capability{}, ErrNotFound
	}
	delete(s.items, token)
	return c, nil
}

func (s *MemoryStore) TakeExpired(ctx context.Context, now time.Time) ([]Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Capability
	for token, c := range s.items {
		if c.Expired(now) {
			out = append(out, c)
			delete(s.items, token)
		}
	}
	return out, nil
}

// Len reports how many capabilities are pending.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
