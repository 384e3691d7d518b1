// testutils/store.go
package testutils

import (
	"context"
	"sync"
)

// InMemoryStore is an in-memory implementation of store.Store for tests.
type InMemoryStore struct {
	mu          sync.RWMutex
	protections map[string]bool
	defaultList string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{protections: make(map[string]bool)}
}

func (s *InMemoryStore) IsProtectionEnabled(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protections[name], nil
}

func (s *InMemoryStore) SetProtectionEnabled(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.protections[name] = true
	} else {
		delete(s.protections, name)
	}
	return nil
}

func (s *InMemoryStore) DefaultList(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultList, nil
}

func (s *InMemoryStore) SetDefaultList(ctx context.Context, shortcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultList = shortcode
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
