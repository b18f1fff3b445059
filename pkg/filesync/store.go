package filesync

import (
	"context"
	"sync"

	"github.com/odvcencio/testfleet/pkg/fileset"
)

// BaselineStore persists the last acknowledged TestCase per browser.
type BaselineStore interface {
	// Load returns the baseline for browserID. ok is false when none exists.
	Load(ctx context.Context, browserID string) (tc fileset.TestCase, ok bool, err error)
	Save(ctx context.Context, browserID string, tc fileset.TestCase) error
	Delete(ctx context.Context, browserID string) error
}

// MemoryStore is an in-process BaselineStore.
type MemoryStore struct {
	mu        sync.RWMutex
	baselines map[string]fileset.TestCase
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{baselines: make(map[string]fileset.TestCase)}
}

func (s *MemoryStore) Load(_ context.Context, browserID string) (fileset.TestCase, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.baselines[browserID]
	return tc, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, browserID string, tc fileset.TestCase) error {
	s.mu.Lock()
	s.baselines[browserID] = tc
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, browserID string) error {
	s.mu.Lock()
	delete(s.baselines, browserID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored baselines.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}
