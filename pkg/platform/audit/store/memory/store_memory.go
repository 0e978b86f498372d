package memory

import (
	"context"
	"slices"
	"sync"

	audit "alma/pkg/platform/audit"
	txcontext "alma/pkg/platform/tx"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// Append records event. Inside a staged transaction the write waits for commit.
func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	if staged, ok := txcontext.StagedFrom(ctx); ok {
		staged.Defer(func() { s.append(event) })
		return nil
	}
	s.append(event)
	return nil
}

func (s *InMemoryStore) append(event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entity string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Entity == entity {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns the most recent limit events, newest last.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.events)-limit, 0)
	return slices.Clone(s.events[start:]), nil
}
