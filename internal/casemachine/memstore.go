package casemachine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]model.Case
}

// NewMemoryStore creates an empty in-memory case store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]model.Case)}
}

func (s *MemoryStore) Create(_ context.Context, c model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return model.NewConflictError(fmt.Sprintf("case %q already exists", c.ID))
	}
	s.cases[c.ID] = cloneCase(c)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return model.Case{}, model.NewNotFoundError(fmt.Sprintf("case %q not found", id))
	}
	return cloneCase(c), nil
}

func (s *MemoryStore) Update(_ context.Context, c model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cases[c.ID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("case %q not found", c.ID))
	}
	if current.Version != c.Version {
		return model.NewConflictError(fmt.Sprintf(
			"case %q version mismatch: have %d, want %d", c.ID, c.Version, current.Version))
	}
	c.Version++
	s.cases[c.ID] = cloneCase(c)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filters Filters) ([]model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Case
	for _, c := range s.cases {
		if filters.Kind != "" && c.Kind != filters.Kind {
			continue
		}
		if filters.Status != "" && c.Status != filters.Status {
			continue
		}
		if filters.Owner != "" && c.Owner != filters.Owner {
			continue
		}
		out = append(out, cloneCase(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })

	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func cloneCase(c model.Case) model.Case {
	items := make([]model.ActionItem, len(c.ActionItems))
	copy(items, c.ActionItems)
	c.ActionItems = items
	return c
}
