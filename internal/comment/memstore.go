package comment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	comments map[string]model.Comment
}

// NewMemoryStore creates an empty in-memory comment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{comments: make(map[string]model.Comment)}
}

func (s *MemoryStore) Create(_ context.Context, c model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[c.ID]; ok {
		return model.NewConflictError(fmt.Sprintf("comment %q already exists", c.ID))
	}
	s.comments[c.ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return model.Comment{}, model.NewNotFoundError(fmt.Sprintf("comment %q not found", id))
	}
	return c, nil
}

func (s *MemoryStore) SetLifecycle(_ context.Context, id string, lc model.CommentLifecycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("comment %q not found", id))
	}
	c.Lifecycle = lc
	s.comments[id] = c
	return nil
}

func (s *MemoryStore) ListByStep(_ context.Context, stepID string, includeArchived bool) ([]model.Comment, error) {
	return s.list(func(c model.Comment) bool { return c.StepID == stepID }, includeArchived), nil
}

func (s *MemoryStore) ListByInstance(_ context.Context, instanceID string, includeArchived bool) ([]model.Comment, error) {
	return s.list(func(c model.Comment) bool { return c.InstanceID == instanceID }, includeArchived), nil
}

func (s *MemoryStore) list(match func(model.Comment) bool, includeArchived bool) []model.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Comment
	for _, c := range s.comments {
		if !match(c) {
			continue
		}
		if !includeArchived && c.Lifecycle != model.CommentActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
