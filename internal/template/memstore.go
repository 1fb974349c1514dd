package template

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]model.WorkflowTemplate
}

// NewMemoryStore creates an empty in-memory template store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]model.WorkflowTemplate)}
}

func (s *MemoryStore) Create(_ context.Context, tpl model.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tpl.ID]; ok {
		return model.NewConflictError(fmt.Sprintf("template %q already exists", tpl.ID))
	}
	s.templates[tpl.ID] = cloneTemplate(tpl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return model.WorkflowTemplate{}, model.NewNotFoundError(fmt.Sprintf("template %q not found", id))
	}
	return cloneTemplate(tpl), nil
}

func (s *MemoryStore) FindActive(_ context.Context, targetType, categoryID string) (model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tpl := range s.templates {
		if tpl.Lifecycle == model.TemplateActive && tpl.TargetType == targetType && tpl.CategoryID == categoryID {
			return cloneTemplate(tpl), nil
		}
	}
	return model.WorkflowTemplate{}, model.NewNotFoundError(
		fmt.Sprintf("no active template for target type %q category %q", targetType, categoryID))
}

func (s *MemoryStore) List(_ context.Context, targetType string) ([]model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WorkflowTemplate, 0, len(s.templates))
	for _, tpl := range s.templates {
		if targetType != "" && tpl.TargetType != targetType {
			continue
		}
		out = append(out, cloneTemplate(tpl))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetLifecycle(_ context.Context, id string, lc model.TemplateLifecycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", id))
	}
	tpl.Lifecycle = lc
	s.templates[id] = tpl
	return nil
}

func cloneTemplate(tpl model.WorkflowTemplate) model.WorkflowTemplate {
	steps := make([]model.StepBlueprint, len(tpl.Steps))
	copy(steps, tpl.Steps)
	tpl.Steps = steps
	return tpl
}
