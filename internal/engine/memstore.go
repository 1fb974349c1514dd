package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// MemoryStore is an in-memory Store for tests and local development. ExecTx
// holds the store lock for the whole transaction, which serializes mutations
// the way row locks do in the PostgreSQL store, and restores a snapshot on
// rollback.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance
	steps     map[string]model.WorkflowStep
}

// NewMemoryStore creates an empty in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.WorkflowInstance),
		steps:     make(map[string]model.WorkflowStep),
	}
}

func (s *MemoryStore) ExecTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapInstances := make(map[string]model.WorkflowInstance, len(s.instances))
	for k, v := range s.instances {
		snapInstances[k] = v
	}
	snapSteps := make(map[string]model.WorkflowStep, len(s.steps))
	for k, v := range s.steps {
		snapSteps[k] = v
	}

	if err := fn(&memTx{store: s}); err != nil {
		s.instances = snapInstances
		s.steps = snapSteps
		return err
	}
	return nil
}

func (s *MemoryStore) GetInstance(_ context.Context, id string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getInstance(id)
}

func (s *MemoryStore) GetStep(_ context.Context, id string) (model.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getStep(id)
}

func (s *MemoryStore) FindActiveByTarget(_ context.Context, targetType, targetID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findActiveByTarget(targetType, targetID)
}

func (s *MemoryStore) LatestByTarget(_ context.Context, targetType, targetID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest model.WorkflowInstance
		found  bool
	)
	for _, inst := range s.instances {
		if inst.TargetType != targetType || inst.TargetID != targetID {
			continue
		}
		if !found || inst.StartedAt.After(latest.StartedAt) {
			latest = inst
			found = true
		}
	}
	if !found {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("no workflow instance for %s %q", targetType, targetID))
	}
	return latest, nil
}

func (s *MemoryStore) ListSteps(_ context.Context, instanceID string) ([]model.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSteps(instanceID), nil
}

func (s *MemoryStore) ListActive(_ context.Context, filters Filters) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status.Terminal() {
			continue
		}
		if filters.TargetType != "" && inst.TargetType != filters.TargetType {
			continue
		}
		if filters.Initiator != "" && inst.Initiator != filters.Initiator {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

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

func (s *MemoryStore) ListExpired(_ context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status.Terminal() || inst.DueAt == nil {
			continue
		}
		if inst.DueAt.Before(cutoff) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) getInstance(id string) (model.WorkflowInstance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", id))
	}
	return inst, nil
}

func (s *MemoryStore) getStep(id string) (model.WorkflowStep, error) {
	step, ok := s.steps[id]
	if !ok {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow step %q not found", id))
	}
	return step, nil
}

func (s *MemoryStore) findActiveByTarget(targetType, targetID string) (model.WorkflowInstance, error) {
	for _, inst := range s.instances {
		if inst.TargetType == targetType && inst.TargetID == targetID && !inst.Status.Terminal() {
			return inst, nil
		}
	}
	return model.WorkflowInstance{}, model.NewNotFoundError(
		fmt.Sprintf("no active workflow for %s %q", targetType, targetID))
}

func (s *MemoryStore) listSteps(instanceID string) []model.WorkflowStep {
	var out []model.WorkflowStep
	for _, step := range s.steps {
		if step.InstanceID == instanceID {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// memTx mutates the store directly; rollback is handled by the snapshot in
// ExecTx. The caller already holds the store lock.
type memTx struct {
	store *MemoryStore
}

func (t *memTx) CreateInstance(_ context.Context, inst model.WorkflowInstance) error {
	if _, ok := t.store.instances[inst.ID]; ok {
		return model.NewConflictError(fmt.Sprintf("workflow instance %q already exists", inst.ID))
	}
	t.store.instances[inst.ID] = inst
	return nil
}

func (t *memTx) CreateStep(_ context.Context, step model.WorkflowStep) error {
	if _, ok := t.store.steps[step.ID]; ok {
		return model.NewConflictError(fmt.Sprintf("workflow step %q already exists", step.ID))
	}
	t.store.steps[step.ID] = step
	return nil
}

func (t *memTx) GetInstanceForUpdate(_ context.Context, id string) (model.WorkflowInstance, error) {
	return t.store.getInstance(id)
}

func (t *memTx) GetStepForUpdate(_ context.Context, id string) (model.WorkflowStep, error) {
	return t.store.getStep(id)
}

func (t *memTx) FindActiveByTarget(_ context.Context, targetType, targetID string) (model.WorkflowInstance, error) {
	return t.store.findActiveByTarget(targetType, targetID)
}

func (t *memTx) UpdateInstance(_ context.Context, inst model.WorkflowInstance) error {
	current, ok := t.store.instances[inst.ID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("workflow instance %q not found", inst.ID))
	}
	if current.Version != inst.Version {
		return model.NewConflictError(fmt.Sprintf(
			"workflow instance %q version mismatch: have %d, want %d",
			inst.ID, inst.Version, current.Version))
	}
	inst.Version++
	t.store.instances[inst.ID] = inst
	return nil
}

func (t *memTx) UpdateStep(_ context.Context, step model.WorkflowStep) error {
	if _, ok := t.store.steps[step.ID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("workflow step %q not found", step.ID))
	}
	t.store.steps[step.ID] = step
	return nil
}

func (t *memTx) ListSteps(_ context.Context, instanceID string) ([]model.WorkflowStep, error) {
	return t.store.listSteps(instanceID), nil
}
