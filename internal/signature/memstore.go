package signature

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// MemoryStore is an in-memory signature Store for testing.
type MemoryStore struct {
	mu         sync.RWMutex
	signatures map[string]model.Signature
}

// NewMemoryStore creates a new in-memory signature store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{signatures: make(map[string]model.Signature)}
}

// Create inserts a new signature.
func (s *MemoryStore) Create(_ context.Context, sig model.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signatures[sig.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("signature %q already exists", sig.ID))
	}
	s.signatures[sig.ID] = sig
	return nil
}

// Get retrieves a signature by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, exists := s.signatures[id]
	if !exists {
		return model.Signature{}, model.NewNotFoundError(fmt.Sprintf("signature %q not found", id))
	}
	return sig, nil
}

// MarkInvalid records the invalidation fields.
func (s *MemoryStore) MarkInvalid(_ context.Context, sig model.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.signatures[sig.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("signature %q not found", sig.ID))
	}

	// Only the invalidation fields may change.
	existing.Valid = sig.Valid
	existing.InvalidationReason = sig.InvalidationReason
	existing.InvalidatedBy = sig.InvalidatedBy
	existing.InvalidatedAt = sig.InvalidatedAt
	s.signatures[sig.ID] = existing
	return nil
}

// ListByTarget returns all signatures for a target in signing order.
func (s *MemoryStore) ListByTarget(_ context.Context, targetType, targetID string) ([]model.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Signature
	for _, sig := range s.signatures {
		if sig.TargetType == targetType && sig.TargetID == targetID {
			result = append(result, sig)
		}
	}
	sortBySignedAt(result)
	return result, nil
}

// ListByStep returns all signatures referencing a workflow step.
func (s *MemoryStore) ListByStep(_ context.Context, stepID string) ([]model.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Signature
	for _, sig := range s.signatures {
		if sig.StepID != nil && *sig.StepID == stepID {
			result = append(result, sig)
		}
	}
	sortBySignedAt(result)
	return result, nil
}

func sortBySignedAt(sigs []model.Signature) {
	sort.Slice(sigs, func(i, j int) bool {
		return sigs[i].SignedAt.Before(sigs[j].SignedAt)
	})
}
