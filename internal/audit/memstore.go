package audit

import (
	"context"
	"sync"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// MemoryStore is an in-memory audit Store for testing and single-instance
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records []model.AuditRecord
	heads   map[string]string // entity key -> latest content hash
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{heads: make(map[string]string)}
}

func entityKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// Append links the record to the entity's chain head, seals it, and stores it.
func (s *MemoryStore) Append(_ context.Context, rec *model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(rec.EntityType, rec.EntityID)
	prev, ok := s.heads[key]
	if !ok {
		prev = model.GenesisHash
	}
	rec.PrevHash = prev
	Seal(rec)

	s.records = append(s.records, *rec)
	s.heads[key] = rec.ContentHash
	return nil
}

// ListByEntity returns an entity's history in append order.
func (s *MemoryStore) ListByEntity(_ context.Context, entityType, entityID string) ([]model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AuditRecord
	for _, rec := range s.records {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Query returns records matching the filter in append order.
func (s *MemoryStore) Query(_ context.Context, filter model.AuditFilter) ([]model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AuditRecord
	for _, rec := range s.records {
		if filter.Actor != "" && rec.Actor != filter.Actor {
			continue
		}
		if filter.EntityType != "" && rec.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && rec.EntityID != filter.EntityID {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && rec.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.Timestamp.After(filter.To) {
			continue
		}
		result = append(result, rec)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []model.AuditRecord{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Tamper overwrites a stored record in place, bypassing the append-only
// path. Exists only so integrity tests can forge history.
func (s *MemoryStore) Tamper(recordID string, mutate func(*model.AuditRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID == recordID {
			mutate(&s.records[i])
			return true
		}
	}
	return false
}
