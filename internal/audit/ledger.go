// Package audit implements the append-only, hash-chained audit ledger that
// underpins the regulated workflow engine. Records are write-once: updates
// are modeled as new records referencing the old one, and archival (not
// deletion) is the only retirement path.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Entry is the caller-facing input for one audit append. Old and New are
// arbitrary state snapshots serialized to canonical JSON before hashing.
type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	OldState   any
	NewState   any
}

// Ledger appends hash-chained audit records and verifies chain integrity.
// It is a plain handle passed into every engine operation; there is no
// package-level singleton.
type Ledger struct {
	store  Store
	logger *zap.Logger
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

// Append writes one record to the entity's chain. The store links it to the
// previous record (or the genesis value) atomically, so concurrent appends
// for the same entity serialize rather than fork the chain.
func (l *Ledger) Append(ctx context.Context, entry Entry) (model.AuditRecord, error) {
	oldJSON, err := canonicalJSON(entry.OldState)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("audit: marshal old state: %w", err)
	}
	newJSON, err := canonicalJSON(entry.NewState)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("audit: marshal new state: %w", err)
	}

	rec := model.AuditRecord{
		ID:         uuid.New().String(),
		Actor:      entry.Actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		OldState:   oldJSON,
		NewState:   newJSON,
		Timestamp:  time.Now().UTC(),
	}

	if err := l.store.Append(ctx, &rec); err != nil {
		return model.AuditRecord{}, err
	}

	l.logger.Debug("audit record appended",
		zap.String("action", rec.Action),
		zap.String("entity_type", rec.EntityType),
		zap.String("entity_id", rec.EntityID),
	)
	return rec, nil
}

// VerifyChain walks one entity's full history and recomputes every hash.
// The first mismatch is reported; all records after it are suspect.
func (l *Ledger) VerifyChain(ctx context.Context, entityType, entityID string) (model.ChainReport, error) {
	records, err := l.store.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return model.ChainReport{}, err
	}

	report := model.ChainReport{
		EntityType: entityType,
		EntityID:   entityID,
		Records:    len(records),
		Valid:      true,
	}

	prevHash := model.GenesisHash
	for _, rec := range records {
		if rec.PrevHash != prevHash || rec.ContentHash != ComputeHash(rec) {
			report.Valid = false
			report.BrokenAt = rec.ID
			l.logger.Error("audit chain integrity failure",
				zap.String("entity_type", entityType),
				zap.String("entity_id", entityID),
				zap.String("record_id", rec.ID),
			)
			return report, nil
		}
		prevHash = rec.ContentHash
	}
	return report, nil
}

// VerifyRecord recomputes a single record's hash against the stored value.
func (l *Ledger) VerifyRecord(rec model.AuditRecord) bool {
	return rec.ContentHash == ComputeHash(rec)
}

// Query returns records matching the filter, ordered by timestamp ascending.
func (l *Ledger) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditRecord, error) {
	return l.store.Query(ctx, filter)
}

// ComputeHash derives a record's content hash from its own fields plus the
// previous record's hash. The input is a canonical sorted-key JSON object so
// the hash is reproducible across implementations.
func ComputeHash(rec model.AuditRecord) string {
	payload := map[string]string{
		"actor":       rec.Actor,
		"action":      rec.Action,
		"entity_type": rec.EntityType,
		"entity_id":   rec.EntityID,
		"old_state":   string(rec.OldState),
		"new_state":   string(rec.NewState),
		"timestamp":   rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":   rec.PrevHash,
	}
	// encoding/json serializes map keys in sorted order, which is the
	// canonical form verify() depends on.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal sets the record's content hash. Stores call this after assigning
// PrevHash under their append lock.
func Seal(rec *model.AuditRecord) {
	rec.ContentHash = ComputeHash(*rec)
}

// canonicalJSON marshals v, passing through pre-encoded JSON untouched and
// mapping nil to null so hashing input is deterministic.
func canonicalJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
