package audit

import (
	"context"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Store persists audit records. Implementations must assign PrevHash from
// the entity's latest record (or the genesis value) and seal the record
// atomically with the insert, so two concurrent appends for one entity can
// never both chain off the same predecessor.
type Store interface {
	// Append links, seals, and inserts a new record. The record's ID,
	// payload fields, and timestamp are already set by the ledger.
	Append(ctx context.Context, rec *model.AuditRecord) error

	// ListByEntity returns an entity's full history ordered by append time.
	ListByEntity(ctx context.Context, entityType, entityID string) ([]model.AuditRecord, error)

	// Query returns records matching the filter ordered by append time.
	Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditRecord, error)
}
