package signature

import (
	"context"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Store persists signatures. Create is insert-only; MarkInvalid is the only
// permitted mutation and may only flip Valid to false with a reason.
type Store interface {
	// Create inserts a new signature. Returns CONFLICT if the ID exists.
	Create(ctx context.Context, sig model.Signature) error

	// Get retrieves a signature by ID. Returns NOT_FOUND if absent.
	Get(ctx context.Context, id string) (model.Signature, error)

	// MarkInvalid records the invalidation fields of an already-loaded
	// signature. Hash and signed-at are never touched.
	MarkInvalid(ctx context.Context, sig model.Signature) error

	// ListByTarget returns all signatures for a target record in signing
	// order.
	ListByTarget(ctx context.Context, targetType, targetID string) ([]model.Signature, error)

	// ListByStep returns all signatures referencing a workflow step.
	ListByStep(ctx context.Context, stepID string) ([]model.Signature, error)
}
