package casemachine

import (
	"context"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Filters narrow List results.
type Filters struct {
	Kind   model.CaseKind
	Status model.CaseStatus
	Owner  string
	Limit  int
	Offset int
}

// Store persists cases and their action items.
type Store interface {
	Create(ctx context.Context, c model.Case) error

	Get(ctx context.Context, id string) (model.Case, error)

	// Update persists a case with optimistic locking: the stored version
	// must match c.Version and is incremented. Returns CONFLICT on
	// mismatch.
	Update(ctx context.Context, c model.Case) error

	// List returns cases, newest first.
	List(ctx context.Context, filters Filters) ([]model.Case, error)
}
