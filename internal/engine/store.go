package engine

import (
	"context"
	"time"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Tx is the transactional view the engine mutates through. Implementations
// must hold row locks taken by the ForUpdate methods until the transaction
// ends so concurrent completion attempts serialize.
type Tx interface {
	CreateInstance(ctx context.Context, inst model.WorkflowInstance) error
	CreateStep(ctx context.Context, step model.WorkflowStep) error

	// GetInstanceForUpdate loads an instance under an exclusive row lock.
	GetInstanceForUpdate(ctx context.Context, id string) (model.WorkflowInstance, error)

	// GetStepForUpdate loads a step under an exclusive row lock.
	GetStepForUpdate(ctx context.Context, id string) (model.WorkflowStep, error)

	// FindActiveByTarget returns the non-terminal instance for a target, or
	// NOT_FOUND. Used inside Initiate to enforce single-active-instance.
	FindActiveByTarget(ctx context.Context, targetType, targetID string) (model.WorkflowInstance, error)

	// UpdateInstance persists an instance with optimistic locking: the
	// stored version must match inst.Version, and is incremented. Returns
	// CONFLICT on mismatch.
	UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error

	UpdateStep(ctx context.Context, step model.WorkflowStep) error

	ListSteps(ctx context.Context, instanceID string) ([]model.WorkflowStep, error)
}

// Filters narrow ListActive results.
type Filters struct {
	TargetType string
	Initiator  string
	Limit      int
	Offset     int
}

// Store persists workflow instances and their steps. All engine mutations
// run inside ExecTx; the remaining methods are lock-free reads.
type Store interface {
	// ExecTx runs fn inside one transaction, committing if fn returns nil
	// and rolling back every change otherwise.
	ExecTx(ctx context.Context, fn func(tx Tx) error) error

	GetInstance(ctx context.Context, id string) (model.WorkflowInstance, error)

	GetStep(ctx context.Context, id string) (model.WorkflowStep, error)

	// FindActiveByTarget returns the non-terminal instance for a target, or
	// NOT_FOUND.
	FindActiveByTarget(ctx context.Context, targetType, targetID string) (model.WorkflowInstance, error)

	// LatestByTarget returns the most recently started instance for a
	// target regardless of status, or NOT_FOUND.
	LatestByTarget(ctx context.Context, targetType, targetID string) (model.WorkflowInstance, error)

	ListSteps(ctx context.Context, instanceID string) ([]model.WorkflowStep, error)

	// ListActive returns non-terminal instances, newest first.
	ListActive(ctx context.Context, filters Filters) ([]model.WorkflowInstance, error)

	// ListExpired returns non-terminal instances whose due date is before
	// the cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error)
}
