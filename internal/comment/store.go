// Package comment stores discussion threads attached to workflow steps.
// Comments carry no state-machine weight and are never deleted; retiring a
// comment moves it to the archived lifecycle state.
package comment

import (
	"context"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Store persists comments.
type Store interface {
	Create(ctx context.Context, c model.Comment) error

	Get(ctx context.Context, id string) (model.Comment, error)

	// SetLifecycle moves a comment between active and archived.
	SetLifecycle(ctx context.Context, id string, lc model.CommentLifecycle) error

	// ListByStep returns a step's comments oldest first. Archived comments
	// are included only when includeArchived is set.
	ListByStep(ctx context.Context, stepID string, includeArchived bool) ([]model.Comment, error)

	// ListByInstance returns an instance's comments oldest first.
	ListByInstance(ctx context.Context, instanceID string, includeArchived bool) ([]model.Comment, error)
}
