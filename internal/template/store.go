package template

import (
	"context"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Store persists workflow templates.
type Store interface {
	// Create inserts a new template.
	Create(ctx context.Context, tpl model.WorkflowTemplate) error

	// Get returns a template by ID, or NOT_FOUND.
	Get(ctx context.Context, id string) (model.WorkflowTemplate, error)

	// FindActive returns the active template for the target type and
	// category. An empty categoryID matches the type default only.
	FindActive(ctx context.Context, targetType, categoryID string) (model.WorkflowTemplate, error)

	// List returns templates, newest first, optionally filtered by target type.
	List(ctx context.Context, targetType string) ([]model.WorkflowTemplate, error)

	// SetLifecycle updates a template's lifecycle state.
	SetLifecycle(ctx context.Context, id string, lc model.TemplateLifecycle) error
}
