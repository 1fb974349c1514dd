// Package template manages workflow template blueprints: ordered step
// definitions per target document type, with optional category overrides.
// Templates referenced by an instance are immutable; edits create a new
// version.
package template

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/model"
)

// Registry resolves and administers workflow templates.
type Registry struct {
	store  Store
	ledger *audit.Ledger
	logger *zap.Logger
}

// NewRegistry creates a template registry over the given store.
func NewRegistry(store Store, ledger *audit.Ledger, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, ledger: ledger, logger: logger}
}

// Resolve looks up the active template for a target document type, with the
// category-specific template taking precedence over the type default.
// Absence is reported as NOT_FOUND; the workflow engine treats that as a
// signal to build an ad-hoc single review step, not as a failure.
func (r *Registry) Resolve(ctx context.Context, targetType, categoryID string) (model.WorkflowTemplate, error) {
	if categoryID != "" {
		tpl, err := r.store.FindActive(ctx, targetType, categoryID)
		if err == nil {
			return tpl, nil
		}
		if !model.HasCode(err, model.ErrNotFound) {
			return model.WorkflowTemplate{}, err
		}
	}
	return r.store.FindActive(ctx, targetType, "")
}

// Get returns a template by ID regardless of lifecycle state.
func (r *Registry) Get(ctx context.Context, id string) (model.WorkflowTemplate, error) {
	return r.store.Get(ctx, id)
}

// List returns all templates, optionally filtered by target type.
func (r *Registry) List(ctx context.Context, targetType string) ([]model.WorkflowTemplate, error) {
	return r.store.List(ctx, targetType)
}

// Create validates and persists a new template version. If an active
// template already exists for the same target type and category, the new
// one supersedes it: the predecessor is deprecated and the version counter
// continues from it.
func (r *Registry) Create(ctx context.Context, rctx *model.RequestContext, tpl model.WorkflowTemplate) (model.WorkflowTemplate, error) {
	if verrs := ValidateTemplate(tpl); len(verrs) > 0 {
		return model.WorkflowTemplate{}, model.NewValidationError(verrs)
	}

	tpl.ID = uuid.New().String()
	tpl.Lifecycle = model.TemplateActive
	tpl.Version = 1
	tpl.CreatedBy = rctx.SubjectID
	tpl.CreatedAt = time.Now().UTC()

	prev, err := r.store.FindActive(ctx, tpl.TargetType, tpl.CategoryID)
	switch {
	case err == nil:
		tpl.Version = prev.Version + 1
		if derr := r.store.SetLifecycle(ctx, prev.ID, model.TemplateDeprecated); derr != nil {
			return model.WorkflowTemplate{}, derr
		}
	default:
		if !model.HasCode(err, model.ErrNotFound) {
			return model.WorkflowTemplate{}, err
		}
	}

	if err := r.store.Create(ctx, tpl); err != nil {
		return model.WorkflowTemplate{}, err
	}

	if _, err := r.ledger.Append(ctx, audit.Entry{
		Actor:      rctx.SubjectID,
		Action:     model.AuditTemplateCreated,
		EntityType: "workflow_template",
		EntityID:   tpl.ID,
		NewState:   tpl,
	}); err != nil {
		return model.WorkflowTemplate{}, err
	}

	r.logger.Info("workflow template created",
		zap.String("template_id", tpl.ID),
		zap.String("target_type", tpl.TargetType),
		zap.Int("version", tpl.Version),
	)
	return tpl, nil
}

// Deprecate retires a template. Running instances keep their frozen copy of
// the step blueprints, so deprecation never affects in-flight workflows.
func (r *Registry) Deprecate(ctx context.Context, rctx *model.RequestContext, id string) error {
	tpl, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if tpl.Lifecycle == model.TemplateDeprecated {
		return model.NewConflictError(fmt.Sprintf("template %q is already deprecated", id))
	}

	if err := r.store.SetLifecycle(ctx, id, model.TemplateDeprecated); err != nil {
		return err
	}

	before := tpl
	tpl.Lifecycle = model.TemplateDeprecated
	_, err = r.ledger.Append(ctx, audit.Entry{
		Actor:      rctx.SubjectID,
		Action:     model.AuditTemplateDeprecated,
		EntityType: "workflow_template",
		EntityID:   id,
		OldState:   before,
		NewState:   tpl,
	})
	return err
}

// ValidateTemplate checks the structural rules for a template: contiguous
// step orders starting at 1, positive completion windows, and a single
// approval step unless multi-level approval is enabled.
func ValidateTemplate(tpl model.WorkflowTemplate) []model.FieldError {
	var errs []model.FieldError

	if tpl.Name == "" {
		errs = append(errs, model.FieldError{Field: "name", Code: "REQUIRED", Message: "template name is required"})
	}
	if tpl.TargetType == "" {
		errs = append(errs, model.FieldError{Field: "target_type", Code: "REQUIRED", Message: "target type is required"})
	}
	if len(tpl.Steps) == 0 {
		errs = append(errs, model.FieldError{Field: "steps", Code: "REQUIRED", Message: "at least one step is required"})
		return errs
	}

	approvals := 0
	for i, step := range tpl.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if step.Order != i+1 {
			errs = append(errs, model.FieldError{
				Field: path + ".order", Code: "GAP",
				Message: fmt.Sprintf("step orders must be contiguous starting at 1; got %d at position %d", step.Order, i+1),
			})
		}
		if step.Name == "" {
			errs = append(errs, model.FieldError{Field: path + ".name", Code: "REQUIRED", Message: "step name is required"})
		}
		switch step.Kind {
		case model.StepKindReview, model.StepKindApproval, model.StepKindNotification:
		default:
			errs = append(errs, model.FieldError{
				Field: path + ".kind", Code: "INVALID",
				Message: fmt.Sprintf("unknown step kind %q", step.Kind),
			})
		}
		if step.DaysToComplete <= 0 {
			errs = append(errs, model.FieldError{
				Field: path + ".days_to_complete", Code: "INVALID",
				Message: "days_to_complete must be greater than zero",
			})
		}
		if step.Kind == model.StepKindApproval {
			approvals++
		}
	}

	if approvals > 1 && !tpl.MultiLevelApproval {
		errs = append(errs, model.FieldError{
			Field: "steps", Code: "MULTI_APPROVAL",
			Message: "multiple approval steps require multi_level_approval to be enabled",
		})
	}
	return errs
}
