package comment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Service adds and lists step comments.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a comment service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Add attaches a comment to a workflow step.
func (s *Service) Add(ctx context.Context, rctx *model.RequestContext, instanceID, stepID, body string) (model.Comment, error) {
	var errs []model.FieldError
	if instanceID == "" {
		errs = append(errs, model.FieldError{Field: "instance_id", Code: "REQUIRED", Message: "instance id is required"})
	}
	if stepID == "" {
		errs = append(errs, model.FieldError{Field: "step_id", Code: "REQUIRED", Message: "step id is required"})
	}
	if body == "" {
		errs = append(errs, model.FieldError{Field: "body", Code: "REQUIRED", Message: "comment body is required"})
	}
	if len(errs) > 0 {
		return model.Comment{}, model.NewValidationError(errs)
	}

	c := model.Comment{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		StepID:     stepID,
		Author:     rctx.SubjectID,
		Body:       body,
		Lifecycle:  model.CommentActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return model.Comment{}, err
	}

	s.logger.Debug("comment added",
		zap.String("comment_id", c.ID),
		zap.String("step_id", stepID),
		zap.String("author", c.Author),
	)
	return c, nil
}

// Archive retires a comment without deleting it. Only the author may
// archive their own comment.
func (s *Service) Archive(ctx context.Context, rctx *model.RequestContext, id string) error {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Author != rctx.SubjectID {
		return model.NewForbiddenError(fmt.Sprintf(
			"actor %q is not the author of comment %q", rctx.SubjectID, id))
	}
	if c.Lifecycle == model.CommentArchived {
		return model.NewConflictError(fmt.Sprintf("comment %q is already archived", id))
	}
	return s.store.SetLifecycle(ctx, id, model.CommentArchived)
}

// ListByStep returns a step's active comments, oldest first.
func (s *Service) ListByStep(ctx context.Context, stepID string) ([]model.Comment, error) {
	return s.store.ListByStep(ctx, stepID, false)
}

// ListByInstance returns an instance's active comments, oldest first.
func (s *Service) ListByInstance(ctx context.Context, instanceID string) ([]model.Comment, error) {
	return s.store.ListByInstance(ctx, instanceID, false)
}
