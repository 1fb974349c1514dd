package comment

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/model"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), zap.NewNop())
}

func rctx(subject string) *model.RequestContext {
	return &model.RequestContext{SubjectID: subject}
}

func TestAddAndList(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.Add(ctx, rctx("reviewer-1"), "inst-1", "step-1", "needs a reference to SOP-104")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if first.Lifecycle != model.CommentActive {
		t.Errorf("lifecycle = %q, want active", first.Lifecycle)
	}
	if _, err := svc.Add(ctx, rctx("approver-1"), "inst-1", "step-2", "looks good"); err != nil {
		t.Fatalf("Add() second error = %v", err)
	}

	byStep, err := svc.ListByStep(ctx, "step-1")
	if err != nil {
		t.Fatalf("ListByStep() error = %v", err)
	}
	if len(byStep) != 1 || byStep[0].ID != first.ID {
		t.Errorf("ListByStep() = %+v, want only the step-1 comment", byStep)
	}

	byInstance, err := svc.ListByInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("ListByInstance() error = %v", err)
	}
	if len(byInstance) != 2 {
		t.Fatalf("ListByInstance() = %d comments, want 2", len(byInstance))
	}
	if !byInstance[0].CreatedAt.Before(byInstance[1].CreatedAt) && byInstance[0].ID != first.ID {
		t.Error("ListByInstance() not ordered oldest first")
	}
}

func TestAddValidation(t *testing.T) {
	svc := newTestService()
	_, err := svc.Add(context.Background(), rctx("reviewer-1"), "inst-1", "step-1", "")
	if !model.HasCode(err, model.ErrValidationError) {
		t.Errorf("Add() empty body error = %v, want VALIDATION_ERROR", err)
	}
	_, err = svc.Add(context.Background(), rctx("reviewer-1"), "", "", "body")
	if !model.HasCode(err, model.ErrValidationError) {
		t.Errorf("Add() missing refs error = %v, want VALIDATION_ERROR", err)
	}
}

func TestArchive(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, err := svc.Add(ctx, rctx("reviewer-1"), "inst-1", "step-1", "obsolete remark")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Archive(ctx, rctx("someone-else"), c.ID); !model.HasCode(err, model.ErrForbidden) {
		t.Errorf("Archive() by non-author error = %v, want FORBIDDEN", err)
	}

	if err := svc.Archive(ctx, rctx("reviewer-1"), c.ID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	active, _ := svc.ListByStep(ctx, "step-1")
	if len(active) != 0 {
		t.Errorf("active comments after archive = %d, want 0", len(active))
	}

	// Still present, not deleted.
	got, err := svc.store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get() after archive error = %v", err)
	}
	if got.Lifecycle != model.CommentArchived {
		t.Errorf("lifecycle = %q, want archived", got.Lifecycle)
	}

	if err := svc.Archive(ctx, rctx("reviewer-1"), c.ID); !model.HasCode(err, model.ErrConflict) {
		t.Errorf("Archive() twice error = %v, want CONFLICT", err)
	}
}
