package capability

import (
	"context"
	"testing"
	"time"

	"github.com/jinkaiteo/QMS-sub001/model"
)

func testRctx(roles ...string) *model.RequestContext {
	return &model.RequestContext{SubjectID: "user-1", Roles: roles}
}

func TestStaticPolicyResolveCapabilities(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("testdata/roles.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	caps, err := e.ResolveCapabilities(testRctx("workflow_initiator"))
	if err != nil {
		t.Fatalf("ResolveCapabilities() error = %v", err)
	}
	if !caps.Has("workflow:initiate") {
		t.Error("workflow_initiator should have workflow:initiate")
	}
	if caps.Has("workflow:complete_step") {
		t.Error("workflow_initiator should not have workflow:complete_step")
	}
}

func TestStaticPolicyMultipleRoles(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/roles.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("workflow_initiator", "approver"))

	if !caps.Has("workflow:complete_step") {
		t.Error("approver role should add workflow:complete_step")
	}
	if !caps.Has("workflow:initiate") {
		t.Error("combined roles should keep workflow:initiate")
	}
}

func TestStaticPolicyWildcard(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/roles.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("quality_assurance"))

	if !caps.Has("workflow:cancel") {
		t.Error("workflow:* should match workflow:cancel")
	}
	if !caps.Has("case:transition") {
		t.Error("case:* should match case:transition")
	}
	if caps.Has("template:create") {
		t.Error("quality_assurance should not match template:create")
	}
}

func TestStaticPolicyUnknownRole(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/roles.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("visitor"))
	if len(caps) != 0 {
		t.Errorf("unknown role should resolve to no capabilities, got %v", caps)
	}
}

func TestStaticPolicyMissingFile(t *testing.T) {
	if _, err := NewStaticPolicyEvaluator("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

type countingEvaluator struct {
	calls int
	caps  model.CapabilitySet
}

func (e *countingEvaluator) ResolveCapabilities(*model.RequestContext) (model.CapabilitySet, error) {
	e.calls++
	return e.caps, nil
}

func TestResolverCachesWithinTTL(t *testing.T) {
	eval := &countingEvaluator{caps: model.CapabilitySet{"workflow:initiate": true}}
	r := NewResolver(eval, 5*time.Minute)
	rctx := testRctx("workflow_initiator")

	caps, err := r.Resolve(rctx)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !caps.Has("workflow:initiate") {
		t.Error("resolved set missing workflow:initiate")
	}
	if _, err := r.Resolve(rctx); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if eval.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1 (second call cached)", eval.calls)
	}
}

func TestResolverKeyIncludesRoles(t *testing.T) {
	eval := &countingEvaluator{caps: model.CapabilitySet{}}
	r := NewResolver(eval, 5*time.Minute)

	r.Resolve(testRctx("approver"))
	r.Resolve(testRctx("approver", "quality_assurance"))
	if eval.calls != 2 {
		t.Errorf("evaluator calls = %d, want 2 (distinct role sets)", eval.calls)
	}
}

func TestResolverInvalidate(t *testing.T) {
	eval := &countingEvaluator{caps: model.CapabilitySet{}}
	r := NewResolver(eval, 5*time.Minute)
	rctx := testRctx("approver")

	r.Resolve(rctx)
	r.Invalidate("user-1")
	r.Resolve(rctx)
	if eval.calls != 2 {
		t.Errorf("evaluator calls = %d, want 2 after invalidate", eval.calls)
	}
}

func TestResolverTTLExpiry(t *testing.T) {
	eval := &countingEvaluator{caps: model.CapabilitySet{}}
	r := NewResolver(eval, time.Millisecond)
	rctx := testRctx("approver")

	r.Resolve(rctx)
	time.Sleep(5 * time.Millisecond)
	r.Resolve(rctx)
	if eval.calls != 2 {
		t.Errorf("evaluator calls = %d, want 2 after TTL expiry", eval.calls)
	}
}

func TestCheckerAllowsAndDenies(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("testdata/roles.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}
	checker := NewChecker(NewResolver(e, time.Minute), nil)
	ctx := context.Background()

	err = checker.Check(ctx, testRctx("approver"), model.CapabilityCheck{
		Action: "workflow:complete_step", ResourceType: "workflow_step", ResourceID: "step-1",
	})
	if err != nil {
		t.Fatalf("Check() for approver = %v, want nil", err)
	}

	err = checker.Check(ctx, testRctx("workflow_initiator"), model.CapabilityCheck{
		Action: "workflow:complete_step", ResourceType: "workflow_step", ResourceID: "step-1",
	})
	if !model.HasCode(err, model.ErrForbidden) {
		t.Fatalf("Check() for initiator = %v, want FORBIDDEN", err)
	}
}

func TestCheckerRequiresSubject(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/roles.yaml")
	checker := NewChecker(NewResolver(e, time.Minute), nil)

	err := checker.Check(context.Background(), &model.RequestContext{}, model.CapabilityCheck{
		Action: "workflow:initiate",
	})
	if !model.HasCode(err, model.ErrUnauthorized) {
		t.Fatalf("Check() without subject = %v, want UNAUTHORIZED", err)
	}
}
