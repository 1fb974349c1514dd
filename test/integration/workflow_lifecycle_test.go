package integration

import (
	"net/http"
	"testing"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// startDocumentWorkflow initiates the seeded two-step document workflow and
// returns the status view.
func startDocumentWorkflow(t *testing.T, h *TestHarness, token, docID string) model.WorkflowStatusView {
	t.Helper()

	resp := h.POST("/workflows", map[string]any{
		"target_type": "document",
		"target_id":   docID,
	}, token)

	var view model.WorkflowStatusView
	h.AssertJSON(t, resp, http.StatusCreated, &view)
	return view
}

// stepByOrder returns the step with the given order, failing the test when
// it is missing.
func stepByOrder(t *testing.T, view model.WorkflowStatusView, order int) model.WorkflowStep {
	t.Helper()
	for _, s := range view.Steps {
		if s.Order == order {
			return s
		}
	}
	t.Fatalf("no step with order %d in instance %s", order, view.Instance.ID)
	return model.WorkflowStep{}
}

// ==========================================================================
// Full Approval Path
// ==========================================================================

func TestLifecycle_ReviewThenSignedApproval(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())
	reviewer := h.GenerateToken(ReviewerClaims())
	approver := h.GenerateToken(ApproverClaims())

	view := startDocumentWorkflow(t, h, initiator, "sop-001")
	if view.Instance.Status != model.InstanceInProgress {
		t.Fatalf("instance status = %q, want %q", view.Instance.Status, model.InstanceInProgress)
	}
	if len(view.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(view.Steps))
	}

	// Step 1: technical review, no signature needed.
	review := stepByOrder(t, view, 1)
	resp := h.POST("/steps/"+review.ID+"/complete", map[string]any{
		"action":  "approve",
		"comment": "reviewed against revision B",
	}, reviewer)
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.Instance.CurrentStepOrder != 2 {
		t.Errorf("current step order = %d, want 2", view.Instance.CurrentStepOrder)
	}

	// Step 2: QA approval with an electronic signature.
	approval := stepByOrder(t, view, 2)
	resp = h.POST("/steps/"+approval.ID+"/complete", map[string]any{
		"action": "approve",
		"signature": map[string]any{
			"meaning":    "approved",
			"method":     "password",
			"credential": SigningPassword,
		},
	}, approver)
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.Instance.Status != model.InstanceCompleted {
		t.Errorf("instance status = %q, want %q", view.Instance.Status, model.InstanceCompleted)
	}

	// The signature is retrievable and valid.
	var sigList struct {
		Data []model.Signature `json:"data"`
	}
	resp = h.GET("/signatures?target_type=document&target_id=sop-001", approver)
	h.AssertJSON(t, resp, http.StatusOK, &sigList)
	if len(sigList.Data) != 1 {
		t.Fatalf("signatures = %d, want 1", len(sigList.Data))
	}
	if !sigList.Data[0].Valid {
		t.Error("signature should be valid")
	}
	if sigList.Data[0].Meaning != "approved" {
		t.Errorf("signature meaning = %q, want %q", sigList.Data[0].Meaning, "approved")
	}

	// The audit chain over the instance verifies clean.
	var report model.ChainReport
	resp = h.GET("/audit/chains/workflow_instance/"+view.Instance.ID+"/verify", approver)
	h.AssertJSON(t, resp, http.StatusOK, &report)
	if !report.Valid {
		t.Errorf("audit chain broken at %q", report.BrokenAt)
	}
	if report.Records == 0 {
		t.Error("audit chain has no records")
	}
}

func TestLifecycle_SigningStepWithoutSignature_Returns422(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())
	reviewer := h.GenerateToken(ReviewerClaims())
	approver := h.GenerateToken(ApproverClaims())

	view := startDocumentWorkflow(t, h, initiator, "sop-002")

	resp := h.POST("/steps/"+stepByOrder(t, view, 1).ID+"/complete", map[string]any{
		"action": "approve",
	}, reviewer)
	h.AssertJSON(t, resp, http.StatusOK, &view)

	resp = h.POST("/steps/"+stepByOrder(t, view, 2).ID+"/complete", map[string]any{
		"action": "approve",
	}, approver)
	h.AssertStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestLifecycle_WrongSigningCredential_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())
	reviewer := h.GenerateToken(ReviewerClaims())
	approver := h.GenerateToken(ApproverClaims())

	view := startDocumentWorkflow(t, h, initiator, "sop-003")

	resp := h.POST("/steps/"+stepByOrder(t, view, 1).ID+"/complete", map[string]any{
		"action": "approve",
	}, reviewer)
	h.AssertJSON(t, resp, http.StatusOK, &view)

	resp = h.POST("/steps/"+stepByOrder(t, view, 2).ID+"/complete", map[string]any{
		"action": "approve",
		"signature": map[string]any{
			"meaning":    "approved",
			"method":     "password",
			"credential": "wrong-password",
		},
	}, approver)
	h.AssertStatus(t, resp, http.StatusUnauthorized)

	// The step is still open; the instance did not advance.
	var after model.WorkflowStatusView
	resp = h.GET("/workflows/"+view.Instance.ID, approver)
	h.AssertJSON(t, resp, http.StatusOK, &after)
	if after.Instance.Status != model.InstanceInProgress {
		t.Errorf("instance status = %q, want %q", after.Instance.Status, model.InstanceInProgress)
	}
}

// ==========================================================================
// Rejection, Delegation, Cancellation
// ==========================================================================

func TestLifecycle_RejectTerminatesInstance(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())
	reviewer := h.GenerateToken(ReviewerClaims())

	view := startDocumentWorkflow(t, h, initiator, "sop-010")

	resp := h.POST("/steps/"+stepByOrder(t, view, 1).ID+"/complete", map[string]any{
		"action":  "reject",
		"comment": "references an obsolete form",
	}, reviewer)
	h.AssertJSON(t, resp, http.StatusOK, &view)

	if view.Instance.Status != model.InstanceRejected {
		t.Errorf("instance status = %q, want %q", view.Instance.Status, model.InstanceRejected)
	}

	// A terminal instance accepts no further completions.
	resp = h.POST("/steps/"+stepByOrder(t, view, 2).ID+"/complete", map[string]any{
		"action": "approve",
	}, h.GenerateToken(ApproverClaims()))
	h.AssertStatus(t, resp, http.StatusConflict)
}

func TestLifecycle_DelegateReassignsStep(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())
	reviewer := h.GenerateToken(ReviewerClaims())

	view := startDocumentWorkflow(t, h, initiator, "sop-011")

	var step model.WorkflowStep
	resp := h.POST("/steps/"+stepByOrder(t, view, 1).ID+"/delegate", map[string]any{
		"delegate_to": "user-backup-reviewer",
		"reason":      "out of office",
	}, reviewer)
	h.AssertJSON(t, resp, http.StatusOK, &step)

	if step.Assignee != "user-backup-reviewer" {
		t.Errorf("assignee = %q, want %q", step.Assignee, "user-backup-reviewer")
	}

	// The original reviewer can no longer act on the reassigned step.
	resp = h.POST("/steps/"+step.ID+"/complete", map[string]any{
		"action": "approve",
	}, reviewer)
	h.AssertStatus(t, resp, http.StatusForbidden)
}

func TestLifecycle_CancelByInitiator(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())

	view := startDocumentWorkflow(t, h, initiator, "sop-012")

	var inst model.WorkflowInstance
	resp := h.POST("/workflows/"+view.Instance.ID+"/cancel", map[string]any{
		"reason": "superseded by a new revision",
	}, initiator)
	h.AssertJSON(t, resp, http.StatusOK, &inst)

	if inst.Status != model.InstanceCancelled {
		t.Errorf("instance status = %q, want %q", inst.Status, model.InstanceCancelled)
	}

	// The target is free for a new workflow afterwards.
	startDocumentWorkflow(t, h, initiator, "sop-012")
}

func TestLifecycle_DuplicateActiveWorkflow_Returns409(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())

	startDocumentWorkflow(t, h, initiator, "sop-013")

	resp := h.POST("/workflows", map[string]any{
		"target_type": "document",
		"target_id":   "sop-013",
	}, initiator)
	h.AssertStatus(t, resp, http.StatusConflict)
}

// ==========================================================================
// Idempotent Initiation
// ==========================================================================

func TestLifecycle_IdempotentInitiateReplaysResponse(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())

	body := map[string]any{
		"target_type": "document",
		"target_id":   "sop-020",
	}
	headers := map[string]string{"Idempotency-Key": "init-sop-020"}

	var first model.WorkflowStatusView
	resp := h.POSTWithHeaders("/workflows", body, initiator, headers)
	h.AssertJSON(t, resp, http.StatusCreated, &first)

	// The retry returns the recorded response instead of a 409.
	var second model.WorkflowStatusView
	resp = h.POSTWithHeaders("/workflows", body, initiator, headers)
	if resp.Header.Get("Idempotency-Replayed") != "true" {
		t.Error("Idempotency-Replayed header not set on retry")
	}
	h.AssertJSON(t, resp, http.StatusCreated, &second)

	if first.Instance.ID != second.Instance.ID {
		t.Errorf("replayed instance ID = %q, want %q", second.Instance.ID, first.Instance.ID)
	}
}

// ==========================================================================
// Comments
// ==========================================================================

func TestLifecycle_StepComments(t *testing.T) {
	h := NewTestHarness(t)
	initiator := h.GenerateToken(InitiatorClaims())
	reviewer := h.GenerateToken(ReviewerClaims())

	view := startDocumentWorkflow(t, h, initiator, "sop-030")
	step := stepByOrder(t, view, 1)

	var added model.Comment
	resp := h.POST("/workflows/"+view.Instance.ID+"/comments", map[string]any{
		"step_id": step.ID,
		"body":    "please double-check section 4.2",
	}, reviewer)
	h.AssertJSON(t, resp, http.StatusCreated, &added)

	var byStep struct {
		Data []model.Comment `json:"data"`
	}
	resp = h.GET("/steps/"+step.ID+"/comments", reviewer)
	h.AssertJSON(t, resp, http.StatusOK, &byStep)
	if len(byStep.Data) != 1 {
		t.Fatalf("step comments = %d, want 1", len(byStep.Data))
	}
	if byStep.Data[0].Author != "user-reviewer" {
		t.Errorf("comment author = %q, want %q", byStep.Data[0].Author, "user-reviewer")
	}
}

// ==========================================================================
// Case Integration
// ==========================================================================

func TestLifecycle_CompletedWorkflowAdvancesQualityEvent(t *testing.T) {
	h := NewTestHarness(t)
	approver := h.GenerateToken(ApproverClaims())

	// Open a quality event case.
	var qe model.Case
	resp := h.POST("/cases", map[string]any{
		"kind":        "quality_event",
		"title":       "Out-of-spec assay result",
		"description": "Batch 42 assay at 88%",
		"severity":    "major",
		"owner":       "user-approver",
	}, approver)
	h.AssertJSON(t, resp, http.StatusCreated, &qe)
	if qe.Status != model.CaseOpen {
		t.Fatalf("case status = %q, want %q", qe.Status, model.CaseOpen)
	}

	// Run the disposition approval workflow against the case.
	var view model.WorkflowStatusView
	resp = h.POST("/workflows", map[string]any{
		"target_type": "quality_event",
		"target_id":   qe.ID,
	}, approver)
	h.AssertJSON(t, resp, http.StatusCreated, &view)

	resp = h.POST("/steps/"+stepByOrder(t, view, 1).ID+"/complete", map[string]any{
		"action": "approve",
	}, approver)
	h.AssertJSON(t, resp, http.StatusOK, &view)
	if view.Instance.Status != model.InstanceCompleted {
		t.Fatalf("instance status = %q, want %q", view.Instance.Status, model.InstanceCompleted)
	}

	// The completion callback moved the case forward.
	var after model.Case
	resp = h.GET("/cases/"+qe.ID, approver)
	h.AssertJSON(t, resp, http.StatusOK, &after)
	if after.Status != model.CaseApproved {
		t.Errorf("case status = %q, want %q", after.Status, model.CaseApproved)
	}
}
