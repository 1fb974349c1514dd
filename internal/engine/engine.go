// Package engine owns the approval workflow state machine: instances are
// created from templates (or ad-hoc), steps advance strictly in order, and
// every mutation runs in one transaction with the active step row locked.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/notify"
	"github.com/jinkaiteo/QMS-sub001/internal/signature"
	"github.com/jinkaiteo/QMS-sub001/internal/template"
	"github.com/jinkaiteo/QMS-sub001/model"
)

// Default shape of the ad-hoc workflow built when no template resolves.
const (
	adHocStepName = "Review"
	adHocStepDays = 7
)

// Outcome is the terminal (or flagged) disposition reported to the target
// record's owning service.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeRejected         Outcome = "rejected"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeExpired          Outcome = "expired"
	OutcomeChangesRequested Outcome = "changes_requested"
)

// TargetCallback is invoked once, after commit, when a workflow reaches a
// terminal state or flags the target for changes. The engine never mutates
// target records itself.
type TargetCallback func(ctx context.Context, inst model.WorkflowInstance, outcome Outcome, comment string) error

// InitiateRequest carries everything needed to start a workflow.
type InitiateRequest struct {
	TargetType string
	TargetID   string
	CategoryID string
	// TemplateID pins a specific template. When empty the registry resolves
	// by target type and category; if nothing resolves an ad-hoc single
	// review step is built.
	TemplateID string
	// Assignees overrides the assignee per step order.
	Assignees map[int]string
	// DueAt, when set, replaces the per-step day windows: the time between
	// now and DueAt is split evenly across the steps.
	DueAt *time.Time
}

// CompleteRequest carries one step completion decision.
type CompleteRequest struct {
	StepID    string
	Action    model.StepAction
	Comment   string
	Signature *model.SignatureInput
}

// Engine coordinates workflow instances. All mutations are transactional;
// audit records, notifications, and target callbacks are applied after the
// transaction commits.
type Engine struct {
	store      Store
	registry   *template.Registry
	signatures *signature.Service
	ledger     *audit.Ledger
	checker    model.CapabilityChecker
	publisher  notify.Publisher
	logger     *zap.Logger
	callbacks  map[string]TargetCallback
}

// NewEngine creates a workflow engine. It validates the transition table so
// a malformed build fails at startup.
func NewEngine(
	store Store,
	registry *template.Registry,
	signatures *signature.Service,
	ledger *audit.Ledger,
	checker model.CapabilityChecker,
	publisher notify.Publisher,
	logger *zap.Logger,
) (*Engine, error) {
	if err := ValidateTransitions(); err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      store,
		registry:   registry,
		signatures: signatures,
		ledger:     ledger,
		checker:    checker,
		publisher:  publisher,
		logger:     logger,
		callbacks:  make(map[string]TargetCallback),
	}, nil
}

// RegisterCallback installs the terminal-state callback for one target
// type. Registration happens during wiring, before requests are served.
func (e *Engine) RegisterCallback(targetType string, cb TargetCallback) {
	e.callbacks[targetType] = cb
}

// Initiate starts a workflow for a target record: resolves the template (or
// builds an ad-hoc single review step), instantiates the steps with computed
// due dates, and activates step 1 atomically with instance creation. Fails
// with DUPLICATE_ACTIVE_WORKFLOW if the target already has an active
// instance.
func (e *Engine) Initiate(ctx context.Context, rctx *model.RequestContext, req InitiateRequest) (model.WorkflowStatusView, error) {
	if req.TargetType == "" || req.TargetID == "" {
		return model.WorkflowStatusView{}, model.NewValidationError([]model.FieldError{
			{Field: "target", Code: "REQUIRED", Message: "target type and target id are required"},
		})
	}
	if err := e.authorize(ctx, rctx, "workflow:initiate", req.TargetType, req.TargetID); err != nil {
		return model.WorkflowStatusView{}, err
	}

	blueprints, templateID, err := e.resolveBlueprints(ctx, req)
	if err != nil {
		return model.WorkflowStatusView{}, err
	}

	now := time.Now().UTC()
	inst := model.WorkflowInstance{
		ID:               uuid.New().String(),
		TargetType:       req.TargetType,
		TargetID:         req.TargetID,
		TemplateID:       templateID,
		CurrentStepOrder: 1,
		Status:           model.InstanceInProgress,
		Initiator:        rctx.SubjectID,
		StartedAt:        now,
		Version:          1,
	}

	steps := buildSteps(inst.ID, blueprints, req.Assignees, now, req.DueAt)
	if last := steps[len(steps)-1].DueAt; last != nil {
		inst.DueAt = last
	}
	steps[0].Status = model.StepInProgress
	assignedAt := now
	steps[0].AssignedAt = &assignedAt

	err = e.store.ExecTx(ctx, func(tx Tx) error {
		if existing, ferr := tx.FindActiveByTarget(ctx, req.TargetType, req.TargetID); ferr == nil {
			return model.NewDuplicateWorkflowError(fmt.Sprintf(
				"target %s %q already has active workflow %q",
				req.TargetType, req.TargetID, existing.ID))
		} else if !model.HasCode(ferr, model.ErrNotFound) {
			return ferr
		}
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}
		for _, step := range steps {
			if err := tx.CreateStep(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.WorkflowStatusView{}, err
	}

	e.appendAudit(ctx, rctx.SubjectID, model.AuditWorkflowInitiated, inst.ID, nil, inst)
	e.publish(ctx, notify.EventWorkflowInitiated, inst, rctx.SubjectID, map[string]any{
		"target_type": inst.TargetType,
		"target_id":   inst.TargetID,
	})
	e.publish(ctx, notify.EventStepAssigned, inst, rctx.SubjectID, map[string]any{
		"step_id":  steps[0].ID,
		"assignee": steps[0].Assignee,
	})

	e.logger.Info("workflow initiated",
		zap.String("instance_id", inst.ID),
		zap.String("target_type", inst.TargetType),
		zap.String("target_id", inst.TargetID),
		zap.Int("steps", len(steps)),
	)
	return model.WorkflowStatusView{Instance: inst, Steps: steps}, nil
}

// CompleteStep records a decision on the active step and applies the
// transition table. Concurrent attempts on the same step serialize on the
// row lock; the loser gets ALREADY_COMPLETED. Steps whose blueprint requires
// a signature reject completion without one.
func (e *Engine) CompleteStep(ctx context.Context, rctx *model.RequestContext, req CompleteRequest) (model.WorkflowStatusView, error) {
	if req.Action == model.ActionDelegate {
		return model.WorkflowStatusView{}, model.NewBadRequestError(
			"delegation is performed through the delegate operation, not step completion")
	}
	if _, ok := transitionTable[transitionKey{Status: model.InstanceInProgress, Action: req.Action}]; !ok {
		return model.WorkflowStatusView{}, model.NewBadRequestError(
			fmt.Sprintf("unknown step action %q", req.Action))
	}
	if err := e.authorizeStep(ctx, rctx, "workflow:complete_step", req.StepID); err != nil {
		return model.WorkflowStatusView{}, err
	}

	var (
		inst     model.WorkflowInstance
		steps    []model.WorkflowStep
		acted    model.WorkflowStep
		sigStep  *string
		outcome  Outcome
		hasOut   bool
		assigned *model.WorkflowStep
	)

	txErr := e.store.ExecTx(ctx, func(tx Tx) error {
		step, err := tx.GetStepForUpdate(ctx, req.StepID)
		if err != nil {
			return err
		}
		if step.Status == model.StepCompleted || step.Status == model.StepSkipped {
			return model.NewAlreadyCompletedError(fmt.Sprintf(
				"step %q is already %s", step.ID, step.Status))
		}

		inst, err = tx.GetInstanceForUpdate(ctx, step.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return model.NewWorkflowNotActiveError(fmt.Sprintf(
				"workflow instance %q is %s", inst.ID, inst.Status))
		}
		if step.Order != inst.CurrentStepOrder || !step.Active() {
			return model.NewInvalidTransitionError(fmt.Sprintf(
				"step %q is not the active step of instance %q", step.ID, inst.ID))
		}

		if err := assigneeAllowed(rctx, step); err != nil {
			return err
		}

		if step.RequiresSignature {
			if req.Signature == nil {
				return model.NewSignatureRequiredError(fmt.Sprintf(
					"step %q requires an electronic signature", step.ID))
			}
			meaning := req.Signature.Meaning
			if meaning == "" {
				meaning = step.SignatureMeaning
			}
			if err := e.signatures.Precheck(ctx, rctx, signature.Request{
				TargetType: inst.TargetType,
				TargetID:   inst.TargetID,
				StepID:     &step.ID,
				Meaning:    meaning,
				Method:     req.Signature.Method,
				Credential: req.Signature.Credential,
			}); err != nil {
				return err
			}
			sigStep = &step.ID
		}

		next, err := nextStatus(inst.Status, req.Action)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		action := req.Action
		step.Status = model.StepCompleted
		step.ActionTaken = &action
		step.CompletedBy = rctx.SubjectID
		step.CompletedAt = &now
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
		acted = step

		inst.Status = next
		switch req.Action {
		case model.ActionApprove, model.ActionRequestChanges:
			all, err := tx.ListSteps(ctx, inst.ID)
			if err != nil {
				return err
			}
			var nextStep *model.WorkflowStep
			for i := range all {
				if all[i].Order > step.Order && all[i].Status == model.StepPending {
					nextStep = &all[i]
					break
				}
			}
			if nextStep == nil {
				inst.Status = model.InstanceCompleted
				inst.CompletedAt = &now
				outcome, hasOut = OutcomeCompleted, true
			} else {
				nextStep.Status = model.StepInProgress
				at := now
				nextStep.AssignedAt = &at
				if err := tx.UpdateStep(ctx, *nextStep); err != nil {
					return err
				}
				inst.CurrentStepOrder = nextStep.Order
				assigned = nextStep
			}
			if req.Action == model.ActionRequestChanges {
				outcome, hasOut = OutcomeChangesRequested, true
			}

		case model.ActionReject:
			inst.CompletedAt = &now
			outcome, hasOut = OutcomeRejected, true

		case model.ActionReturnForRevision:
			all, err := tx.ListSteps(ctx, inst.ID)
			if err != nil {
				return err
			}
			for i := range all {
				resetStep(&all[i])
				if all[i].Order == 1 {
					all[i].Status = model.StepInProgress
					at := now
					all[i].AssignedAt = &at
					assigned = &all[i]
				}
				if err := tx.UpdateStep(ctx, all[i]); err != nil {
					return err
				}
			}
			inst.CurrentStepOrder = 1
		}

		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		inst.Version++

		steps, err = tx.ListSteps(ctx, inst.ID)
		return err
	})
	if txErr != nil {
		e.auditDenied(ctx, rctx, txErr, "workflow_instance", req.StepID)
		return model.WorkflowStatusView{}, txErr
	}

	if sigStep != nil {
		meaning := req.Signature.Meaning
		if meaning == "" {
			meaning = acted.SignatureMeaning
		}
		if _, err := e.signatures.Sign(ctx, rctx, signature.Request{
			TargetType: inst.TargetType,
			TargetID:   inst.TargetID,
			StepID:     sigStep,
			Meaning:    meaning,
			Method:     req.Signature.Method,
			Credential: req.Signature.Credential,
		}); err != nil {
			e.logger.Error("signature creation failed after step completion",
				zap.String("step_id", *sigStep), zap.Error(err))
		}
	}

	e.appendAudit(ctx, rctx.SubjectID, model.AuditStepCompleted, inst.ID,
		map[string]any{"step_id": acted.ID, "step_order": acted.Order},
		map[string]any{"step_id": acted.ID, "action": req.Action, "comment": req.Comment, "instance_status": inst.Status})
	if req.Action == model.ActionReturnForRevision {
		e.appendAudit(ctx, rctx.SubjectID, model.AuditWorkflowReturned, inst.ID, nil,
			map[string]any{"returned_by_step": acted.ID, "comment": req.Comment})
	}

	e.publish(ctx, notify.EventStepCompleted, inst, rctx.SubjectID, map[string]any{
		"step_id": acted.ID,
		"action":  string(req.Action),
	})
	if assigned != nil {
		e.publish(ctx, notify.EventStepAssigned, inst, rctx.SubjectID, map[string]any{
			"step_id":  assigned.ID,
			"assignee": assigned.Assignee,
		})
	}
	switch inst.Status {
	case model.InstanceCompleted:
		e.appendAudit(ctx, rctx.SubjectID, model.AuditWorkflowCompleted, inst.ID, nil, inst)
		e.publish(ctx, notify.EventWorkflowCompleted, inst, rctx.SubjectID, nil)
	case model.InstanceRejected:
		e.appendAudit(ctx, rctx.SubjectID, model.AuditWorkflowRejected, inst.ID, nil,
			map[string]any{"comment": req.Comment})
		e.publish(ctx, notify.EventWorkflowRejected, inst, rctx.SubjectID, map[string]any{
			"comment": req.Comment,
		})
	}
	if hasOut {
		e.invokeCallback(ctx, inst, outcome, req.Comment)
	}

	return model.WorkflowStatusView{Instance: inst, Steps: steps}, nil
}

// Delegate reassigns the active step to another actor. The previous assignee
// is kept in DelegatedFrom for traceback and the step keeps its status.
func (e *Engine) Delegate(ctx context.Context, rctx *model.RequestContext, stepID, delegateTo, reason string) (model.WorkflowStep, error) {
	if delegateTo == "" {
		return model.WorkflowStep{}, model.NewValidationError([]model.FieldError{
			{Field: "delegate_to", Code: "REQUIRED", Message: "delegate target is required"},
		})
	}
	if err := e.authorizeStep(ctx, rctx, "workflow:delegate", stepID); err != nil {
		return model.WorkflowStep{}, err
	}

	var (
		step model.WorkflowStep
		inst model.WorkflowInstance
	)
	txErr := e.store.ExecTx(ctx, func(tx Tx) error {
		var err error
		step, err = tx.GetStepForUpdate(ctx, stepID)
		if err != nil {
			return err
		}
		if step.Status == model.StepCompleted || step.Status == model.StepSkipped {
			return model.NewAlreadyCompletedError(fmt.Sprintf(
				"step %q is already %s", step.ID, step.Status))
		}
		inst, err = tx.GetInstanceForUpdate(ctx, step.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return model.NewWorkflowNotActiveError(fmt.Sprintf(
				"workflow instance %q is %s", inst.ID, inst.Status))
		}
		if step.Assignee != "" && step.Assignee != rctx.SubjectID {
			return model.NewForbiddenError(fmt.Sprintf(
				"actor %q is not the assignee of step %q", rctx.SubjectID, step.ID))
		}
		if !step.Delegable {
			return model.NewNotDelegableError(fmt.Sprintf(
				"step %q does not permit delegation", step.ID))
		}

		step.DelegatedFrom = step.Assignee
		step.Assignee = delegateTo
		return tx.UpdateStep(ctx, step)
	})
	if txErr != nil {
		e.auditDenied(ctx, rctx, txErr, "workflow_step", stepID)
		return model.WorkflowStep{}, txErr
	}

	e.appendAudit(ctx, rctx.SubjectID, model.AuditStepDelegated, step.InstanceID,
		map[string]any{"step_id": step.ID, "assignee": step.DelegatedFrom},
		map[string]any{"step_id": step.ID, "assignee": step.Assignee, "reason": reason})
	e.publish(ctx, notify.EventStepDelegated, inst, rctx.SubjectID, map[string]any{
		"step_id":        step.ID,
		"delegated_from": step.DelegatedFrom,
		"assignee":       step.Assignee,
		"reason":         reason,
	})
	e.publish(ctx, notify.EventStepAssigned, inst, rctx.SubjectID, map[string]any{
		"step_id":  step.ID,
		"assignee": step.Assignee,
	})
	return step, nil
}

// Cancel terminates an active workflow. Terminal and irreversible.
func (e *Engine) Cancel(ctx context.Context, rctx *model.RequestContext, instanceID, reason string) (model.WorkflowInstance, error) {
	if err := e.authorize(ctx, rctx, "workflow:cancel", "workflow_instance", instanceID); err != nil {
		return model.WorkflowInstance{}, err
	}

	var inst model.WorkflowInstance
	txErr := e.store.ExecTx(ctx, func(tx Tx) error {
		var err error
		inst, err = tx.GetInstanceForUpdate(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return model.NewWorkflowNotActiveError(fmt.Sprintf(
				"workflow instance %q is %s, cannot cancel", instanceID, inst.Status))
		}
		now := time.Now().UTC()
		inst.Status = model.InstanceCancelled
		inst.CancelReason = reason
		inst.CompletedAt = &now
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		inst.Version++
		return nil
	})
	if txErr != nil {
		e.auditDenied(ctx, rctx, txErr, "workflow_instance", instanceID)
		return model.WorkflowInstance{}, txErr
	}

	e.appendAudit(ctx, rctx.SubjectID, model.AuditWorkflowCancelled, inst.ID, nil,
		map[string]any{"reason": reason})
	e.publish(ctx, notify.EventWorkflowCancelled, inst, rctx.SubjectID, map[string]any{
		"reason": reason,
	})
	e.invokeCallback(ctx, inst, OutcomeCancelled, reason)
	return inst, nil
}

// MarkExpired transitions an overdue instance to Expired. The engine exposes
// the transition but never self-triggers it; an external sweep calls this.
func (e *Engine) MarkExpired(ctx context.Context, rctx *model.RequestContext, instanceID string) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	txErr := e.store.ExecTx(ctx, func(tx Tx) error {
		var err error
		inst, err = tx.GetInstanceForUpdate(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return model.NewWorkflowNotActiveError(fmt.Sprintf(
				"workflow instance %q is %s, cannot expire", instanceID, inst.Status))
		}
		now := time.Now().UTC()
		if inst.DueAt == nil || inst.DueAt.After(now) {
			return model.NewConflictError(fmt.Sprintf(
				"workflow instance %q is not overdue", instanceID))
		}
		inst.Status = model.InstanceExpired
		inst.CompletedAt = &now
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		inst.Version++
		return nil
	})
	if txErr != nil {
		return model.WorkflowInstance{}, txErr
	}

	e.appendAudit(ctx, rctx.SubjectID, model.AuditWorkflowExpired, inst.ID, nil, inst)
	e.publish(ctx, notify.EventWorkflowExpired, inst, rctx.SubjectID, nil)
	e.invokeCallback(ctx, inst, OutcomeExpired, "")
	return inst, nil
}

// SweepExpired expires every overdue instance. Intended for a scheduled
// caller; failures on individual instances are logged and skipped.
func (e *Engine) SweepExpired(ctx context.Context, rctx *model.RequestContext, now time.Time) (int, error) {
	overdue, err := e.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, inst := range overdue {
		if _, err := e.MarkExpired(ctx, rctx, inst.ID); err != nil {
			e.logger.Warn("expiry sweep skipped instance",
				zap.String("instance_id", inst.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// GetStatus returns the read-only projection for a target record: the
// active instance if one exists, otherwise the most recent one.
func (e *Engine) GetStatus(ctx context.Context, targetType, targetID string) (model.WorkflowStatusView, error) {
	inst, err := e.store.FindActiveByTarget(ctx, targetType, targetID)
	if model.HasCode(err, model.ErrNotFound) {
		inst, err = e.store.LatestByTarget(ctx, targetType, targetID)
	}
	if err != nil {
		return model.WorkflowStatusView{}, err
	}
	steps, err := e.store.ListSteps(ctx, inst.ID)
	if err != nil {
		return model.WorkflowStatusView{}, err
	}
	return model.WorkflowStatusView{Instance: inst, Steps: steps}, nil
}

// GetInstance returns one instance and its steps by instance ID.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (model.WorkflowStatusView, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return model.WorkflowStatusView{}, err
	}
	steps, err := e.store.ListSteps(ctx, inst.ID)
	if err != nil {
		return model.WorkflowStatusView{}, err
	}
	return model.WorkflowStatusView{Instance: inst, Steps: steps}, nil
}

// ListActive returns non-terminal instances, newest first.
func (e *Engine) ListActive(ctx context.Context, filters Filters) ([]model.WorkflowInstance, error) {
	return e.store.ListActive(ctx, filters)
}

func (e *Engine) resolveBlueprints(ctx context.Context, req InitiateRequest) ([]model.StepBlueprint, *string, error) {
	var (
		tpl model.WorkflowTemplate
		err error
	)
	if req.TemplateID != "" {
		tpl, err = e.registry.Get(ctx, req.TemplateID)
		if err != nil {
			return nil, nil, err
		}
	} else {
		tpl, err = e.registry.Resolve(ctx, req.TargetType, req.CategoryID)
		if model.HasCode(err, model.ErrNotFound) {
			return []model.StepBlueprint{{
				Order:          1,
				Name:           adHocStepName,
				Kind:           model.StepKindReview,
				DaysToComplete: adHocStepDays,
				Required:       true,
				Delegable:      true,
			}}, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
	}
	id := tpl.ID
	return tpl.Steps, &id, nil
}

// buildSteps instantiates steps from blueprints. Due dates accumulate the
// per-step windows; a supplied deadline is instead split evenly.
func buildSteps(instanceID string, blueprints []model.StepBlueprint, assignees map[int]string, now time.Time, deadline *time.Time) []model.WorkflowStep {
	var perStep time.Duration
	if deadline != nil {
		perStep = deadline.Sub(now) / time.Duration(len(blueprints))
	}

	steps := make([]model.WorkflowStep, 0, len(blueprints))
	cursor := now
	for _, bp := range blueprints {
		if deadline != nil {
			cursor = cursor.Add(perStep)
		} else {
			cursor = cursor.Add(time.Duration(bp.DaysToComplete) * 24 * time.Hour)
		}
		due := cursor

		assignee := bp.RequiredUser
		if override, ok := assignees[bp.Order]; ok {
			assignee = override
		}

		steps = append(steps, model.WorkflowStep{
			ID:                uuid.New().String(),
			InstanceID:        instanceID,
			Order:             bp.Order,
			Name:              bp.Name,
			Kind:              bp.Kind,
			Status:            model.StepPending,
			Assignee:          assignee,
			DueAt:             &due,
			RequiredRole:      bp.RequiredRole,
			RequiredDept:      bp.RequiredDepartment,
			Required:          bp.Required,
			Delegable:         bp.Delegable,
			RequiresSignature: bp.RequiresSignature,
			SignatureMeaning:  bp.SignatureMeaning,
		})
	}
	return steps
}

// resetStep clears the mutable completion fields while preserving step
// identity, so comments and audit history stay attached to the same record.
func resetStep(step *model.WorkflowStep) {
	step.Status = model.StepPending
	step.AssignedAt = nil
	step.ActionTaken = nil
	step.CompletedBy = ""
	step.CompletedAt = nil
	step.DelegatedFrom = ""
}

// assigneeAllowed checks that the actor may act on the step: either the
// named assignee, or matching the required role and department when the
// step is unassigned.
func assigneeAllowed(rctx *model.RequestContext, step model.WorkflowStep) error {
	if step.Assignee != "" {
		if step.Assignee == rctx.SubjectID {
			return nil
		}
		return model.NewForbiddenError(fmt.Sprintf(
			"actor %q is not the assignee of step %q", rctx.SubjectID, step.ID))
	}
	if step.RequiredRole != "" && !rctx.HasRole(step.RequiredRole) {
		return model.NewForbiddenError(fmt.Sprintf(
			"step %q requires role %q", step.ID, step.RequiredRole))
	}
	if step.RequiredDept != "" && rctx.Department != step.RequiredDept {
		return model.NewForbiddenError(fmt.Sprintf(
			"step %q requires department %q", step.ID, step.RequiredDept))
	}
	return nil
}

func (e *Engine) authorize(ctx context.Context, rctx *model.RequestContext, action, resourceType, resourceID string) error {
	if e.checker == nil {
		return nil
	}
	err := e.checker.Check(ctx, rctx, model.CapabilityCheck{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	})
	if err != nil {
		e.auditDenied(ctx, rctx, err, resourceType, resourceID)
	}
	return err
}

func (e *Engine) authorizeStep(ctx context.Context, rctx *model.RequestContext, action, stepID string) error {
	return e.authorize(ctx, rctx, action, "workflow_step", stepID)
}

// auditDenied records rejected authorization attempts. Other failure kinds
// roll back without trace since the audit chain records state changes, not
// every failed call.
func (e *Engine) auditDenied(ctx context.Context, rctx *model.RequestContext, cause error, entityType, entityID string) {
	if !model.HasCode(cause, model.ErrForbidden) {
		return
	}
	if _, err := e.ledger.Append(ctx, audit.Entry{
		Actor:      rctx.SubjectID,
		Action:     model.AuditAccessDenied,
		EntityType: entityType,
		EntityID:   entityID,
		NewState:   map[string]any{"reason": cause.Error()},
	}); err != nil {
		e.logger.Error("append denial audit record", zap.Error(err))
	}
}

func (e *Engine) appendAudit(ctx context.Context, actor, action, instanceID string, oldState, newState any) {
	if _, err := e.ledger.Append(ctx, audit.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: "workflow_instance",
		EntityID:   instanceID,
		OldState:   oldState,
		NewState:   newState,
	}); err != nil {
		e.logger.Error("append audit record",
			zap.String("action", action),
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}
}

// publish emits a notification event. Delivery failures are logged and never
// affect the committed transaction.
func (e *Engine) publish(ctx context.Context, name string, inst model.WorkflowInstance, actor string, data map[string]any) {
	err := e.publisher.Publish(ctx, notify.Event{
		Name:       name,
		EntityType: "workflow_instance",
		EntityID:   inst.ID,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		e.logger.Warn("publish notification event",
			zap.String("event", name),
			zap.String("instance_id", inst.ID),
			zap.Error(err))
	}
}

// invokeCallback reports a terminal or flagged outcome to the target's
// owning service, once, after commit.
func (e *Engine) invokeCallback(ctx context.Context, inst model.WorkflowInstance, outcome Outcome, comment string) {
	cb, ok := e.callbacks[inst.TargetType]
	if !ok {
		return
	}
	if err := cb(ctx, inst, outcome, comment); err != nil {
		e.logger.Error("target callback failed",
			zap.String("instance_id", inst.ID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}
}
