package engine

import (
	"fmt"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// transitionKey pairs an instance status with the step action applied to it.
type transitionKey struct {
	Status model.InstanceStatus
	Action model.StepAction
}

// transitionTable maps (status, action) to the resulting instance status.
// Approve and RequestChanges map to InProgress here; CompleteStep promotes
// the result to Completed when no pending step remains. Delegate is absent
// because it never completes a step.
var transitionTable = map[transitionKey]model.InstanceStatus{
	{Status: model.InstanceInProgress, Action: model.ActionApprove}:           model.InstanceInProgress,
	{Status: model.InstanceInProgress, Action: model.ActionRequestChanges}:    model.InstanceInProgress,
	{Status: model.InstanceInProgress, Action: model.ActionReturnForRevision}: model.InstanceInProgress,
	{Status: model.InstanceInProgress, Action: model.ActionReject}:            model.InstanceRejected,
}

// nextStatus resolves the instance status that applying action in the given
// status yields, or INVALID_TRANSITION if the pair is not in the table.
func nextStatus(status model.InstanceStatus, action model.StepAction) (model.InstanceStatus, error) {
	next, ok := transitionTable[transitionKey{Status: status, Action: action}]
	if !ok {
		return "", model.NewInvalidTransitionError(
			fmt.Sprintf("action %q is not valid while the workflow is %s", action, status))
	}
	return next, nil
}

// ValidateTransitions checks the transition table for structural defects.
// Called at startup so a malformed table fails fast rather than surfacing
// as a runtime INVALID_TRANSITION.
func ValidateTransitions() error {
	completing := []model.StepAction{
		model.ActionApprove,
		model.ActionReject,
		model.ActionReturnForRevision,
		model.ActionRequestChanges,
	}
	for _, action := range completing {
		if _, ok := transitionTable[transitionKey{Status: model.InstanceInProgress, Action: action}]; !ok {
			return fmt.Errorf("transition table: no entry for action %q from in_progress", action)
		}
	}
	for key, next := range transitionTable {
		if key.Status.Terminal() {
			return fmt.Errorf("transition table: entry %v departs from terminal status", key)
		}
		switch next {
		case model.InstanceInProgress, model.InstanceCompleted, model.InstanceRejected:
		default:
			return fmt.Errorf("transition table: entry %v yields unreachable status %q", key, next)
		}
		if key.Action == model.ActionDelegate {
			return fmt.Errorf("transition table: delegate must not appear as a completing action")
		}
	}
	return nil
}
