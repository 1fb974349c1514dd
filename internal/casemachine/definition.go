// Package casemachine implements the shared CAPA / quality-event lifecycle
// as one parameterized state machine: states, transition table, and
// severity-driven due-date policy are configuration, not code paths.
package casemachine

import (
	"fmt"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// TransitionKey pairs a case status with the action applied to it.
type TransitionKey struct {
	From   model.CaseStatus
	Action model.CaseAction
}

// Definition parameterizes the machine for one case kind.
type Definition struct {
	Kind    model.CaseKind
	Initial model.CaseStatus

	// Transitions maps (status, action) to the resulting status.
	Transitions map[TransitionKey]model.CaseStatus

	// Terminal lists the statuses that permit no further transitions.
	Terminal []model.CaseStatus

	// SeverityDueDays maps case severity to the completion window in days.
	SeverityDueDays map[model.Severity]int

	// AutoImplementFrom is the status from which reaching 100% action-item
	// completion automatically transitions the case to Implemented.
	AutoImplementFrom model.CaseStatus
}

// IsTerminal reports whether status permits no further transitions.
func (d Definition) IsTerminal(status model.CaseStatus) bool {
	for _, t := range d.Terminal {
		if t == status {
			return true
		}
	}
	return false
}

// Next resolves a transition, or INVALID_TRANSITION if the pair is absent.
func (d Definition) Next(status model.CaseStatus, action model.CaseAction) (model.CaseStatus, error) {
	next, ok := d.Transitions[TransitionKey{From: status, Action: action}]
	if !ok {
		return "", model.NewInvalidTransitionError(fmt.Sprintf(
			"action %q is not valid for a %s case in status %q", action, d.Kind, status))
	}
	return next, nil
}

// DueDays returns the completion window for a severity, defaulting to the
// informational window for unknown severities.
func (d Definition) DueDays(sev model.Severity) int {
	if days, ok := d.SeverityDueDays[sev]; ok {
		return days
	}
	return d.SeverityDueDays[model.SeverityInformational]
}

// Validate checks the definition for structural defects. Called at startup.
func (d Definition) Validate() error {
	if d.Kind == "" {
		return fmt.Errorf("case definition: kind is required")
	}
	if d.Initial == "" {
		return fmt.Errorf("case definition %s: initial status is required", d.Kind)
	}
	if len(d.Transitions) == 0 {
		return fmt.Errorf("case definition %s: no transitions", d.Kind)
	}
	for key := range d.Transitions {
		if d.IsTerminal(key.From) {
			return fmt.Errorf("case definition %s: transition %v departs from terminal status", d.Kind, key)
		}
	}
	if len(d.SeverityDueDays) == 0 {
		return fmt.Errorf("case definition %s: no severity due days", d.Kind)
	}
	for sev, days := range d.SeverityDueDays {
		if days <= 0 {
			return fmt.Errorf("case definition %s: severity %q due days must be positive", d.Kind, sev)
		}
	}
	// Every status must be able to reach a terminal status.
	reach := map[model.CaseStatus]bool{}
	for _, t := range d.Terminal {
		reach[t] = true
	}
	for changed := true; changed; {
		changed = false
		for key, to := range d.Transitions {
			if reach[to] && !reach[key.From] {
				reach[key.From] = true
				changed = true
			}
		}
	}
	if !reach[d.Initial] {
		return fmt.Errorf("case definition %s: initial status cannot reach a terminal status", d.Kind)
	}
	return nil
}

// severityDueDays is the regulatory default window per severity.
var severityDueDays = map[model.Severity]int{
	model.SeverityCritical:      1,
	model.SeverityMajor:         3,
	model.SeverityMinor:         7,
	model.SeverityInformational: 14,
}

// CAPADefinition is the corrective/preventive action lifecycle.
func CAPADefinition() Definition {
	return Definition{
		Kind:    model.CaseCAPA,
		Initial: model.CaseOpen,
		Transitions: map[TransitionKey]model.CaseStatus{
			{From: model.CaseOpen, Action: model.CaseActionInvestigate}:      model.CaseInvestigating,
			{From: model.CaseInvestigating, Action: model.CaseActionImplement}: model.CaseImplemented,
			{From: model.CaseImplemented, Action: model.CaseActionVerify}:    model.CaseVerified,
			{From: model.CaseVerified, Action: model.CaseActionClose}:        model.CaseClosed,
		},
		Terminal:          []model.CaseStatus{model.CaseClosed},
		SeverityDueDays:   severityDueDays,
		AutoImplementFrom: model.CaseInvestigating,
	}
}

// QualityEventDefinition is the quality-event lifecycle.
func QualityEventDefinition() Definition {
	return Definition{
		Kind:    model.CaseQualityEvent,
		Initial: model.CaseOpen,
		Transitions: map[TransitionKey]model.CaseStatus{
			{From: model.CaseOpen, Action: model.CaseActionApprove}:        model.CaseApproved,
			{From: model.CaseApproved, Action: model.CaseActionImplement}:  model.CaseImplemented,
			{From: model.CaseImplemented, Action: model.CaseActionClose}:   model.CaseClosed,
		},
		Terminal:          []model.CaseStatus{model.CaseClosed},
		SeverityDueDays:   severityDueDays,
		AutoImplementFrom: model.CaseApproved,
	}
}
