package model

import "time"

// CaseKind distinguishes the two lifecycles sharing the generic machine.
type CaseKind string

const (
	CaseCAPA         CaseKind = "capa"
	CaseQualityEvent CaseKind = "quality_event"
)

// CaseStatus is a lifecycle state of a CAPA or quality-event case.
type CaseStatus string

const (
	CaseOpen          CaseStatus = "open"
	CaseInvestigating CaseStatus = "investigating"
	CaseApproved      CaseStatus = "approved"
	CaseImplemented   CaseStatus = "implemented"
	CaseVerified      CaseStatus = "verified"
	CaseClosed        CaseStatus = "closed"
)

// CaseAction is a named transition applied to a case.
type CaseAction string

const (
	CaseActionInvestigate CaseAction = "investigate"
	CaseActionApprove     CaseAction = "approve"
	CaseActionImplement   CaseAction = "implement"
	CaseActionVerify      CaseAction = "verify"
	CaseActionClose       CaseAction = "close"
)

// Severity drives due-date computation for cases.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityMajor         Severity = "major"
	SeverityMinor         Severity = "minor"
	SeverityInformational Severity = "informational"
)

// ActionItem is a child task of a case. Completion percentage is derived
// from these, never stored.
type ActionItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Owner       string     `json:"owner,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Case is a CAPA or quality-event record driven by the generic case state
// machine.
type Case struct {
	ID          string       `json:"id"`
	Kind        CaseKind     `json:"kind"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Severity    Severity     `json:"severity"`
	Status      CaseStatus   `json:"status"`
	Owner       string       `json:"owner"`
	OpenedAt    time.Time    `json:"opened_at"`
	DueAt       time.Time    `json:"due_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
	Version     int          `json:"version"`
}

// CompletionPercent returns completed/total*100 over action items, or 0
// when the case has none.
func (c Case) CompletionPercent() int {
	if len(c.ActionItems) == 0 {
		return 0
	}
	done := 0
	for _, item := range c.ActionItems {
		if item.Completed {
			done++
		}
	}
	return done * 100 / len(c.ActionItems)
}
