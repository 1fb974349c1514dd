package model

import "time"

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

// Workflow instance statuses. Completed, Rejected, Cancelled, and Expired
// are terminal.
const (
	InstancePending    InstanceStatus = "pending"
	InstanceInProgress InstanceStatus = "in_progress"
	InstanceCompleted  InstanceStatus = "completed"
	InstanceRejected   InstanceStatus = "rejected"
	InstanceCancelled  InstanceStatus = "cancelled"
	InstanceExpired    InstanceStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceCompleted, InstanceRejected, InstanceCancelled, InstanceExpired:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a single workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
)

// StepKind categorizes what a step asks of its assignee.
type StepKind string

const (
	StepKindReview       StepKind = "review"
	StepKindApproval     StepKind = "approval"
	StepKindNotification StepKind = "notification"
)

// StepAction is the decision recorded when a step is completed.
type StepAction string

const (
	ActionApprove           StepAction = "approve"
	ActionReject            StepAction = "reject"
	ActionReturnForRevision StepAction = "return_for_revision"
	ActionRequestChanges    StepAction = "request_changes"
	ActionDelegate          StepAction = "delegate"
)

// TemplateLifecycle is the administrative state of a template version.
type TemplateLifecycle string

const (
	TemplateActive     TemplateLifecycle = "active"
	TemplateDeprecated TemplateLifecycle = "deprecated"
)

// StepBlueprint is one ordered entry in a workflow template. Blueprints are
// immutable once the template is referenced by an instance.
type StepBlueprint struct {
	Order              int      `json:"order" yaml:"order"`
	Name               string   `json:"name" yaml:"name"`
	Kind               StepKind `json:"kind" yaml:"kind"`
	RequiredRole       string   `json:"required_role,omitempty" yaml:"required_role"`
	RequiredDepartment string   `json:"required_department,omitempty" yaml:"required_department"`
	RequiredUser       string   `json:"required_user,omitempty" yaml:"required_user"`
	DaysToComplete     int      `json:"days_to_complete" yaml:"days_to_complete"`
	Required           bool     `json:"required" yaml:"required"`
	Delegable          bool     `json:"delegable" yaml:"delegable"`
	RequiresSignature  bool     `json:"requires_signature" yaml:"requires_signature"`
	SignatureMeaning   string   `json:"signature_meaning,omitempty" yaml:"signature_meaning"`
}

// WorkflowTemplate defines the ordered step blueprints applied when a
// workflow is initiated for a given target document type. Edits to a
// referenced template create a new version rather than mutating in place.
type WorkflowTemplate struct {
	ID                 string            `json:"id" yaml:"id"`
	Name               string            `json:"name" yaml:"name"`
	TargetType         string            `json:"target_type" yaml:"target_type"`
	CategoryID         string            `json:"category_id,omitempty" yaml:"category_id"`
	Version            int               `json:"version" yaml:"version"`
	Lifecycle          TemplateLifecycle `json:"lifecycle" yaml:"lifecycle"`
	MultiLevelApproval bool              `json:"multi_level_approval" yaml:"multi_level_approval"`
	Steps              []StepBlueprint   `json:"steps" yaml:"steps"`
	CreatedBy          string            `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt          time.Time         `json:"created_at" yaml:"-"`
}

// WorkflowInstance is a single running execution of a template (or an
// ad-hoc step list) against one target record. At most one instance per
// target may be in a non-terminal status at a time.
type WorkflowInstance struct {
	ID               string         `json:"id"`
	TargetType       string         `json:"target_type"`
	TargetID         string         `json:"target_id"`
	TemplateID       *string        `json:"template_id,omitempty"`
	CurrentStepOrder int            `json:"current_step_order"`
	Status           InstanceStatus `json:"status"`
	Initiator        string         `json:"initiator"`
	StartedAt        time.Time      `json:"started_at"`
	DueAt            *time.Time     `json:"due_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CancelReason     string         `json:"cancel_reason,omitempty"`
	Version          int            `json:"version"`
}

// WorkflowStep is an ordered child of an instance. Step identity survives
// ReturnForRevision resets so the audit trail stays attached to the same
// record.
type WorkflowStep struct {
	ID                string      `json:"id"`
	InstanceID        string      `json:"instance_id"`
	Order             int         `json:"order"`
	Name              string      `json:"name"`
	Kind              StepKind    `json:"kind"`
	Status            StepStatus  `json:"status"`
	Assignee          string      `json:"assignee,omitempty"`
	AssignedAt        *time.Time  `json:"assigned_at,omitempty"`
	DueAt             *time.Time  `json:"due_at,omitempty"`
	ActionTaken       *StepAction `json:"action_taken,omitempty"`
	DelegatedFrom     string      `json:"delegated_from,omitempty"`
	CompletedBy       string      `json:"completed_by,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	RequiredRole      string      `json:"required_role,omitempty"`
	RequiredDept      string      `json:"required_department,omitempty"`
	Required          bool        `json:"required"`
	Delegable         bool        `json:"delegable"`
	RequiresSignature bool        `json:"requires_signature"`
	SignatureMeaning  string      `json:"signature_meaning,omitempty"`
}

// Active reports whether this step is the one currently awaiting action.
func (s WorkflowStep) Active() bool {
	return s.AssignedAt != nil && s.Status != StepCompleted && s.Status != StepSkipped
}

// WorkflowStatusView is the read-only projection returned by GetStatus.
type WorkflowStatusView struct {
	Instance WorkflowInstance `json:"instance"`
	Steps    []WorkflowStep   `json:"steps"`
}
