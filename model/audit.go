package model

import (
	"encoding/json"
	"time"
)

// GenesisHash seeds the hash chain for the first record of an entity.
const GenesisHash = "qms-audit-genesis-v1"

// Audit action names recorded by the engine and its collaborators.
const (
	AuditWorkflowInitiated   = "workflow.initiated"
	AuditWorkflowCompleted   = "workflow.completed"
	AuditWorkflowRejected    = "workflow.rejected"
	AuditWorkflowCancelled   = "workflow.cancelled"
	AuditWorkflowExpired     = "workflow.expired"
	AuditWorkflowReturned    = "workflow.returned_for_revision"
	AuditStepCompleted       = "step.completed"
	AuditStepDelegated       = "step.delegated"
	AuditAccessDenied        = "access.denied"
	AuditSignatureCreated    = "signature.created"
	AuditSignatureInvalided  = "signature.invalidated"
	AuditTemplateCreated     = "template.created"
	AuditTemplateDeprecated  = "template.deprecated"
	AuditCaseOpened          = "case.opened"
	AuditCaseTransitioned    = "case.transitioned"
	AuditCaseItemCompleted   = "case.action_item_completed"
)

// AuditRecord is one immutable entry in a per-entity hash chain.
// ContentHash covers actor, action, entity reference, both state snapshots,
// the timestamp, and the previous record's hash, so any later alteration of
// a stored record is detectable by recomputation.
type AuditRecord struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldState   json.RawMessage `json:"old_state,omitempty"`
	NewState   json.RawMessage `json:"new_state,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	PrevHash   string          `json:"prev_hash"`
	ContentHash string         `json:"content_hash"`
}

// AuditFilter narrows audit queries. Zero fields match everything.
type AuditFilter struct {
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// ChainReport is the result of walking one entity's audit chain.
type ChainReport struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Records    int    `json:"records"`
	Valid      bool   `json:"valid"`
	BrokenAt   string `json:"broken_at,omitempty"`
}
