// Package notify emits logical workflow events to the notification
// collaborator. Delivery is fire-and-forget: a failed publish is logged and
// never rolls back the engine transaction that produced it.
package notify

import (
	"context"
	"time"
)

// Event names published by the engine and its collaborators. Subjects on the
// wire are "<prefix>.<event>", e.g. "qms.workflow.initiated".
const (
	EventWorkflowInitiated    = "workflow.initiated"
	EventWorkflowCompleted    = "workflow.completed"
	EventWorkflowRejected     = "workflow.rejected"
	EventWorkflowCancelled    = "workflow.cancelled"
	EventWorkflowExpired      = "workflow.expired"
	EventStepAssigned         = "step.assigned"
	EventStepCompleted        = "step.completed"
	EventStepDelegated        = "step.delegated"
	EventSignatureInvalidated = "signature.invalidated"
	EventCaseTransitioned     = "case.transitioned"
)

// Event is one logical notification emitted by the engine.
type Event struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher delivers events to the notification collaborator.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
