package model

import "time"

// CommentLifecycle is the explicit visibility state of a comment. Archival
// replaces deletion; queries filter on this state, never on a hidden flag.
type CommentLifecycle string

const (
	CommentActive   CommentLifecycle = "active"
	CommentArchived CommentLifecycle = "archived"
)

// Comment is a discussion entry attached to a workflow step. Comments have
// no state-machine impact and survive ReturnForRevision resets.
type Comment struct {
	ID         string           `json:"id"`
	InstanceID string           `json:"instance_id"`
	StepID     string           `json:"step_id"`
	Author     string           `json:"author"`
	Body       string           `json:"body"`
	Lifecycle  CommentLifecycle `json:"lifecycle"`
	CreatedAt  time.Time        `json:"created_at"`
}
