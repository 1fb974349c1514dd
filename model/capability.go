package model

import (
	"context"
	"strings"
)

// CapabilitySet is a set of capabilities granted to an actor. Each key is a
// capability string (e.g. "workflow:step:complete") and may include wildcards
// (e.g. "workflow:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities (including
// via wildcards).
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// capabilities (including via wildcards).
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
// Examples:
//
//	"*"                matches anything
//	"workflow:*"       matches "workflow:step:complete"
//	"workflow:step:*"  matches "workflow:step:complete"
//	"workflow:step"    does NOT match "workflow:step:complete" (exact only)
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the full capability set for a request context.
type CapabilityResolver interface {
	// Resolve returns all capabilities for the given subject.
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given subject.
	Invalidate(subjectID string)
}

// CapabilityCheck identifies one authorization decision: may this actor
// perform action on the named resource?
type CapabilityCheck struct {
	Action       string
	ResourceType string
	ResourceID   string
}

// CapabilityChecker is the single authorization gate the engine calls once
// per operation. It decouples authorization policy from the state machine.
type CapabilityChecker interface {
	// Check returns nil if the actor may proceed, or a FORBIDDEN
	// ErrorEnvelope otherwise.
	Check(ctx context.Context, rctx *RequestContext, check CapabilityCheck) error
}
