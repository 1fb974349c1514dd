package capability

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// Checker answers yes/no authorization questions from resolved capability
// sets. The check's Action is the capability string itself, so policy files
// grant exactly the operations the service exposes.
type Checker struct {
	resolver model.CapabilityResolver
	logger   *zap.Logger
}

// NewChecker builds a Checker over the given resolver.
func NewChecker(resolver model.CapabilityResolver, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{resolver: resolver, logger: logger}
}

// Check returns nil when the actor holds a capability matching the check's
// action, and a FORBIDDEN envelope otherwise.
func (c *Checker) Check(_ context.Context, rctx *model.RequestContext, check model.CapabilityCheck) error {
	if rctx == nil || rctx.SubjectID == "" {
		return model.NewUnauthorizedError("no authenticated subject")
	}
	caps, err := c.resolver.Resolve(rctx)
	if err != nil {
		return fmt.Errorf("capability: resolving capabilities for %s: %w", rctx.SubjectID, err)
	}
	if caps.Has(check.Action) {
		return nil
	}
	c.logger.Debug("capability denied",
		zap.String("subject_id", rctx.SubjectID),
		zap.String("action", check.Action),
		zap.String("resource_type", check.ResourceType),
		zap.String("resource_id", check.ResourceID),
	)
	return model.NewForbiddenError(fmt.Sprintf(
		"subject %q lacks capability %q", rctx.SubjectID, check.Action))
}
