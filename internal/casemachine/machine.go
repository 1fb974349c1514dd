package casemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/notify"
	"github.com/jinkaiteo/QMS-sub001/model"
)

// OpenRequest carries the fields for a new case.
type OpenRequest struct {
	Kind        model.CaseKind
	Title       string
	Description string
	Severity    model.Severity
	Owner       string
}

// Machine drives cases of the registered kinds through their lifecycles.
type Machine struct {
	definitions map[model.CaseKind]Definition
	store       Store
	ledger      *audit.Ledger
	publisher   notify.Publisher
	logger      *zap.Logger
}

// NewMachine creates a case machine over the given definitions. Definitions
// are validated here so a malformed table fails at startup.
func NewMachine(store Store, ledger *audit.Ledger, publisher notify.Publisher, logger *zap.Logger, defs ...Definition) (*Machine, error) {
	if len(defs) == 0 {
		defs = []Definition{CAPADefinition(), QualityEventDefinition()}
	}
	definitions := make(map[model.CaseKind]Definition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		definitions[def.Kind] = def
	}
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		definitions: definitions,
		store:       store,
		ledger:      ledger,
		publisher:   publisher,
		logger:      logger,
	}, nil
}

// Open creates a case in its kind's initial status with a severity-driven
// due date.
func (m *Machine) Open(ctx context.Context, rctx *model.RequestContext, req OpenRequest) (model.Case, error) {
	def, ok := m.definitions[req.Kind]
	if !ok {
		return model.Case{}, model.NewBadRequestError(fmt.Sprintf("unknown case kind %q", req.Kind))
	}
	var errs []model.FieldError
	if req.Title == "" {
		errs = append(errs, model.FieldError{Field: "title", Code: "REQUIRED", Message: "case title is required"})
	}
	switch req.Severity {
	case model.SeverityCritical, model.SeverityMajor, model.SeverityMinor, model.SeverityInformational:
	default:
		errs = append(errs, model.FieldError{Field: "severity", Code: "INVALID",
			Message: fmt.Sprintf("unknown severity %q", req.Severity)})
	}
	if len(errs) > 0 {
		return model.Case{}, model.NewValidationError(errs)
	}

	now := time.Now().UTC()
	owner := req.Owner
	if owner == "" {
		owner = rctx.SubjectID
	}
	c := model.Case{
		ID:          uuid.New().String(),
		Kind:        req.Kind,
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Status:      def.Initial,
		Owner:       owner,
		OpenedAt:    now,
		DueAt:       now.Add(time.Duration(def.DueDays(req.Severity)) * 24 * time.Hour),
		Version:     1,
	}
	if err := m.store.Create(ctx, c); err != nil {
		return model.Case{}, err
	}

	m.appendAudit(ctx, rctx.SubjectID, model.AuditCaseOpened, c.ID, nil, c)
	m.logger.Info("case opened",
		zap.String("case_id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("severity", string(c.Severity)),
	)
	return c, nil
}

// Transition applies a named action to a case per its kind's table.
func (m *Machine) Transition(ctx context.Context, rctx *model.RequestContext, caseID string, action model.CaseAction) (model.Case, error) {
	c, err := m.store.Get(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	def := m.definitions[c.Kind]
	if def.IsTerminal(c.Status) {
		return model.Case{}, model.NewInvalidTransitionError(fmt.Sprintf(
			"case %q is %s and permits no further transitions", caseID, c.Status))
	}
	next, err := def.Next(c.Status, action)
	if err != nil {
		return model.Case{}, err
	}
	return m.apply(ctx, rctx.SubjectID, c, action, next)
}

// AddActionItem attaches a child task to a non-terminal case.
func (m *Machine) AddActionItem(ctx context.Context, rctx *model.RequestContext, caseID, title, owner string) (model.Case, error) {
	if title == "" {
		return model.Case{}, model.NewValidationError([]model.FieldError{
			{Field: "title", Code: "REQUIRED", Message: "action item title is required"},
		})
	}
	c, err := m.store.Get(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	if m.definitions[c.Kind].IsTerminal(c.Status) {
		return model.Case{}, model.NewInvalidTransitionError(fmt.Sprintf(
			"case %q is %s, action items are frozen", caseID, c.Status))
	}

	c.ActionItems = append(c.ActionItems, model.ActionItem{
		ID:    uuid.New().String(),
		Title: title,
		Owner: owner,
	})
	if err := m.store.Update(ctx, c); err != nil {
		return model.Case{}, err
	}
	c.Version++
	return c, nil
}

// CompleteActionItem marks a child task done. Reaching 100% completion
// while the case sits in its kind's auto-implement status transitions it to
// Implemented without a separate call.
func (m *Machine) CompleteActionItem(ctx context.Context, rctx *model.RequestContext, caseID, itemID string) (model.Case, error) {
	c, err := m.store.Get(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	def := m.definitions[c.Kind]
	if def.IsTerminal(c.Status) {
		return model.Case{}, model.NewInvalidTransitionError(fmt.Sprintf(
			"case %q is %s, action items are frozen", caseID, c.Status))
	}

	found := false
	now := time.Now().UTC()
	for i := range c.ActionItems {
		if c.ActionItems[i].ID != itemID {
			continue
		}
		if c.ActionItems[i].Completed {
			return model.Case{}, model.NewConflictError(fmt.Sprintf(
				"action item %q is already completed", itemID))
		}
		c.ActionItems[i].Completed = true
		c.ActionItems[i].CompletedBy = rctx.SubjectID
		c.ActionItems[i].CompletedAt = &now
		found = true
		break
	}
	if !found {
		return model.Case{}, model.NewNotFoundError(fmt.Sprintf(
			"action item %q not found on case %q", itemID, caseID))
	}

	if err := m.store.Update(ctx, c); err != nil {
		return model.Case{}, err
	}
	c.Version++

	m.appendAudit(ctx, rctx.SubjectID, model.AuditCaseItemCompleted, c.ID,
		nil, map[string]any{"item_id": itemID, "completion_percent": c.CompletionPercent()})

	if c.CompletionPercent() == 100 && c.Status == def.AutoImplementFrom {
		return m.apply(ctx, rctx.SubjectID, c, model.CaseActionImplement, model.CaseImplemented)
	}
	return c, nil
}

// Get returns a case by ID.
func (m *Machine) Get(ctx context.Context, id string) (model.Case, error) {
	return m.store.Get(ctx, id)
}

// List returns cases, newest first.
func (m *Machine) List(ctx context.Context, filters Filters) ([]model.Case, error) {
	return m.store.List(ctx, filters)
}

// apply persists a status change and emits its audit record and event.
func (m *Machine) apply(ctx context.Context, actor string, c model.Case, action model.CaseAction, next model.CaseStatus) (model.Case, error) {
	before := c.Status
	c.Status = next
	if m.definitions[c.Kind].IsTerminal(next) {
		now := time.Now().UTC()
		c.ClosedAt = &now
	}
	if err := m.store.Update(ctx, c); err != nil {
		return model.Case{}, err
	}
	c.Version++

	m.appendAudit(ctx, actor, model.AuditCaseTransitioned, c.ID,
		map[string]any{"status": before},
		map[string]any{"status": next, "action": action})

	err := m.publisher.Publish(ctx, notify.Event{
		Name:       notify.EventCaseTransitioned,
		EntityType: "case",
		EntityID:   c.ID,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
		Data: map[string]any{
			"kind":   string(c.Kind),
			"from":   string(before),
			"to":     string(next),
			"action": string(action),
		},
	})
	if err != nil {
		m.logger.Warn("publish case transition event",
			zap.String("case_id", c.ID), zap.Error(err))
	}

	m.logger.Info("case transitioned",
		zap.String("case_id", c.ID),
		zap.String("from", string(before)),
		zap.String("to", string(next)),
	)
	return c, nil
}

func (m *Machine) appendAudit(ctx context.Context, actor, action, caseID string, oldState, newState any) {
	if _, err := m.ledger.Append(ctx, audit.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: "case",
		EntityID:   caseID,
		OldState:   oldState,
		NewState:   newState,
	}); err != nil {
		m.logger.Error("append case audit record",
			zap.String("case_id", caseID), zap.Error(err))
	}
}
