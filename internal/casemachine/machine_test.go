package casemachine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/notify"
	"github.com/jinkaiteo/QMS-sub001/model"
)

func newTestMachine(t *testing.T) (*Machine, *audit.MemoryStore, *notify.MemoryPublisher) {
	t.Helper()
	auditStore := audit.NewMemoryStore()
	ledger := audit.NewLedger(auditStore, zap.NewNop())
	events := notify.NewMemoryPublisher()
	m, err := NewMachine(NewMemoryStore(), ledger, events, zap.NewNop())
	require.NoError(t, err)
	return m, auditStore, events
}

func qaCtx() *model.RequestContext {
	return &model.RequestContext{SubjectID: "qa-lead", Roles: []string{"quality_assurance"}}
}

func TestDefinitionsValidate(t *testing.T) {
	require.NoError(t, CAPADefinition().Validate())
	require.NoError(t, QualityEventDefinition().Validate())
}

func TestSeverityDueDates(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	cases := map[model.Severity]int{
		model.SeverityCritical:      1,
		model.SeverityMajor:         3,
		model.SeverityMinor:         7,
		model.SeverityInformational: 14,
	}
	for sev, days := range cases {
		c, err := m.Open(ctx, qaCtx(), OpenRequest{
			Kind:     model.CaseCAPA,
			Title:    "deviation in lot 42",
			Severity: sev,
		})
		require.NoError(t, err)
		want := c.OpenedAt.Add(time.Duration(days) * 24 * time.Hour)
		assert.WithinDuration(t, want, c.DueAt, time.Second, "severity %s", sev)
	}
}

func TestCAPALifecycle(t *testing.T) {
	m, auditStore, events := newTestMachine(t)
	ctx := context.Background()

	c, err := m.Open(ctx, qaCtx(), OpenRequest{
		Kind:     model.CaseCAPA,
		Title:    "recurring OOS on assay",
		Severity: model.SeverityMajor,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CaseOpen, c.Status)

	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionInvestigate)
	require.NoError(t, err)
	assert.Equal(t, model.CaseInvestigating, c.Status)

	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionImplement)
	require.NoError(t, err)
	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionVerify)
	require.NoError(t, err)
	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionClose)
	require.NoError(t, err)
	assert.Equal(t, model.CaseClosed, c.Status)
	require.NotNil(t, c.ClosedAt)

	// Closed is terminal.
	_, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionInvestigate)
	assert.True(t, model.HasCode(err, model.ErrInvalidTransition))

	records, err := auditStore.ListByEntity(ctx, "case", c.ID)
	require.NoError(t, err)
	assert.Len(t, records, 5) // opened + four transitions
	assert.Equal(t, model.AuditCaseOpened, records[0].Action)

	assert.Len(t, events.Named(notify.EventCaseTransitioned), 4)
}

func TestQualityEventLifecycle(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	c, err := m.Open(ctx, qaCtx(), OpenRequest{
		Kind:     model.CaseQualityEvent,
		Title:    "temperature excursion in cold room",
		Severity: model.SeverityCritical,
	})
	require.NoError(t, err)

	// CAPA actions do not apply to quality events.
	_, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionInvestigate)
	assert.True(t, model.HasCode(err, model.ErrInvalidTransition))

	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionApprove)
	require.NoError(t, err)
	assert.Equal(t, model.CaseApproved, c.Status)

	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionImplement)
	require.NoError(t, err)
	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionClose)
	require.NoError(t, err)
	assert.Equal(t, model.CaseClosed, c.Status)
}

func TestActionItemCompletionPercent(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	c, err := m.Open(ctx, qaCtx(), OpenRequest{
		Kind:     model.CaseCAPA,
		Title:    "air handler filter replacement",
		Severity: model.SeverityMinor,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, c.CompletionPercent())

	c, err = m.AddActionItem(ctx, qaCtx(), c.ID, "replace filter", "maint-1")
	require.NoError(t, err)
	c, err = m.AddActionItem(ctx, qaCtx(), c.ID, "requalify room", "qa-2")
	require.NoError(t, err)

	c, err = m.CompleteActionItem(ctx, qaCtx(), c.ID, c.ActionItems[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 50, c.CompletionPercent())
	assert.Equal(t, "qa-lead", c.ActionItems[0].CompletedBy)

	// Completing twice conflicts.
	_, err = m.CompleteActionItem(ctx, qaCtx(), c.ID, c.ActionItems[0].ID)
	assert.True(t, model.HasCode(err, model.ErrConflict))
}

func TestAutoImplementAtFullCompletion(t *testing.T) {
	m, _, events := newTestMachine(t)
	ctx := context.Background()

	c, err := m.Open(ctx, qaCtx(), OpenRequest{
		Kind:     model.CaseCAPA,
		Title:    "update cleaning procedure",
		Severity: model.SeverityMajor,
	})
	require.NoError(t, err)

	c, err = m.AddActionItem(ctx, qaCtx(), c.ID, "revise SOP", "author-1")
	require.NoError(t, err)
	c, err = m.AddActionItem(ctx, qaCtx(), c.ID, "retrain operators", "trainer-1")
	require.NoError(t, err)
	c, err = m.Transition(ctx, qaCtx(), c.ID, model.CaseActionInvestigate)
	require.NoError(t, err)

	c, err = m.CompleteActionItem(ctx, qaCtx(), c.ID, c.ActionItems[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseInvestigating, c.Status, "half done, no auto-transition")

	c, err = m.CompleteActionItem(ctx, qaCtx(), c.ID, c.ActionItems[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseImplemented, c.Status, "full completion auto-implements")

	transitions := events.Named(notify.EventCaseTransitioned)
	require.NotEmpty(t, transitions)
	last := transitions[len(transitions)-1]
	assert.Equal(t, string(model.CaseImplemented), last.Data["to"])
}

func TestAutoImplementOnlyFromConfiguredStatus(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	c, err := m.Open(ctx, qaCtx(), OpenRequest{
		Kind:     model.CaseCAPA,
		Title:    "label stock reconciliation",
		Severity: model.SeverityMinor,
	})
	require.NoError(t, err)

	c, err = m.AddActionItem(ctx, qaCtx(), c.ID, "count stock", "wh-1")
	require.NoError(t, err)

	// Still open: full completion must not skip the investigation.
	c, err = m.CompleteActionItem(ctx, qaCtx(), c.ID, c.ActionItems[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 100, c.CompletionPercent())
	assert.Equal(t, model.CaseOpen, c.Status)
}

func TestOpenValidation(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Open(ctx, qaCtx(), OpenRequest{Kind: "incident", Title: "x", Severity: model.SeverityMinor})
	assert.True(t, model.HasCode(err, model.ErrBadRequest))

	_, err = m.Open(ctx, qaCtx(), OpenRequest{Kind: model.CaseCAPA, Severity: model.SeverityMinor})
	assert.True(t, model.HasCode(err, model.ErrValidationError))

	_, err = m.Open(ctx, qaCtx(), OpenRequest{Kind: model.CaseCAPA, Title: "x", Severity: "catastrophic"})
	assert.True(t, model.HasCode(err, model.ErrValidationError))
}

func TestList(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	capa, err := m.Open(ctx, qaCtx(), OpenRequest{Kind: model.CaseCAPA, Title: "a", Severity: model.SeverityMinor})
	require.NoError(t, err)
	_, err = m.Open(ctx, qaCtx(), OpenRequest{Kind: model.CaseQualityEvent, Title: "b", Severity: model.SeverityMinor})
	require.NoError(t, err)

	capas, err := m.List(ctx, Filters{Kind: model.CaseCAPA})
	require.NoError(t, err)
	require.Len(t, capas, 1)
	assert.Equal(t, capa.ID, capas[0].ID)

	open, err := m.List(ctx, Filters{Status: model.CaseOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}
