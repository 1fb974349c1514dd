package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
//
// Expected schema:
//
//	CREATE TABLE workflow_instances (
//	    id                 TEXT PRIMARY KEY,
//	    target_type        TEXT NOT NULL,
//	    target_id          TEXT NOT NULL,
//	    template_id        TEXT,
//	    current_step_order INT NOT NULL,
//	    status             TEXT NOT NULL,
//	    initiator          TEXT NOT NULL,
//	    started_at         TIMESTAMPTZ NOT NULL,
//	    due_at             TIMESTAMPTZ,
//	    completed_at       TIMESTAMPTZ,
//	    cancel_reason      TEXT NOT NULL DEFAULT '',
//	    version            INT NOT NULL
//	);
//	CREATE UNIQUE INDEX workflow_instances_active_target_idx
//	    ON workflow_instances (target_type, target_id)
//	    WHERE status IN ('pending', 'in_progress');
//
//	CREATE TABLE workflow_steps (
//	    id                  TEXT PRIMARY KEY,
//	    instance_id         TEXT NOT NULL REFERENCES workflow_instances (id),
//	    step_order          INT NOT NULL,
//	    name                TEXT NOT NULL,
//	    kind                TEXT NOT NULL,
//	    status              TEXT NOT NULL,
//	    assignee            TEXT NOT NULL DEFAULT '',
//	    assigned_at         TIMESTAMPTZ,
//	    due_at              TIMESTAMPTZ,
//	    action_taken        TEXT,
//	    delegated_from      TEXT NOT NULL DEFAULT '',
//	    completed_by        TEXT NOT NULL DEFAULT '',
//	    completed_at        TIMESTAMPTZ,
//	    required_role       TEXT NOT NULL DEFAULT '',
//	    required_department TEXT NOT NULL DEFAULT '',
//	    required            BOOLEAN NOT NULL,
//	    delegable           BOOLEAN NOT NULL,
//	    requires_signature  BOOLEAN NOT NULL,
//	    signature_meaning   TEXT NOT NULL DEFAULT '',
//	    UNIQUE (instance_id, step_order)
//	);
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL workflow store over the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the pool. Used by the readiness endpoint.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) ExecTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workflow: begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workflow: commit tx: %w", err)
	}
	return nil
}

func (s *PgStore) GetInstance(ctx context.Context, id string) (model.WorkflowInstance, error) {
	return scanInstance(s.pool.QueryRow(ctx, selectInstance+` WHERE id = $1`, id), id)
}

func (s *PgStore) GetStep(ctx context.Context, id string) (model.WorkflowStep, error) {
	return scanStep(s.pool.QueryRow(ctx, selectStep+` WHERE id = $1`, id), id)
}

func (s *PgStore) FindActiveByTarget(ctx context.Context, targetType, targetID string) (model.WorkflowInstance, error) {
	return findActiveByTarget(ctx, s.pool, targetType, targetID, "")
}

func (s *PgStore) LatestByTarget(ctx context.Context, targetType, targetID string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, selectInstance+`
		WHERE target_type = $1 AND target_id = $2
		ORDER BY started_at DESC LIMIT 1`,
		targetType, targetID)
	inst, err := scanInstance(row, "")
	if model.HasCode(err, model.ErrNotFound) {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("no workflow instance for %s %q", targetType, targetID))
	}
	return inst, err
}

func (s *PgStore) ListSteps(ctx context.Context, instanceID string) ([]model.WorkflowStep, error) {
	return listSteps(ctx, s.pool, instanceID)
}

func (s *PgStore) ListActive(ctx context.Context, filters Filters) ([]model.WorkflowInstance, error) {
	query := selectInstance + ` WHERE status IN ('pending', 'in_progress')`
	args := []any{}
	argIdx := 1

	if filters.TargetType != "" {
		query += fmt.Sprintf(" AND target_type = $%d", argIdx)
		args = append(args, filters.TargetType)
		argIdx++
	}
	if filters.Initiator != "" {
		query += fmt.Sprintf(" AND initiator = $%d", argIdx)
		args = append(args, filters.Initiator)
		argIdx++
	}
	query += " ORDER BY started_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	return s.queryInstances(ctx, query, args...)
}

func (s *PgStore) ListExpired(ctx context.Context, cutoff time.Time) ([]model.WorkflowInstance, error) {
	return s.queryInstances(ctx, selectInstance+`
		WHERE status IN ('pending', 'in_progress')
		  AND due_at IS NOT NULL AND due_at < $1
		ORDER BY due_at ASC`, cutoff)
}

func (s *PgStore) queryInstances(ctx context.Context, query string, args ...any) ([]model.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workflow: query instances: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// pgTx implements Tx over one pgx transaction. Row locks taken here are
// held until the surrounding ExecTx commits or rolls back.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, target_type, target_id, template_id, current_step_order,
			status, initiator, started_at, due_at, completed_at,
			cancel_reason, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		inst.ID, inst.TargetType, inst.TargetID, inst.TemplateID, inst.CurrentStepOrder,
		string(inst.Status), inst.Initiator, inst.StartedAt, inst.DueAt, inst.CompletedAt,
		inst.CancelReason, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("workflow: insert instance: %w", err)
	}
	return nil
}

func (t *pgTx) CreateStep(ctx context.Context, step model.WorkflowStep) error {
	var action *string
	if step.ActionTaken != nil {
		a := string(*step.ActionTaken)
		action = &a
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO workflow_steps (
			id, instance_id, step_order, name, kind, status,
			assignee, assigned_at, due_at, action_taken, delegated_from,
			completed_by, completed_at, required_role, required_department,
			required, delegable, requires_signature, signature_meaning
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		step.ID, step.InstanceID, step.Order, step.Name, string(step.Kind), string(step.Status),
		step.Assignee, step.AssignedAt, step.DueAt, action, step.DelegatedFrom,
		step.CompletedBy, step.CompletedAt, step.RequiredRole, step.RequiredDept,
		step.Required, step.Delegable, step.RequiresSignature, step.SignatureMeaning,
	)
	if err != nil {
		return fmt.Errorf("workflow: insert step: %w", err)
	}
	return nil
}

func (t *pgTx) GetInstanceForUpdate(ctx context.Context, id string) (model.WorkflowInstance, error) {
	return scanInstance(t.tx.QueryRow(ctx, selectInstance+` WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *pgTx) GetStepForUpdate(ctx context.Context, id string) (model.WorkflowStep, error) {
	return scanStep(t.tx.QueryRow(ctx, selectStep+` WHERE id = $1 FOR UPDATE`, id), id)
}

func (t *pgTx) FindActiveByTarget(ctx context.Context, targetType, targetID string) (model.WorkflowInstance, error) {
	return findActiveByTarget(ctx, t.tx, targetType, targetID, " FOR UPDATE")
}

func (t *pgTx) UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE workflow_instances SET
			current_step_order = $1,
			status = $2,
			due_at = $3,
			completed_at = $4,
			cancel_reason = $5,
			version = $6
		WHERE id = $7 AND version = $8`,
		inst.CurrentStepOrder, string(inst.Status), inst.DueAt, inst.CompletedAt,
		inst.CancelReason, inst.Version+1,
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("workflow: update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf(
			"workflow instance %q version conflict (expected %d)", inst.ID, inst.Version))
	}
	return nil
}

func (t *pgTx) UpdateStep(ctx context.Context, step model.WorkflowStep) error {
	var action *string
	if step.ActionTaken != nil {
		a := string(*step.ActionTaken)
		action = &a
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE workflow_steps SET
			status = $1,
			assignee = $2,
			assigned_at = $3,
			due_at = $4,
			action_taken = $5,
			delegated_from = $6,
			completed_by = $7,
			completed_at = $8
		WHERE id = $9`,
		string(step.Status), step.Assignee, step.AssignedAt, step.DueAt,
		action, step.DelegatedFrom, step.CompletedBy, step.CompletedAt,
		step.ID,
	)
	if err != nil {
		return fmt.Errorf("workflow: update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow step %q not found", step.ID))
	}
	return nil
}

func (t *pgTx) ListSteps(ctx context.Context, instanceID string) ([]model.WorkflowStep, error) {
	return listSteps(ctx, t.tx, instanceID)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectInstance = `
	SELECT id, target_type, target_id, template_id, current_step_order,
	       status, initiator, started_at, due_at, completed_at,
	       cancel_reason, version
	FROM workflow_instances`

const selectStep = `
	SELECT id, instance_id, step_order, name, kind, status,
	       assignee, assigned_at, due_at, action_taken, delegated_from,
	       completed_by, completed_at, required_role, required_department,
	       required, delegable, requires_signature, signature_meaning
	FROM workflow_steps`

func findActiveByTarget(ctx context.Context, q querier, targetType, targetID, lock string) (model.WorkflowInstance, error) {
	row := q.QueryRow(ctx, selectInstance+`
		WHERE target_type = $1 AND target_id = $2
		  AND status IN ('pending', 'in_progress')`+lock,
		targetType, targetID)
	inst, err := scanInstance(row, "")
	if model.HasCode(err, model.ErrNotFound) {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("no active workflow for %s %q", targetType, targetID))
	}
	return inst, err
}

func listSteps(ctx context.Context, q querier, instanceID string) ([]model.WorkflowStep, error) {
	rows, err := q.Query(ctx, selectStep+` WHERE instance_id = $1 ORDER BY step_order ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("workflow: query steps: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func scanInstance(row pgx.Row, id string) (model.WorkflowInstance, error) {
	var (
		inst   model.WorkflowInstance
		status string
	)
	err := row.Scan(&inst.ID, &inst.TargetType, &inst.TargetID, &inst.TemplateID,
		&inst.CurrentStepOrder, &status, &inst.Initiator, &inst.StartedAt,
		&inst.DueAt, &inst.CompletedAt, &inst.CancelReason, &inst.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", id))
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("workflow: scan instance: %w", err)
	}
	inst.Status = model.InstanceStatus(status)
	return inst, nil
}

func scanStep(row pgx.Row, id string) (model.WorkflowStep, error) {
	var (
		step   model.WorkflowStep
		kind   string
		status string
		action *string
	)
	err := row.Scan(&step.ID, &step.InstanceID, &step.Order, &step.Name, &kind, &status,
		&step.Assignee, &step.AssignedAt, &step.DueAt, &action, &step.DelegatedFrom,
		&step.CompletedBy, &step.CompletedAt, &step.RequiredRole, &step.RequiredDept,
		&step.Required, &step.Delegable, &step.RequiresSignature, &step.SignatureMeaning)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowStep{}, model.NewNotFoundError(
			fmt.Sprintf("workflow step %q not found", id))
	}
	if err != nil {
		return model.WorkflowStep{}, fmt.Errorf("workflow: scan step: %w", err)
	}
	step.Kind = model.StepKind(kind)
	step.Status = model.StepStatus(status)
	if action != nil {
		a := model.StepAction(*action)
		step.ActionTaken = &a
	}
	return step, nil
}
