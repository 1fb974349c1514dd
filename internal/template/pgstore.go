package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// PgStore is a PostgreSQL-backed Store.
//
// Expected schema:
//
//	CREATE TABLE workflow_templates (
//	    id                   TEXT PRIMARY KEY,
//	    name                 TEXT NOT NULL,
//	    target_type          TEXT NOT NULL,
//	    category_id          TEXT NOT NULL DEFAULT '',
//	    version              INT NOT NULL,
//	    lifecycle            TEXT NOT NULL,
//	    multi_level_approval BOOLEAN NOT NULL,
//	    steps                JSONB NOT NULL,
//	    created_by           TEXT NOT NULL,
//	    created_at           TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX workflow_templates_active_idx
//	    ON workflow_templates (target_type, category_id)
//	    WHERE lifecycle = 'active';
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL template store over the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, tpl model.WorkflowTemplate) error {
	steps, err := json.Marshal(tpl.Steps)
	if err != nil {
		return fmt.Errorf("template: encode steps: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_templates
			(id, name, target_type, category_id, version, lifecycle,
			 multi_level_approval, steps, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		tpl.ID, tpl.Name, tpl.TargetType, tpl.CategoryID, tpl.Version,
		string(tpl.Lifecycle), tpl.MultiLevelApproval, steps, tpl.CreatedBy, tpl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("template: insert: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (model.WorkflowTemplate, error) {
	row := s.pool.QueryRow(ctx, selectTemplate+` WHERE id = $1`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowTemplate{}, model.NewNotFoundError(fmt.Sprintf("template %q not found", id))
	}
	return tpl, err
}

func (s *PgStore) FindActive(ctx context.Context, targetType, categoryID string) (model.WorkflowTemplate, error) {
	row := s.pool.QueryRow(ctx, selectTemplate+`
		WHERE target_type = $1 AND category_id = $2 AND lifecycle = 'active'`,
		targetType, categoryID)
	tpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowTemplate{}, model.NewNotFoundError(
			fmt.Sprintf("no active template for target type %q category %q", targetType, categoryID))
	}
	return tpl, err
}

func (s *PgStore) List(ctx context.Context, targetType string) ([]model.WorkflowTemplate, error) {
	query := selectTemplate
	args := []any{}
	if targetType != "" {
		query += ` WHERE target_type = $1`
		args = append(args, targetType)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("template: list: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *PgStore) SetLifecycle(ctx context.Context, id string, lc model.TemplateLifecycle) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_templates SET lifecycle = $1 WHERE id = $2`,
		string(lc), id)
	if err != nil {
		return fmt.Errorf("template: update lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("template %q not found", id))
	}
	return nil
}

const selectTemplate = `
	SELECT id, name, target_type, category_id, version, lifecycle,
	       multi_level_approval, steps, created_by, created_at
	FROM workflow_templates`

func scanTemplate(row pgx.Row) (model.WorkflowTemplate, error) {
	var (
		tpl       model.WorkflowTemplate
		lifecycle string
		steps     []byte
	)
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.TargetType, &tpl.CategoryID,
		&tpl.Version, &lifecycle, &tpl.MultiLevelApproval, &steps,
		&tpl.CreatedBy, &tpl.CreatedAt)
	if err != nil {
		return model.WorkflowTemplate{}, err
	}
	tpl.Lifecycle = model.TemplateLifecycle(lifecycle)
	if err := json.Unmarshal(steps, &tpl.Steps); err != nil {
		return model.WorkflowTemplate{}, fmt.Errorf("template: decode steps: %w", err)
	}
	return tpl, nil
}
