package comment

import (
	"context"
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
//	CREATE TABLE workflow_comments (
//	    id          TEXT PRIMARY KEY,
//	    instance_id TEXT NOT NULL,
//	    step_id     TEXT NOT NULL,
//	    author      TEXT NOT NULL,
//	    body        TEXT NOT NULL,
//	    lifecycle   TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX workflow_comments_step_idx ON workflow_comments (step_id);
//	CREATE INDEX workflow_comments_instance_idx ON workflow_comments (instance_id);
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL comment store over the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, c model.Comment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_comments (id, instance_id, step_id, author, body, lifecycle, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.InstanceID, c.StepID, c.Author, c.Body, string(c.Lifecycle), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("comment: insert: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (model.Comment, error) {
	row := s.pool.QueryRow(ctx, selectComment+` WHERE id = $1`, id)
	c, err := scanComment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Comment{}, model.NewNotFoundError(fmt.Sprintf("comment %q not found", id))
	}
	return c, err
}

func (s *PgStore) SetLifecycle(ctx context.Context, id string, lc model.CommentLifecycle) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_comments SET lifecycle = $1 WHERE id = $2`, string(lc), id)
	if err != nil {
		return fmt.Errorf("comment: update lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("comment %q not found", id))
	}
	return nil
}

func (s *PgStore) ListByStep(ctx context.Context, stepID string, includeArchived bool) ([]model.Comment, error) {
	return s.query(ctx, "step_id", stepID, includeArchived)
}

func (s *PgStore) ListByInstance(ctx context.Context, instanceID string, includeArchived bool) ([]model.Comment, error) {
	return s.query(ctx, "instance_id", instanceID, includeArchived)
}

const selectComment = `
	SELECT id, instance_id, step_id, author, body, lifecycle, created_at
	FROM workflow_comments`

func (s *PgStore) query(ctx context.Context, column, value string, includeArchived bool) ([]model.Comment, error) {
	query := selectComment + fmt.Sprintf(` WHERE %s = $1`, column)
	if !includeArchived {
		query += ` AND lifecycle = 'active'`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("comment: query: %w", err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComment(row pgx.Row) (model.Comment, error) {
	var (
		c         model.Comment
		lifecycle string
	)
	err := row.Scan(&c.ID, &c.InstanceID, &c.StepID, &c.Author, &c.Body, &lifecycle, &c.CreatedAt)
	if err != nil {
		return model.Comment{}, err
	}
	c.Lifecycle = model.CommentLifecycle(lifecycle)
	return c, nil
}
