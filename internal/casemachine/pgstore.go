package casemachine

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
//	CREATE TABLE cases (
//	    id           TEXT PRIMARY KEY,
//	    kind         TEXT NOT NULL,
//	    title        TEXT NOT NULL,
//	    description  TEXT NOT NULL DEFAULT '',
//	    severity     TEXT NOT NULL,
//	    status       TEXT NOT NULL,
//	    owner        TEXT NOT NULL,
//	    opened_at    TIMESTAMPTZ NOT NULL,
//	    due_at       TIMESTAMPTZ NOT NULL,
//	    closed_at    TIMESTAMPTZ,
//	    action_items JSONB NOT NULL DEFAULT '[]',
//	    version      INT NOT NULL
//	);
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL case store over the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, c model.Case) error {
	items, err := json.Marshal(c.ActionItems)
	if err != nil {
		return fmt.Errorf("case: encode action items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cases (id, kind, title, description, severity, status,
		                   owner, opened_at, due_at, closed_at, action_items, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, string(c.Kind), c.Title, c.Description, string(c.Severity), string(c.Status),
		c.Owner, c.OpenedAt, c.DueAt, c.ClosedAt, items, c.Version,
	)
	if err != nil {
		return fmt.Errorf("case: insert: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (model.Case, error) {
	row := s.pool.QueryRow(ctx, selectCase+` WHERE id = $1`, id)
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Case{}, model.NewNotFoundError(fmt.Sprintf("case %q not found", id))
	}
	return c, err
}

func (s *PgStore) Update(ctx context.Context, c model.Case) error {
	items, err := json.Marshal(c.ActionItems)
	if err != nil {
		return fmt.Errorf("case: encode action items: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE cases SET
			status = $1,
			closed_at = $2,
			action_items = $3,
			version = $4
		WHERE id = $5 AND version = $6`,
		string(c.Status), c.ClosedAt, items, c.Version+1,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("case: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf(
			"case %q version conflict (expected %d)", c.ID, c.Version))
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, filters Filters) ([]model.Case, error) {
	query := selectCase + ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filters.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(filters.Kind))
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filters.Status))
		argIdx++
	}
	if filters.Owner != "" {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, filters.Owner)
		argIdx++
	}
	query += " ORDER BY opened_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("case: query: %w", err)
	}
	defer rows.Close()

	var out []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const selectCase = `
	SELECT id, kind, title, description, severity, status,
	       owner, opened_at, due_at, closed_at, action_items, version
	FROM cases`

func scanCase(row pgx.Row) (model.Case, error) {
	var (
		c        model.Case
		kind     string
		severity string
		status   string
		items    []byte
	)
	err := row.Scan(&c.ID, &kind, &c.Title, &c.Description, &severity, &status,
		&c.Owner, &c.OpenedAt, &c.DueAt, &c.ClosedAt, &items, &c.Version)
	if err != nil {
		return model.Case{}, err
	}
	c.Kind = model.CaseKind(kind)
	c.Severity = model.Severity(severity)
	c.Status = model.CaseStatus(status)
	if err := json.Unmarshal(items, &c.ActionItems); err != nil {
		return model.Case{}, fmt.Errorf("case: decode action items: %w", err)
	}
	return c, nil
}
