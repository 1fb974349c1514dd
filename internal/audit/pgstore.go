package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// PgStore is a PostgreSQL-backed audit Store using pgx/v5.
//
// Schema:
//
//	CREATE TABLE audit_records (
//	    id           UUID PRIMARY KEY,
//	    actor        TEXT NOT NULL,
//	    action       TEXT NOT NULL,
//	    entity_type  TEXT NOT NULL,
//	    entity_id    TEXT NOT NULL,
//	    old_state    JSONB,
//	    new_state    JSONB,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    seq          BIGSERIAL,
//	    prev_hash    TEXT NOT NULL,
//	    content_hash TEXT NOT NULL
//	);
//	CREATE INDEX audit_records_entity_idx ON audit_records (entity_type, entity_id, seq);
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL audit store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck pings the pool. Used by the readiness endpoint.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append inserts a record inside a transaction, locking the entity's chain
// head so concurrent appends serialize rather than both chaining off the
// same predecessor.
func (s *PgStore) Append(ctx context.Context, rec *model.AuditRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("audit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var prevHash string
	err = tx.QueryRow(ctx, `
		SELECT content_hash FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq DESC LIMIT 1
		FOR UPDATE`,
		rec.EntityType, rec.EntityID,
	).Scan(&prevHash)
	if err == pgx.ErrNoRows {
		prevHash = model.GenesisHash
	} else if err != nil {
		return fmt.Errorf("audit: query chain head: %w", err)
	}

	rec.PrevHash = prevHash
	Seal(rec)

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_records (
			id, actor, action, entity_type, entity_id,
			old_state, new_state, created_at, prev_hash, content_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Actor, rec.Action, rec.EntityType, rec.EntityID,
		rec.OldState, rec.NewState, rec.Timestamp, rec.PrevHash, rec.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

// ListByEntity returns an entity's full history in append order.
func (s *PgStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]model.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor, action, entity_type, entity_id,
		       old_state, new_state, created_at, prev_hash, content_hash
		FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq ASC`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query entity history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Query returns records matching the filter in append order.
func (s *PgStore) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditRecord, error) {
	query := `SELECT id, actor, action, entity_type, entity_id,
	                 old_state, new_state, created_at, prev_hash, content_hash
	          FROM audit_records WHERE 1=1`
	var args []any
	argIdx := 1

	add := func(clause string, val any) {
		query += fmt.Sprintf(" AND "+clause, argIdx)
		args = append(args, val)
		argIdx++
	}

	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}

	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]model.AuditRecord, error) {
	var records []model.AuditRecord
	for rows.Next() {
		var rec model.AuditRecord
		if err := rows.Scan(
			&rec.ID, &rec.Actor, &rec.Action, &rec.EntityType, &rec.EntityID,
			&rec.OldState, &rec.NewState, &rec.Timestamp, &rec.PrevHash, &rec.ContentHash,
		); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
