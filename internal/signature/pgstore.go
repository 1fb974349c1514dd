package signature

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// PgStore is a PostgreSQL-backed signature Store using pgx/v5.
//
// Schema:
//
//	CREATE TABLE signatures (
//	    id                  UUID PRIMARY KEY,
//	    target_type         TEXT NOT NULL,
//	    target_id           TEXT NOT NULL,
//	    step_id             UUID,
//	    signer              TEXT NOT NULL,
//	    meaning             TEXT NOT NULL,
//	    method              TEXT NOT NULL,
//	    content_hash        TEXT NOT NULL,
//	    signed_at           TIMESTAMPTZ NOT NULL,
//	    valid               BOOLEAN NOT NULL DEFAULT TRUE,
//	    invalidation_reason TEXT,
//	    invalidated_by      TEXT,
//	    invalidated_at      TIMESTAMPTZ
//	);
//	CREATE INDEX signatures_target_idx ON signatures (target_type, target_id, signed_at);
//	CREATE INDEX signatures_step_idx ON signatures (step_id);
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL signature store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const signatureColumns = `id, target_type, target_id, step_id, signer, meaning, method,
	content_hash, signed_at, valid, invalidation_reason, invalidated_by, invalidated_at`

// Create inserts a new signature.
func (s *PgStore) Create(ctx context.Context, sig model.Signature) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signatures (
			id, target_type, target_id, step_id, signer, meaning, method,
			content_hash, signed_at, valid, invalidation_reason, invalidated_by, invalidated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sig.ID, sig.TargetType, sig.TargetID, sig.StepID, sig.Signer, sig.Meaning, sig.Method,
		sig.ContentHash, sig.SignedAt, sig.Valid, nullable(sig.InvalidationReason),
		nullable(sig.InvalidatedBy), sig.InvalidatedAt,
	)
	if err != nil {
		return fmt.Errorf("signature: insert: %w", err)
	}
	return nil
}

// Get retrieves a signature by ID.
func (s *PgStore) Get(ctx context.Context, id string) (model.Signature, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+signatureColumns+` FROM signatures WHERE id = $1`, id)
	sig, err := scanSignature(row)
	if err == pgx.ErrNoRows {
		return model.Signature{}, model.NewNotFoundError(fmt.Sprintf("signature %q not found", id))
	}
	if err != nil {
		return model.Signature{}, fmt.Errorf("signature: query: %w", err)
	}
	return sig, nil
}

// MarkInvalid sets the invalidation fields. The predicate on valid makes a
// double invalidation a no-op at the storage layer; the service reports it
// as a conflict before reaching here.
func (s *PgStore) MarkInvalid(ctx context.Context, sig model.Signature) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE signatures SET
			valid = FALSE,
			invalidation_reason = $1,
			invalidated_by = $2,
			invalidated_at = $3
		WHERE id = $4 AND valid = TRUE`,
		sig.InvalidationReason, sig.InvalidatedBy, sig.InvalidatedAt, sig.ID,
	)
	if err != nil {
		return fmt.Errorf("signature: mark invalid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("signature %q not found or already invalidated", sig.ID))
	}
	return nil
}

// ListByTarget returns all signatures for a target in signing order.
func (s *PgStore) ListByTarget(ctx context.Context, targetType, targetID string) ([]model.Signature, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signatureColumns+` FROM signatures
		 WHERE target_type = $1 AND target_id = $2
		 ORDER BY signed_at ASC`,
		targetType, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("signature: query by target: %w", err)
	}
	defer rows.Close()
	return scanSignatures(rows)
}

// ListByStep returns all signatures referencing a workflow step.
func (s *PgStore) ListByStep(ctx context.Context, stepID string) ([]model.Signature, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signatureColumns+` FROM signatures
		 WHERE step_id = $1
		 ORDER BY signed_at ASC`,
		stepID,
	)
	if err != nil {
		return nil, fmt.Errorf("signature: query by step: %w", err)
	}
	defer rows.Close()
	return scanSignatures(rows)
}

func scanSignature(row pgx.Row) (model.Signature, error) {
	var sig model.Signature
	var reason, invalidatedBy *string
	err := row.Scan(
		&sig.ID, &sig.TargetType, &sig.TargetID, &sig.StepID, &sig.Signer,
		&sig.Meaning, &sig.Method, &sig.ContentHash, &sig.SignedAt, &sig.Valid,
		&reason, &invalidatedBy, &sig.InvalidatedAt,
	)
	if err != nil {
		return model.Signature{}, err
	}
	if reason != nil {
		sig.InvalidationReason = *reason
	}
	if invalidatedBy != nil {
		sig.InvalidatedBy = *invalidatedBy
	}
	return sig, nil
}

func scanSignatures(rows pgx.Rows) ([]model.Signature, error) {
	var sigs []model.Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("signature: scan: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
