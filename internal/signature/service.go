// Package signature creates and validates electronic signatures bound to an
// actor, a meaning, and a target record. Signatures are write-once:
// invalidation sets a flag with a reason and is itself audited, nothing is
// ever deleted.
package signature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/notify"
	"github.com/jinkaiteo/QMS-sub001/model"
)

// CredentialVerifier re-authenticates a signer at signing time. The password
// method requires it; certificate and biometric methods carry their proof in
// the credential itself and are verified upstream.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, subjectID, credential string) error
}

// Request carries everything needed to create one signature.
type Request struct {
	TargetType string
	TargetID   string
	StepID     *string
	Meaning    string
	Method     model.SignatureMethod
	Credential string
}

// Service creates, verifies, and invalidates signatures.
type Service struct {
	store     Store
	ledger    *audit.Ledger
	verifier  CredentialVerifier
	publisher notify.Publisher
	logger    *zap.Logger
}

// NewService creates a signature service. verifier may be nil when password
// re-authentication is handled upstream.
func NewService(store Store, ledger *audit.Ledger, verifier CredentialVerifier, publisher notify.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ledger: ledger, verifier: verifier, publisher: publisher, logger: logger}
}

// Precheck validates a signature request, including credential
// re-verification for the password method, without creating anything. The
// workflow engine calls it before mutating state so a failing credential
// never strands a half-advanced step.
func (s *Service) Precheck(ctx context.Context, rctx *model.RequestContext, req Request) error {
	if req.Meaning == "" {
		return model.NewValidationError([]model.FieldError{
			{Field: "meaning", Code: "REQUIRED", Message: "signature meaning is required"},
		})
	}
	if !model.ValidSignatureMethod(req.Method) {
		return model.NewValidationError([]model.FieldError{
			{Field: "method", Code: "INVALID", Message: fmt.Sprintf("unsupported signature method %q", req.Method)},
		})
	}
	if req.Method == model.SignaturePassword && s.verifier != nil {
		if err := s.verifier.VerifyCredential(ctx, rctx.SubjectID, req.Credential); err != nil {
			return model.NewUnauthorizedError("signature credential verification failed")
		}
	}
	return nil
}

// Sign creates a signature for the given actor and target. The content hash
// covers signer, target, step, timestamp, meaning, and method so any later
// alteration of those fields is detectable.
func (s *Service) Sign(ctx context.Context, rctx *model.RequestContext, req Request) (model.Signature, error) {
	if err := s.Precheck(ctx, rctx, req); err != nil {
		return model.Signature{}, err
	}

	now := time.Now().UTC()
	sig := model.Signature{
		ID:         uuid.New().String(),
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		StepID:     req.StepID,
		Signer:     rctx.SubjectID,
		Meaning:    req.Meaning,
		Method:     req.Method,
		SignedAt:   now,
		Valid:      true,
	}
	sig.ContentHash = ContentHash(sig)

	if err := s.store.Create(ctx, sig); err != nil {
		return model.Signature{}, err
	}

	if _, err := s.ledger.Append(ctx, audit.Entry{
		Actor:      rctx.SubjectID,
		Action:     model.AuditSignatureCreated,
		EntityType: "signature",
		EntityID:   sig.ID,
		NewState:   sig,
	}); err != nil {
		return model.Signature{}, err
	}

	s.logger.Info("signature created",
		zap.String("signature_id", sig.ID),
		zap.String("signer", sig.Signer),
		zap.String("target_id", sig.TargetID),
		zap.String("method", string(sig.Method)),
	)
	return sig, nil
}

// Verify recomputes the signature's content hash from its stored fields and
// compares it with the stored value.
func (s *Service) Verify(sig model.Signature) bool {
	return sig.ContentHash == ContentHash(sig)
}

// VerifyByID loads a signature and verifies it.
func (s *Service) VerifyByID(ctx context.Context, id string) (bool, error) {
	sig, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Verify(sig), nil
}

// Invalidate marks a signature invalid with a reason. The signature record
// itself is never deleted; the invalidation is appended to the audit chain
// and published, since withdrawing a signature is itself a regulated event.
func (s *Service) Invalidate(ctx context.Context, rctx *model.RequestContext, id, reason string) (model.Signature, error) {
	if reason == "" {
		return model.Signature{}, model.NewValidationError([]model.FieldError{
			{Field: "reason", Code: "REQUIRED", Message: "invalidation reason is required"},
		})
	}

	sig, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Signature{}, err
	}
	if !sig.Valid {
		return model.Signature{}, model.NewConflictError(
			fmt.Sprintf("signature %q is already invalidated", id),
		)
	}

	before := sig
	now := time.Now().UTC()
	sig.Valid = false
	sig.InvalidationReason = reason
	sig.InvalidatedBy = rctx.SubjectID
	sig.InvalidatedAt = &now

	if err := s.store.MarkInvalid(ctx, sig); err != nil {
		return model.Signature{}, err
	}

	if _, err := s.ledger.Append(ctx, audit.Entry{
		Actor:      rctx.SubjectID,
		Action:     model.AuditSignatureInvalided,
		EntityType: "signature",
		EntityID:   sig.ID,
		OldState:   before,
		NewState:   sig,
	}); err != nil {
		return model.Signature{}, err
	}

	if err := s.publisher.Publish(ctx, notify.Event{
		Name:       notify.EventSignatureInvalidated,
		EntityType: "signature",
		EntityID:   sig.ID,
		Actor:      rctx.SubjectID,
		OccurredAt: now,
		Data:       map[string]any{"reason": reason},
	}); err != nil {
		s.logger.Warn("signature invalidation event publish failed", zap.Error(err))
	}

	return sig, nil
}

// Get returns a signature by ID.
func (s *Service) Get(ctx context.Context, id string) (model.Signature, error) {
	return s.store.Get(ctx, id)
}

// ListByTarget returns all signatures for a target record, newest last.
func (s *Service) ListByTarget(ctx context.Context, targetType, targetID string) ([]model.Signature, error) {
	return s.store.ListByTarget(ctx, targetType, targetID)
}

// ContentHash computes a signature's content hash over a canonical
// sorted-key JSON serialization of the bound fields, avoiding field-order
// ambiguity between implementations.
func ContentHash(sig model.Signature) string {
	stepID := ""
	if sig.StepID != nil {
		stepID = *sig.StepID
	}
	payload := map[string]string{
		"actor":     sig.Signer,
		"target_id": sig.TargetID,
		"step_id":   stepID,
		"timestamp": sig.SignedAt.UTC().Format(time.RFC3339Nano),
		"meaning":   sig.Meaning,
		"method":    string(sig.Method),
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
