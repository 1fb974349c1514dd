package signature

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/notify"
	"github.com/jinkaiteo/QMS-sub001/model"
)

type stubVerifier struct {
	wantCredential string
}

func (v *stubVerifier) VerifyCredential(_ context.Context, _ string, credential string) error {
	if credential != v.wantCredential {
		return model.NewUnauthorizedError("bad credential")
	}
	return nil
}

func newTestService(verifier CredentialVerifier) (*Service, *audit.Ledger, *notify.MemoryPublisher) {
	ledger := audit.NewLedger(audit.NewMemoryStore(), nil)
	publisher := notify.NewMemoryPublisher()
	svc := NewService(NewMemoryStore(), ledger, verifier, publisher, nil)
	return svc, ledger, publisher
}

func testRctx() *model.RequestContext {
	return &model.RequestContext{
		SubjectID:  "user-alice",
		Department: "qa",
		Roles:      []string{"qa_approver"},
	}
}

func TestService_Sign_thenVerify(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()

	stepID := "step-1"
	sig, err := svc.Sign(ctx, testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		StepID:     &stepID,
		Meaning:    "Approved for release",
		Method:     model.SignatureCertificate,
	})
	require.NoError(t, err)

	assert.True(t, svc.Verify(sig))
	assert.True(t, sig.Valid)
	assert.Equal(t, "user-alice", sig.Signer)
	assert.NotEmpty(t, sig.ContentHash)

	ok, err := svc.VerifyByID(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Sign_appendsAuditRecord(t *testing.T) {
	svc, ledger, _ := newTestService(nil)
	ctx := context.Background()

	sig, err := svc.Sign(ctx, testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Meaning:    "Reviewed",
		Method:     model.SignatureBiometric,
	})
	require.NoError(t, err)

	records, err := ledger.Query(ctx, model.AuditFilter{EntityType: "signature", EntityID: sig.ID})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.AuditSignatureCreated, records[0].Action)
}

func TestService_Sign_rejectsMissingMeaning(t *testing.T) {
	svc, _, _ := newTestService(nil)
	_, err := svc.Sign(context.Background(), testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Method:     model.SignaturePassword,
	})
	require.Error(t, err)
	ee, ok := err.(*model.ErrorEnvelope)
	require.True(t, ok)
	assert.Equal(t, model.ErrValidationError, ee.Code)
}

func TestService_Sign_rejectsUnknownMethod(t *testing.T) {
	svc, _, _ := newTestService(nil)
	_, err := svc.Sign(context.Background(), testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Meaning:    "Approved",
		Method:     model.SignatureMethod("carrier_pigeon"),
	})
	require.Error(t, err)
}

func TestService_Sign_passwordMethodChecksCredential(t *testing.T) {
	svc, _, _ := newTestService(&stubVerifier{wantCredential: "s3cret"})
	ctx := context.Background()

	_, err := svc.Sign(ctx, testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Meaning:    "Approved",
		Method:     model.SignaturePassword,
		Credential: "wrong",
	})
	require.Error(t, err)
	ee := err.(*model.ErrorEnvelope)
	assert.Equal(t, model.ErrUnauthorized, ee.Code)

	sig, err := svc.Sign(ctx, testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Meaning:    "Approved",
		Method:     model.SignaturePassword,
		Credential: "s3cret",
	})
	require.NoError(t, err)
	assert.True(t, svc.Verify(sig))
}

func TestService_Invalidate(t *testing.T) {
	svc, ledger, publisher := newTestService(nil)
	ctx := context.Background()

	sig, err := svc.Sign(ctx, testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Meaning:    "Approved",
		Method:     model.SignatureCertificate,
	})
	require.NoError(t, err)

	invalidated, err := svc.Invalidate(ctx, testRctx(), sig.ID, "document superseded")
	require.NoError(t, err)
	assert.False(t, invalidated.Valid)
	assert.Equal(t, "document superseded", invalidated.InvalidationReason)
	assert.NotNil(t, invalidated.InvalidatedAt)

	// Hash and signed-at are untouched, so the record still verifies as a
	// historical signature.
	assert.Equal(t, sig.ContentHash, invalidated.ContentHash)
	assert.True(t, svc.Verify(invalidated))

	// Invalidation itself is audited and published.
	records, err := ledger.Query(ctx, model.AuditFilter{EntityID: sig.ID, Action: model.AuditSignatureInvalided})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, publisher.Named(notify.EventSignatureInvalidated), 1)

	// Second invalidation is a conflict.
	_, err = svc.Invalidate(ctx, testRctx(), sig.ID, "again")
	require.Error(t, err)
	assert.Equal(t, model.ErrConflict, err.(*model.ErrorEnvelope).Code)
}

func TestService_Verify_unrelatedMutationElsewhere(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()

	sig, err := svc.Sign(ctx, testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Meaning:    "Approved",
		Method:     model.SignatureCertificate,
	})
	require.NoError(t, err)

	// Mutations elsewhere in the system must not affect verification.
	_, err = svc.Sign(ctx, testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-2",
		Meaning:    "Reviewed",
		Method:     model.SignatureBiometric,
	})
	require.NoError(t, err)

	ok, err := svc.VerifyByID(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContentHash_detectsFieldTampering(t *testing.T) {
	svc, _, _ := newTestService(nil)
	sig, err := svc.Sign(context.Background(), testRctx(), Request{
		TargetType: "document",
		TargetID:   "doc-1",
		Meaning:    "Approved",
		Method:     model.SignatureCertificate,
	})
	require.NoError(t, err)

	tampered := sig
	tampered.Meaning = "Rejected"
	assert.False(t, svc.Verify(tampered))

	tampered = sig
	tampered.Signer = "user-mallory"
	assert.False(t, svc.Verify(tampered))
}
