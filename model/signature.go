package model

import "time"

// SignatureMethod identifies how the signer authenticated at signing time.
type SignatureMethod string

const (
	SignaturePassword    SignatureMethod = "password"
	SignatureCertificate SignatureMethod = "certificate"
	SignatureBiometric   SignatureMethod = "biometric"
)

// ValidSignatureMethod reports whether m is one of the supported methods.
func ValidSignatureMethod(m SignatureMethod) bool {
	switch m {
	case SignaturePassword, SignatureCertificate, SignatureBiometric:
		return true
	}
	return false
}

// Signature is an electronic signature bound to an actor, a meaning, and a
// target record. ContentHash and SignedAt are immutable once created;
// invalidation only sets Valid=false with a reason, it never deletes.
type Signature struct {
	ID                 string          `json:"id"`
	TargetType         string          `json:"target_type"`
	TargetID           string          `json:"target_id"`
	StepID             *string         `json:"step_id,omitempty"`
	Signer             string          `json:"signer"`
	Meaning            string          `json:"meaning"`
	Method             SignatureMethod `json:"method"`
	ContentHash        string          `json:"content_hash"`
	SignedAt           time.Time       `json:"signed_at"`
	Valid              bool            `json:"valid"`
	InvalidationReason string          `json:"invalidation_reason,omitempty"`
	InvalidatedBy      string          `json:"invalidated_by,omitempty"`
	InvalidatedAt      *time.Time      `json:"invalidated_at,omitempty"`
}

// SignatureInput carries the signer-supplied fields for a new signature.
type SignatureInput struct {
	Meaning    string          `json:"meaning"`
	Method     SignatureMethod `json:"method"`
	Credential string          `json:"credential,omitempty"`
}
