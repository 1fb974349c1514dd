package signature

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jinkaiteo/QMS-sub001/model"
)

// IdentityProviderVerifier re-authenticates password-method signers against
// the identity provider's resource owner password grant. The provider is the
// single source of truth for credentials; nothing is stored locally.
type IdentityProviderVerifier struct {
	tokenURL   string
	clientID   string
	httpClient *http.Client
}

// NewIdentityProviderVerifier creates a verifier posting to the given OAuth2
// token endpoint.
func NewIdentityProviderVerifier(tokenURL, clientID string) *IdentityProviderVerifier {
	return &IdentityProviderVerifier{
		tokenURL:   tokenURL,
		clientID:   clientID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// VerifyCredential exchanges the subject's password for a token and discards
// it. A 401 from the provider means a wrong password; other failures are
// infrastructure errors and must not read as a credential mismatch.
func (v *IdentityProviderVerifier) VerifyCredential(ctx context.Context, subjectID, credential string) error {
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {v.clientID},
		"username":   {subjectID},
		"password":   {credential},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("signature: build reauth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signature: reauth request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return model.NewUnauthorizedError("signing credential rejected by identity provider")
	default:
		return fmt.Errorf("signature: reauth unexpected status %d", resp.StatusCode)
	}
}
