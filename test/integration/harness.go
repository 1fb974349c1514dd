// Package integration provides a reusable test harness for end-to-end
// integration testing of the QMS approval workflow server. It starts a full
// HTTP server with in-memory stores, a static capability policy, and a test
// JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/capability"
	"github.com/jinkaiteo/QMS-sub001/internal/casemachine"
	"github.com/jinkaiteo/QMS-sub001/internal/comment"
	"github.com/jinkaiteo/QMS-sub001/internal/config"
	"github.com/jinkaiteo/QMS-sub001/internal/engine"
	"github.com/jinkaiteo/QMS-sub001/internal/idempotency"
	"github.com/jinkaiteo/QMS-sub001/internal/notify"
	"github.com/jinkaiteo/QMS-sub001/internal/observability"
	"github.com/jinkaiteo/QMS-sub001/internal/signature"
	"github.com/jinkaiteo/QMS-sub001/internal/template"
	"github.com/jinkaiteo/QMS-sub001/internal/transport"
	"github.com/jinkaiteo/QMS-sub001/model"
)

// SigningPassword is the credential the harness verifier accepts for
// password-method signatures.
const SigningPassword = "october-rain-42"

// TestHarness encapsulates a fully wired QMS instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Ledger           *audit.Ledger
	Registry         *template.Registry
	Engine           *engine.Engine
	Signatures       *signature.Service
	Cases            *casemachine.Machine
	Comments         *comment.Service
	Publisher        *notify.MemoryPublisher
	IdempotencyStore *idempotency.MemoryStore

	// DocumentTemplate is the two-step review/approval template seeded for
	// target type "document".
	DocumentTemplate model.WorkflowTemplate

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policyRoles    map[string][]string
	handlerTimeout time.Duration
}

// WithPolicyRoles overrides the role-to-capability policy.
func WithPolicyRoles(roles map[string][]string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyRoles = roles
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// defaultPolicyRoles grants the capabilities each fixture role needs.
// Viewers deliberately hold no workflow capabilities.
func defaultPolicyRoles() map[string][]string {
	return map[string][]string{
		"initiator":   {"workflow:initiate", "workflow:cancel"},
		"reviewer":    {"workflow:complete_step", "workflow:delegate"},
		"qa_approver": {"workflow:initiate", "workflow:complete_step", "workflow:delegate", "workflow:cancel"},
		"viewer":      {},
	}
}

// passwordVerifier accepts a single shared secret for any subject.
type passwordVerifier struct {
	secret string
}

func (v passwordVerifier) VerifyCredential(_ context.Context, _, credential string) error {
	if credential != v.secret {
		return model.NewUnauthorizedError("invalid signing credential")
	}
	return nil
}

// NewTestHarness creates and starts a full QMS test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		policyRoles:    defaultPolicyRoles(),
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// In-memory persistence and eventing.
	h.Publisher = notify.NewMemoryPublisher()
	h.IdempotencyStore = idempotency.NewMemoryStore()
	h.Ledger = audit.NewLedger(audit.NewMemoryStore(), nil)

	// Capability policy from a temp YAML file, no caching in tests.
	policyPath := writePolicyFile(t, hc.policyRoles)
	evaluator, err := capability.NewStaticPolicyEvaluator(policyPath)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	checker := capability.NewChecker(capability.NewResolver(evaluator, 0), nil)

	// Services.
	h.Registry = template.NewRegistry(template.NewMemoryStore(), h.Ledger, nil)
	h.Signatures = signature.NewService(signature.NewMemoryStore(), h.Ledger,
		passwordVerifier{secret: SigningPassword}, h.Publisher, nil)

	h.Engine, err = engine.NewEngine(engine.NewMemoryStore(), h.Registry,
		h.Signatures, h.Ledger, checker, h.Publisher, nil)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	h.Cases, err = casemachine.NewMachine(casemachine.NewMemoryStore(), h.Ledger, h.Publisher, nil)
	if err != nil {
		t.Fatalf("build case machine: %v", err)
	}
	h.Comments = comment.NewService(comment.NewMemoryStore(), nil)

	// Workflow outcomes drive case transitions, mirroring production wiring.
	registerCaseCallbacks(h.Engine, h.Cases)

	h.seedTemplates(t)

	// JWT issuer and config.
	h.issuer = newTokenIssuer(t)
	h.cfg = harnessConfigFile(h.issuer, hc.handlerTimeout)

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Engine:       h.Engine,
		Templates:    h.Registry,
		Signatures:   h.Signatures,
		Ledger:       h.Ledger,
		Cases:        h.Cases,
		Comments:     h.Comments,
		Idempotency:  h.IdempotencyStore,
		Metrics:      observability.InitMetrics(prometheus.NewRegistry()),
		Readiness: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return true },
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// registerCaseCallbacks advances a case when an approval workflow on it
// completes. Kept identical to the server's own wiring so callback behavior
// tested here is the deployed behavior.
func registerCaseCallbacks(wf *engine.Engine, cases *casemachine.Machine) {
	rctx := &model.RequestContext{SubjectID: "system", DisplayName: "System", Roles: []string{"system"}}

	wf.RegisterCallback(string(model.CaseCAPA), func(ctx context.Context, inst model.WorkflowInstance, outcome engine.Outcome, _ string) error {
		if outcome != engine.OutcomeCompleted {
			return nil
		}
		_, err := cases.Transition(ctx, rctx, inst.TargetID, model.CaseActionClose)
		return err
	})
	wf.RegisterCallback(string(model.CaseQualityEvent), func(ctx context.Context, inst model.WorkflowInstance, outcome engine.Outcome, _ string) error {
		if outcome != engine.OutcomeCompleted {
			return nil
		}
		_, err := cases.Transition(ctx, rctx, inst.TargetID, model.CaseActionApprove)
		return err
	})
}

// seedTemplates registers the workflow templates the tests run against.
func (h *TestHarness) seedTemplates(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	seeder := &model.RequestContext{SubjectID: "system", DisplayName: "System", Roles: []string{"system"}}

	doc, err := h.Registry.Create(ctx, seeder, model.WorkflowTemplate{
		Name:       "Document Review and Approval",
		TargetType: "document",
		Steps: []model.StepBlueprint{
			{
				Order:          1,
				Name:           "Technical Review",
				Kind:           model.StepKindReview,
				RequiredRole:   "reviewer",
				DaysToComplete: 5,
				Required:       true,
				Delegable:      true,
			},
			{
				Order:             2,
				Name:              "QA Approval",
				Kind:              model.StepKindApproval,
				RequiredRole:      "qa_approver",
				DaysToComplete:    5,
				Required:          true,
				RequiresSignature: true,
				SignatureMeaning:  "approved",
			},
		},
	})
	if err != nil {
		t.Fatalf("seed document template: %v", err)
	}
	h.DocumentTemplate = doc

	_, err = h.Registry.Create(ctx, seeder, model.WorkflowTemplate{
		Name:       "Quality Event Disposition",
		TargetType: string(model.CaseQualityEvent),
		Steps: []model.StepBlueprint{
			{
				Order:          1,
				Name:           "Disposition Approval",
				Kind:           model.StepKindApproval,
				RequiredRole:   "qa_approver",
				DaysToComplete: 3,
				Required:       true,
				Delegable:      true,
			},
		},
	})
	if err != nil {
		t.Fatalf("seed quality event template: %v", err)
	}
}

// writePolicyFile renders the role policy as YAML in a temp directory.
func writePolicyFile(t *testing.T, roles map[string][]string) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("roles:\n")
	for role, caps := range roles {
		fmt.Fprintf(&b, "  %s:\n", role)
		if len(caps) == 0 {
			// Re-render as an empty list.
			b.WriteString("    []\n")
			continue
		}
		for _, c := range caps {
			fmt.Fprintf(&b, "    - %q\n", c)
		}
	}

	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

// harnessConfigFile builds the server config the router runs under.
func harnessConfigFile(issuer *tokenIssuer, handlerTimeout time.Duration) *config.Config {
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = handlerTimeout
	cfg.Server.CORS = config.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id", "Idempotency-Key"},
		MaxAge:         86400,
	}
	cfg.Identity = config.IdentityConfig{
		Issuer:       issuer.Issuer(),
		Audience:     issuer.Audience(),
		JWKSURL:      issuer.JWKSURL(),
		JWKSCacheTTL: 1 * time.Hour,
		Algorithms:   []string{"RS256"},
		ClaimPaths: map[string]string{
			"subject_id":   "sub",
			"display_name": "name",
			"department":   "department",
			"roles":        "roles",
		},
	}
	cfg.Idempotency.DefaultTTL = 1 * time.Hour
	return cfg
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// InitiatorClaims returns TestClaims for a document owner who starts workflows.
func InitiatorClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-initiator",
		DisplayName: "Dana Initiator",
		Department:  "manufacturing",
		Roles:       []string{"initiator"},
	}
}

// ReviewerClaims returns TestClaims for a technical reviewer.
func ReviewerClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-reviewer",
		DisplayName: "Riley Reviewer",
		Department:  "engineering",
		Roles:       []string{"reviewer"},
	}
}

// ApproverClaims returns TestClaims for a QA approver.
func ApproverClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-approver",
		DisplayName: "Avery Approver",
		Department:  "quality",
		Roles:       []string{"qa_approver"},
	}
}

// ViewerClaims returns TestClaims for a read-only user with no workflow
// capabilities.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID:   "user-viewer",
		DisplayName: "Vic Viewer",
		Department:  "quality",
		Roles:       []string{"viewer"},
	}
}
