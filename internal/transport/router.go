package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/internal/casemachine"
	"github.com/jinkaiteo/QMS-sub001/internal/comment"
	"github.com/jinkaiteo/QMS-sub001/internal/config"
	"github.com/jinkaiteo/QMS-sub001/internal/engine"
	"github.com/jinkaiteo/QMS-sub001/internal/idempotency"
	"github.com/jinkaiteo/QMS-sub001/internal/observability"
	"github.com/jinkaiteo/QMS-sub001/internal/signature"
	"github.com/jinkaiteo/QMS-sub001/internal/template"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	// Authenticate is the token-verification middleware. Nil disables
	// authentication, used by tests only.
	Authenticate func(http.Handler) http.Handler

	Engine     *engine.Engine
	Templates  *template.Registry
	Signatures *signature.Service
	Ledger     *audit.Ledger
	Cases      *casemachine.Machine
	Comments   *comment.Service

	// Idempotency is optional; nil disables request deduplication.
	Idempotency idempotency.Store
	Metrics     *observability.Metrics
	Readiness   observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware, applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Idempotency != nil {
			r.Use(Idempotency(deps.Idempotency, deps.Config.Idempotency.DefaultTTL, deps.Metrics))
		}

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", handleWorkflowInitiate(deps.Engine))
			r.Get("/", handleWorkflowList(deps.Engine))
			r.Get("/by-target/{targetType}/{targetId}", handleWorkflowStatusByTarget(deps.Engine))
			r.Get("/{instanceId}", handleWorkflowGet(deps.Engine))
			r.Post("/{instanceId}/cancel", handleWorkflowCancel(deps.Engine))
			r.Post("/{instanceId}/expire", handleWorkflowExpire(deps.Engine))
			r.Post("/{instanceId}/comments", handleCommentAdd(deps.Comments))
			r.Get("/{instanceId}/comments", handleCommentListByInstance(deps.Comments))
		})

		r.Route("/steps", func(r chi.Router) {
			r.Post("/{stepId}/complete", handleStepComplete(deps.Engine))
			r.Post("/{stepId}/delegate", handleStepDelegate(deps.Engine))
			r.Get("/{stepId}/comments", handleCommentListByStep(deps.Comments))
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", handleTemplateList(deps.Templates))
			r.Post("/", handleTemplateCreate(deps.Templates))
			r.Get("/{templateId}", handleTemplateGet(deps.Templates))
			r.Post("/{templateId}/deprecate", handleTemplateDeprecate(deps.Templates))
		})

		r.Route("/signatures", func(r chi.Router) {
			r.Post("/", handleSignatureCreate(deps.Signatures))
			r.Get("/", handleSignatureListByTarget(deps.Signatures))
			r.Get("/{signatureId}", handleSignatureGet(deps.Signatures))
			r.Get("/{signatureId}/verify", handleSignatureVerify(deps.Signatures))
			r.Post("/{signatureId}/invalidate", handleSignatureInvalidate(deps.Signatures))
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/records", handleAuditQuery(deps.Ledger))
			r.Get("/chains/{entityType}/{entityId}/verify", handleAuditVerifyChain(deps.Ledger))
		})

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", handleCaseOpen(deps.Cases))
			r.Get("/", handleCaseList(deps.Cases))
			r.Get("/{caseId}", handleCaseGet(deps.Cases))
			r.Post("/{caseId}/transition", handleCaseTransition(deps.Cases))
			r.Post("/{caseId}/action-items", handleCaseAddActionItem(deps.Cases))
			r.Post("/{caseId}/action-items/{itemId}/complete", handleCaseCompleteActionItem(deps.Cases))
		})

		r.Post("/comments/{commentId}/archive", handleCommentArchive(deps.Comments))
	})

	return r
}
