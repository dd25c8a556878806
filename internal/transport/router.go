package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/swiftcheck/qcflow/internal/config"
	"github.com/swiftcheck/qcflow/internal/observability"
	"github.com/swiftcheck/qcflow/internal/respcache"
	"github.com/swiftcheck/qcflow/internal/template"
	"github.com/swiftcheck/qcflow/internal/throttle"
	"github.com/swiftcheck/qcflow/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Engine    *workflow.Engine
	Generator template.Generator
	Cache     respcache.Cache
	Guard     *throttle.Guard
	Metrics   *observability.Metrics

	// Authenticate is the bearer-token middleware. Nil disables
	// authentication (tests only).
	Authenticate func(http.Handler) http.Handler

	// Ready serves the readiness endpoint.
	Ready http.HandlerFunc
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass
// authentication and throttling.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	ready := deps.Ready
	if ready == nil {
		ready = observability.HandleReady(observability.ReadinessChecks{})
	}
	r.Get("/ready", ready)
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// Authenticated API routes.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Guard != nil {
			r.Use(Throttle(deps.Guard, deps.Metrics, deps.Config.Throttle.Enabled))
		}

		r.Post("/workflows", handleWorkflowCreate(deps.Engine, deps.Metrics))
		r.Get("/workflows/{workflowId}", handleWorkflowGet(deps.Engine))
		r.Get("/workflows/{workflowId}/history", handleWorkflowHistory(deps.Engine))
		r.Post("/workflows/{workflowId}/approvals", handleApprovalSubmit(deps.Engine, deps.Metrics))
		r.Get("/approvals/pending", handlePendingApprovals(deps.Engine))
		r.Get("/templates/{requestId}", handlePublishedTemplateGet(deps.Engine))

		if deps.Generator != nil {
			r.Post("/generate", handleGenerate(deps.Generator, deps.Metrics))
		}
		if deps.Cache != nil {
			r.Get("/cache/stats", handleCacheStats(deps.Cache, deps.Config.Cache.KeyPrefix, deps.Metrics))
			r.Post("/cache/clear", handleCacheClear(deps.Cache, deps.Config.Cache.KeyPrefix))
		}
	})

	return r
}
