package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/countersignhq/countersign/internal/config"
	"github.com/countersignhq/countersign/internal/observability"
	"github.com/countersignhq/countersign/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Orchestrator *workflow.Orchestrator
	Dispatcher   *workflow.Dispatcher
	Authenticate func(http.Handler) http.Handler
	Metrics      *observability.Metrics
	Ready        observability.ReadinessChecks
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
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes, bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &handlers{
		orch:       deps.Orchestrator,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/submissions", h.createSubmission)
		r.Post("/submissions/bulk", h.createFromEmails)
		r.Get("/submissions", h.listSubmissions)
		r.Get("/submissions/{submissionId}", h.getSubmission)
		r.Post("/submissions/{submissionId}/archive", h.archiveSubmission)
		r.Post("/submissions/{submissionId}/advance", h.advanceWorkflow)
		r.Get("/submissions/{submissionId}/documents", h.visibleDocuments)

		r.Get("/submissions/{submissionId}/submitters/{submitterId}/fields", h.visibleFields)
		r.Post("/submissions/{submissionId}/submitters/{submitterId}/defaults", h.fillDefaults)
		r.Post("/submissions/{submissionId}/submitters/{submitterId}/open", h.markOpened)
		r.Post("/submissions/{submissionId}/submitters/{submitterId}/values", h.submitValues)
		r.Post("/submissions/{submissionId}/submitters/{submitterId}/complete", h.complete)
		r.Post("/submissions/{submissionId}/submitters/{submitterId}/decline", h.decline)
	})

	return r
}
