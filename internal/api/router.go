package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/escrowhub/internal/api/middleware"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth        *mw.Auth
	RateLimit   *mw.RateLimit
	Idempotency *mw.Idempotency
	// Webhook verifies payment-rail callbacks. Nil leaves the confirm route unmounted.
	Webhook  *mw.Verifier
	Observer mw.RequestObserver

	HealthHandler  http.Handler
	MetricsHandler http.Handler

	ConfirmPaymentHandler http.HandlerFunc

	CreateJobHandler   http.HandlerFunc
	ListJobsHandler    http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	FundJobHandler     http.HandlerFunc
	AssignHandler      http.HandlerFunc
	StartJobHandler    http.HandlerFunc
	CompleteJobHandler http.HandlerFunc
	CancelJobHandler   http.HandlerFunc
	ReleaseHandler     http.HandlerFunc

	ListPaymentsHandler http.HandlerFunc

	RaiseDisputeHandler   http.HandlerFunc
	ListDisputesHandler   http.HandlerFunc
	QueryDisputesHandler  http.HandlerFunc
	GetDisputeHandler     http.HandlerFunc
	ResolveDisputeHandler http.HandlerFunc
	StatsHandler          http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Observer != nil {
		r.Use(mw.Instrument(deps.Observer))
	}

	// Public
	r.Method(http.MethodGet, "/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Method(http.MethodGet, "/api/v1/metrics", orNotImplemented(deps.MetricsHandler))

	if deps.Webhook != nil {
		r.With(deps.Webhook.Middleware).
			Post("/api/v1/payments/{instructionID}/confirm", orNotImplementedFunc(deps.ConfirmPaymentHandler))
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)
		if deps.Idempotency != nil {
			r.Use(deps.Idempotency.Handle)
		}

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/", orNotImplementedFunc(deps.CreateJobHandler))
			r.Get("/", orNotImplementedFunc(deps.ListJobsHandler))

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", orNotImplementedFunc(deps.GetJobHandler))
				r.Post("/fund", orNotImplementedFunc(deps.FundJobHandler))
				r.Post("/assign", orNotImplementedFunc(deps.AssignHandler))
				r.Post("/start", orNotImplementedFunc(deps.StartJobHandler))
				r.Post("/complete", orNotImplementedFunc(deps.CompleteJobHandler))
				r.Post("/cancel", orNotImplementedFunc(deps.CancelJobHandler))
				r.Post("/release", orNotImplementedFunc(deps.ReleaseHandler))
				r.Get("/payments", orNotImplementedFunc(deps.ListPaymentsHandler))
				r.Get("/disputes", orNotImplementedFunc(deps.ListDisputesHandler))
				r.Post("/disputes", orNotImplementedFunc(deps.RaiseDisputeHandler))
			})
		})

		r.Get("/api/v1/disputes", orNotImplementedFunc(deps.QueryDisputesHandler))
		r.Get("/api/v1/disputes/{disputeID}", orNotImplementedFunc(deps.GetDisputeHandler))
		r.Post("/api/v1/disputes/{disputeID}/resolve", orNotImplementedFunc(deps.ResolveDisputeHandler))
		r.Get("/api/v1/stats", orNotImplementedFunc(deps.StatsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplementedFunc(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplementedFunc(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplementedFunc(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.Handler) http.Handler {
	if h != nil {
		return h
	}
	return notImplemented
}

func orNotImplementedFunc(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return notImplemented
}

var notImplemented = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
})
