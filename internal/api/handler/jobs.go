package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Escrow defines the service operations the HTTP handlers depend on.
type Escrow interface {
	CreateJob(ctx context.Context, client string, amount decimal.Decimal) (*models.Job, error)
	FundJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Job, error)
	AssignFreelancer(ctx context.Context, jobID uuid.UUID, actor, freelancer string) (*models.Job, error)
	StartJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Job, error)
	CancelJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Refund, error)
	RaiseDispute(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.Dispute, error)
	ReleasePayment(ctx context.Context, jobID uuid.UUID, actor string) (*models.ReleaseSplit, error)
	ResolveDispute(ctx context.Context, disputeID uuid.UUID, actor string, clientPct, freelancerPct int, notes string) (*models.ResolutionSplit, error)

	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, int, error)
	GetDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	ListDisputes(ctx context.Context, jobID uuid.UUID) ([]*models.Dispute, error)
	ListPayments(ctx context.Context, jobID uuid.UUID) ([]*models.PaymentInstruction, error)
	QueryDisputes(ctx context.Context, actor string, filter models.DisputeFilter) ([]*models.Dispute, int, error)
	Stats(ctx context.Context, actor string) (*models.JobStats, error)
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The authenticated actor becomes the job's client.
func NewCreateJobHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req struct {
			Amount *decimal.Decimal `json:"amount"`
		}
		if !decodeBody(w, r, &req, false) {
			return
		}
		if req.Amount == nil {
			badRequest(w, "amount is required")
			return
		}

		job, err := svc.CreateJob(r.Context(), actor, *req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		q := r.URL.Query()
		filter := models.JobFilter{
			Client:     q.Get("client"),
			Freelancer: q.Get("freelancer"),
		}
		if s := q.Get("status"); s != "" {
			status, err := models.ParseJobStatus(s)
			if err != nil {
				badRequest(w, "status is not a known job status")
				return
			}
			filter.Status = status
		}

		page, limit, ok := pageParams(w, q)
		if !ok {
			return
		}
		filter.Page, filter.Limit = page, limit

		jobs, total, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}
		response.Collection(w, jobs, response.NewPaginationMeta(page, limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// jobTransition is a service call that moves a job on behalf of actor.
type jobTransition func(ctx context.Context, jobID uuid.UUID, actor string) (*models.Job, error)

// newTransitionHandler adapts a body-less job transition (fund, start,
// complete) to POST /api/v1/jobs/{jobID}/<action>.
func newTransitionHandler(fn jobTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		job, err := fn(r.Context(), jobID, actor)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

func NewFundJobHandler(svc Escrow) http.HandlerFunc {
	return newTransitionHandler(svc.FundJob)
}

func NewStartJobHandler(svc Escrow) http.HandlerFunc {
	return newTransitionHandler(svc.StartJob)
}

func NewCompleteJobHandler(svc Escrow) http.HandlerFunc {
	return newTransitionHandler(svc.CompleteJob)
}

// NewAssignHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/assign.
func NewAssignHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		var req struct {
			Freelancer string `json:"freelancer"`
		}
		if !decodeBody(w, r, &req, false) {
			return
		}
		if req.Freelancer == "" {
			badRequest(w, "freelancer is required")
			return
		}

		job, err := svc.AssignFreelancer(r.Context(), jobID, actor, req.Freelancer)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/cancel. The response carries the refund owed.
func NewCancelJobHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		refund, err := svc.CancelJob(r.Context(), jobID, actor)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, refund)
	}
}

type releaseResponse struct {
	JobID uuid.UUID `json:"job_id"`
	models.ReleaseSplit
}

// NewReleaseHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/release.
func NewReleaseHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		split, err := svc.ReleasePayment(r.Context(), jobID, actor)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, releaseResponse{JobID: jobID, ReleaseSplit: *split})
	}
}

// pageParams reads page and limit, clamping them to the listing bounds.
func pageParams(w http.ResponseWriter, q url.Values) (int, int, bool) {
	page, ok := intParam(w, q.Get("page"), "page", 1)
	if !ok {
		return 0, 0, false
	}
	limit, ok := intParam(w, q.Get("limit"), "limit", defaultPageLimit)
	if !ok {
		return 0, 0, false
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit, true
}

func intParam(w http.ResponseWriter, raw, name string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}
