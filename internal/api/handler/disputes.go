package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
)

// NewRaiseDisputeHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/disputes.
func NewRaiseDisputeHandler(svc Escrow) http.HandlerFunc {
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
			Reason string `json:"reason"`
		}
		if !decodeBody(w, r, &req, true) {
			return
		}

		dispute, err := svc.RaiseDispute(r.Context(), jobID, actor, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, dispute)
	}
}

// NewListDisputesHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/disputes.
func NewListDisputesHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		disputes, err := svc.ListDisputes(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if disputes == nil {
			disputes = []*models.Dispute{}
		}
		response.JSON(w, disputes)
	}
}

// NewGetDisputeHandler returns an http.HandlerFunc for
// GET /api/v1/disputes/{disputeID}.
func NewGetDisputeHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}
		disputeID, ok := pathID(w, r, "disputeID")
		if !ok {
			return
		}

		dispute, err := svc.GetDispute(r.Context(), disputeID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, dispute)
	}
}

type resolutionResponse struct {
	DisputeID uuid.UUID `json:"dispute_id"`
	models.ResolutionSplit
}

// NewResolveDisputeHandler returns an http.HandlerFunc for
// POST /api/v1/disputes/{disputeID}/resolve.
func NewResolveDisputeHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		disputeID, ok := pathID(w, r, "disputeID")
		if !ok {
			return
		}

		var req struct {
			ClientPercentage     *int   `json:"client_percentage"`
			FreelancerPercentage *int   `json:"freelancer_percentage"`
			Notes                string `json:"notes"`
		}
		if !decodeBody(w, r, &req, false) {
			return
		}
		if req.ClientPercentage == nil || req.FreelancerPercentage == nil {
			badRequest(w, "client_percentage and freelancer_percentage are required")
			return
		}

		split, err := svc.ResolveDispute(r.Context(), disputeID, actor,
			*req.ClientPercentage, *req.FreelancerPercentage, req.Notes)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, resolutionResponse{DisputeID: disputeID, ResolutionSplit: *split})
	}
}

// NewQueryDisputesHandler returns an http.HandlerFunc for GET /api/v1/disputes,
// the arbitrator's queue. Supports ?status=pending|resolved&page=&limit=.
func NewQueryDisputesHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		page, limit, ok := pageParams(w, q)
		if !ok {
			return
		}

		filter := models.DisputeFilter{Status: q.Get("status"), Page: page, Limit: limit}
		disputes, total, err := svc.QueryDisputes(r.Context(), actor, filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if disputes == nil {
			disputes = []*models.Dispute{}
		}
		response.Collection(w, disputes, response.NewPaginationMeta(page, limit, total))
	}
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/stats.
func NewStatsHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		stats, err := svc.Stats(r.Context(), actor)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, stats)
	}
}
