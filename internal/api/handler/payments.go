package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
)

// Confirmer records an externally observed payment-rail outcome.
type Confirmer interface {
	Confirm(ctx context.Context, id uuid.UUID, confirmed bool, reason string) (*models.PaymentInstruction, error)
}

// NewListPaymentsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/payments.
func NewListPaymentsHandler(svc Escrow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		payments, err := svc.ListPayments(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if payments == nil {
			payments = []*models.PaymentInstruction{}
		}
		response.JSON(w, payments)
	}
}

// NewConfirmPaymentHandler returns an http.HandlerFunc for the signed
// POST /api/v1/payments/{instructionID}/confirm callback. Confirmation only
// settles the instruction; it never moves the job.
func NewConfirmPaymentHandler(c Confirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "instructionID")
		if !ok {
			return
		}

		var req struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}
		if !decodeBody(w, r, &req, false) {
			return
		}

		var confirmed bool
		switch req.Status {
		case models.PaymentStatusConfirmed:
			confirmed = true
		case models.PaymentStatusFailed:
			if req.Reason == "" {
				req.Reason = "reported failed by rail"
			}
		default:
			badRequest(w, "status must be confirmed or failed")
			return
		}

		in, err := c.Confirm(r.Context(), id, confirmed, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, in)
	}
}
