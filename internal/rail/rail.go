// Package rail carries committed payment instructions to the payment network
// and tracks their confirmation. The ledger never waits on it.
package rail

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrRailUnavailable marks a transient failure; the dispatcher retries it.
	ErrRailUnavailable = errors.New("payment rail unavailable")
	// ErrRejected marks a permanent failure; the instruction is failed at once.
	ErrRejected = errors.New("payment rejected by rail")
	// ErrAlreadyApplied means the network already reflects the call, e.g. a
	// submission whose reference was lost in a crash. Nothing is resent.
	ErrAlreadyApplied = errors.New("payment already applied on rail")
)

// TxStatus is the network-side state of a submitted transaction.
type TxStatus int

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Rail is the payment network. Every call is idempotent per job and kind: a
// repeated call returns the reference of the first submission.
type Rail interface {
	FundJob(ctx context.Context, jobID uuid.UUID, amount decimal.Decimal) (string, error)
	ReleasePayment(ctx context.Context, jobID uuid.UUID) (string, error)
	ResolveDispute(ctx context.Context, jobID uuid.UUID, clientPct, freelancerPct int) (string, error)
	RefundJob(ctx context.Context, jobID uuid.UUID) (string, error)
	Status(ctx context.Context, txRef string) (TxStatus, error)
	Ping(ctx context.Context) error
}

// Submit routes an instruction to the matching rail call.
func Submit(ctx context.Context, r Rail, in *models.PaymentInstruction) (string, error) {
	switch in.Kind {
	case models.PaymentKindFund:
		return r.FundJob(ctx, in.JobID, in.Amount)
	case models.PaymentKindRelease:
		return r.ReleasePayment(ctx, in.JobID)
	case models.PaymentKindResolve:
		return r.ResolveDispute(ctx, in.JobID, in.ClientPercentage, in.FreelancerPercentage)
	case models.PaymentKindRefund:
		return r.RefundJob(ctx, in.JobID)
	default:
		return "", fmt.Errorf("%w: unknown instruction kind %q", ErrRejected, in.Kind)
	}
}
