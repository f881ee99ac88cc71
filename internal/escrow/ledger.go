package escrow

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/shopspring/decimal"
)

// Action names a ledger transition.
type Action string

const (
	ActionFund         Action = "fund"
	ActionAssign       Action = "assign"
	ActionStart        Action = "start"
	ActionComplete     Action = "complete"
	ActionRaiseDispute Action = "raise_dispute"
	ActionRelease      Action = "release"
	ActionResolve      Action = "resolve"
	ActionCancel       Action = "cancel"
)

// transitions lists, per action, the statuses it may start from and the
// status it lands in. Resolve lands in Resolved and is immediately followed by
// Released inside the same commit.
var transitions = map[Action]struct {
	from []models.JobStatus
	to   models.JobStatus
}{
	ActionFund:         {from: []models.JobStatus{models.JobStatusCreated}, to: models.JobStatusFunded},
	ActionAssign:       {from: []models.JobStatus{models.JobStatusFunded}, to: models.JobStatusAssigned},
	ActionStart:        {from: []models.JobStatus{models.JobStatusAssigned}, to: models.JobStatusInProgress},
	ActionComplete:     {from: []models.JobStatus{models.JobStatusAssigned, models.JobStatusInProgress}, to: models.JobStatusCompleted},
	ActionRaiseDispute: {from: []models.JobStatus{models.JobStatusInProgress, models.JobStatusCompleted}, to: models.JobStatusDisputed},
	ActionRelease:      {from: []models.JobStatus{models.JobStatusCompleted}, to: models.JobStatusReleased},
	ActionResolve:      {from: []models.JobStatus{models.JobStatusDisputed}, to: models.JobStatusResolved},
	ActionCancel:       {from: []models.JobStatus{models.JobStatusCreated, models.JobStatusFunded}, to: models.JobStatusCancelled},
}

// CanTransition reports whether action is legal from status.
func CanTransition(action Action, status models.JobStatus) bool {
	t, ok := transitions[action]
	if !ok {
		return false
	}
	for _, s := range t.from {
		if s == status {
			return true
		}
	}
	return false
}

// Ledger is the per-job state machine. Its methods mutate the job they are
// given and never touch storage; callers hand it a private copy and persist
// the result only when no error is returned.
type Ledger struct {
	fees          FeeCalculator
	implicitStart bool
}

func NewLedger(fees FeeCalculator, implicitStart bool) *Ledger {
	return &Ledger{fees: fees, implicitStart: implicitStart}
}

func (l *Ledger) move(job *models.Job, action Action, now time.Time) error {
	if !CanTransition(action, job.Status) {
		return fmt.Errorf("%w: cannot %s a %s job", ErrInvalidState, action, job.Status)
	}
	job.Status = transitions[action].to
	job.UpdatedAt = now
	return nil
}

func (l *Ledger) Fund(job *models.Job, now time.Time) error {
	if !job.DepositedAmount.IsZero() {
		return fmt.Errorf("%w: %s already escrowed", ErrAlreadyFunded, job.DepositedAmount)
	}
	if err := l.move(job, ActionFund, now); err != nil {
		return err
	}
	job.DepositedAmount = job.Amount
	return nil
}

// Assign sets the freelancer. With implicit start the job continues straight
// to InProgress.
func (l *Ledger) Assign(job *models.Job, freelancer string, now time.Time) error {
	if job.Freelancer != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyAssigned, job.Freelancer)
	}
	if err := l.move(job, ActionAssign, now); err != nil {
		return err
	}
	job.Freelancer = freelancer
	if l.implicitStart {
		return l.move(job, ActionStart, now)
	}
	return nil
}

func (l *Ledger) Start(job *models.Job, now time.Time) error {
	return l.move(job, ActionStart, now)
}

func (l *Ledger) Complete(job *models.Job, now time.Time) error {
	if err := l.move(job, ActionComplete, now); err != nil {
		return err
	}
	job.CompletedAt = &now
	return nil
}

func (l *Ledger) RaiseDispute(job *models.Job, now time.Time) error {
	if err := l.move(job, ActionRaiseDispute, now); err != nil {
		return err
	}
	job.DisputeRaised = true
	return nil
}

// Release pays out a completed job and empties the escrow.
func (l *Ledger) Release(job *models.Job, now time.Time) (models.ReleaseSplit, error) {
	if err := l.move(job, ActionRelease, now); err != nil {
		return models.ReleaseSplit{}, err
	}
	split := l.fees.ComputeRelease(job.DepositedAmount)
	job.DepositedAmount = decimal.Zero
	return split, nil
}

// Resolve validates the split before looking at the job, so a bad split leaves
// the job untouched whatever its status.
func (l *Ledger) Resolve(job *models.Job, clientPct, freelancerPct int, now time.Time) (models.ResolutionSplit, error) {
	if err := ValidateSplit(clientPct, freelancerPct); err != nil {
		return models.ResolutionSplit{}, err
	}
	if err := l.move(job, ActionResolve, now); err != nil {
		return models.ResolutionSplit{}, err
	}
	split, err := l.fees.ComputeDisputeResolution(job.DepositedAmount, clientPct, freelancerPct)
	if err != nil {
		return models.ResolutionSplit{}, err
	}
	job.DepositedAmount = decimal.Zero
	job.Status = models.JobStatusReleased
	return split, nil
}

// Cancel closes an unassigned job and returns the amount owed back to the
// client, which is zero when the job was never funded.
func (l *Ledger) Cancel(job *models.Job, now time.Time) (decimal.Decimal, error) {
	if job.Freelancer != "" {
		return decimal.Zero, fmt.Errorf("%w: job already assigned to %s", ErrInvalidState, job.Freelancer)
	}
	if err := l.move(job, ActionCancel, now); err != nil {
		return decimal.Zero, err
	}
	refund := job.DepositedAmount
	job.DepositedAmount = decimal.Zero
	return refund, nil
}
