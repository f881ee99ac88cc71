package escrow_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/internal/escrow"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ledgerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLedgerJob(status models.JobStatus) *models.Job {
	j := &models.Job{
		ID:              uuid.New(),
		Client:          "0xClient",
		Amount:          dec("100"),
		DepositedAmount: decimal.Zero,
		Status:          status,
	}
	switch status {
	case models.JobStatusCreated, models.JobStatusCancelled:
	default:
		j.DepositedAmount = j.Amount
	}
	switch status {
	case models.JobStatusAssigned, models.JobStatusInProgress, models.JobStatusCompleted,
		models.JobStatusDisputed, models.JobStatusResolved, models.JobStatusReleased:
		j.Freelancer = "0xFreelancer"
	}
	if status == models.JobStatusReleased {
		j.DepositedAmount = decimal.Zero
	}
	return j
}

var allStatuses = []models.JobStatus{
	models.JobStatusCreated,
	models.JobStatusFunded,
	models.JobStatusAssigned,
	models.JobStatusInProgress,
	models.JobStatusCompleted,
	models.JobStatusDisputed,
	models.JobStatusResolved,
	models.JobStatusReleased,
	models.JobStatusCancelled,
}

func TestCanTransition_Table(t *testing.T) {
	legal := map[escrow.Action][]models.JobStatus{
		escrow.ActionFund:         {models.JobStatusCreated},
		escrow.ActionAssign:       {models.JobStatusFunded},
		escrow.ActionStart:        {models.JobStatusAssigned},
		escrow.ActionComplete:     {models.JobStatusAssigned, models.JobStatusInProgress},
		escrow.ActionRaiseDispute: {models.JobStatusInProgress, models.JobStatusCompleted},
		escrow.ActionRelease:      {models.JobStatusCompleted},
		escrow.ActionResolve:      {models.JobStatusDisputed},
		escrow.ActionCancel:       {models.JobStatusCreated, models.JobStatusFunded},
	}
	for action, from := range legal {
		for _, status := range allStatuses {
			want := false
			for _, f := range from {
				if f == status {
					want = true
				}
			}
			assert.Equal(t, want, escrow.CanTransition(action, status), "%s from %s", action, status)
		}
	}
	assert.False(t, escrow.CanTransition(escrow.Action("teleport"), models.JobStatusCreated))
}

func TestLedger_TerminalStatesAllowNothing(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusReleased, models.JobStatusCancelled} {
		for _, action := range []escrow.Action{
			escrow.ActionFund, escrow.ActionAssign, escrow.ActionStart, escrow.ActionComplete,
			escrow.ActionRaiseDispute, escrow.ActionRelease, escrow.ActionResolve, escrow.ActionCancel,
		} {
			assert.False(t, escrow.CanTransition(action, status), "%s from %s", action, status)
		}
	}
}

func TestLedger_Fund(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	job := newLedgerJob(models.JobStatusCreated)

	require.NoError(t, l.Fund(job, ledgerNow))
	assert.Equal(t, models.JobStatusFunded, job.Status)
	assert.True(t, job.DepositedAmount.Equal(job.Amount))
	assert.Equal(t, ledgerNow, job.UpdatedAt)

	err := l.Fund(job, ledgerNow)
	assert.ErrorIs(t, err, escrow.ErrAlreadyFunded)
	assert.True(t, job.DepositedAmount.Equal(job.Amount))
}

func TestLedger_FundAfterCancelIsInvalidState(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	job := newLedgerJob(models.JobStatusCancelled)
	assert.ErrorIs(t, l.Fund(job, ledgerNow), escrow.ErrInvalidState)
}

func TestLedger_AssignImplicitStart(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	job := newLedgerJob(models.JobStatusFunded)

	require.NoError(t, l.Assign(job, "0xF", ledgerNow))
	assert.Equal(t, models.JobStatusInProgress, job.Status)
	assert.Equal(t, "0xF", job.Freelancer)
}

func TestLedger_AssignExplicitStart(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), false)
	job := newLedgerJob(models.JobStatusFunded)

	require.NoError(t, l.Assign(job, "0xF", ledgerNow))
	assert.Equal(t, models.JobStatusAssigned, job.Status)

	require.NoError(t, l.Start(job, ledgerNow))
	assert.Equal(t, models.JobStatusInProgress, job.Status)
}

func TestLedger_AssignGuards(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)

	assigned := newLedgerJob(models.JobStatusInProgress)
	assert.ErrorIs(t, l.Assign(assigned, "0xOther", ledgerNow), escrow.ErrAlreadyAssigned)
	assert.Equal(t, "0xFreelancer", assigned.Freelancer)

	unfunded := newLedgerJob(models.JobStatusCreated)
	assert.ErrorIs(t, l.Assign(unfunded, "0xF", ledgerNow), escrow.ErrInvalidState)
	assert.Empty(t, unfunded.Freelancer)
}

func TestLedger_Complete(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	for _, from := range []models.JobStatus{models.JobStatusAssigned, models.JobStatusInProgress} {
		job := newLedgerJob(from)
		require.NoError(t, l.Complete(job, ledgerNow))
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		require.NotNil(t, job.CompletedAt)
		assert.Equal(t, ledgerNow, *job.CompletedAt)
	}

	assert.ErrorIs(t, l.Complete(newLedgerJob(models.JobStatusFunded), ledgerNow), escrow.ErrInvalidState)
}

func TestLedger_RaiseDispute(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	for _, status := range allStatuses {
		job := newLedgerJob(status)
		err := l.RaiseDispute(job, ledgerNow)
		if status == models.JobStatusInProgress || status == models.JobStatusCompleted {
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusDisputed, job.Status)
			assert.True(t, job.DisputeRaised)
			continue
		}
		assert.ErrorIs(t, err, escrow.ErrInvalidState, "from %s", status)
		assert.False(t, job.DisputeRaised)
	}
}

func TestLedger_ReleaseOnce(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	job := newLedgerJob(models.JobStatusCompleted)

	split, err := l.Release(job, ledgerNow)
	require.NoError(t, err)
	assertDecimal(t, "5", split.ArbitratorFee)
	assertDecimal(t, "95", split.FreelancerAmount)
	assert.Equal(t, models.JobStatusReleased, job.Status)
	assert.True(t, job.DepositedAmount.IsZero())

	_, err = l.Release(job, ledgerNow)
	assert.ErrorIs(t, err, escrow.ErrInvalidState)
}

func TestLedger_ReleaseFromOtherStates(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	for _, status := range allStatuses {
		if status == models.JobStatusCompleted {
			continue
		}
		job := newLedgerJob(status)
		before := job.DepositedAmount
		_, err := l.Release(job, ledgerNow)
		assert.ErrorIs(t, err, escrow.ErrInvalidState, "from %s", status)
		assert.Equal(t, status, job.Status)
		assert.True(t, before.Equal(job.DepositedAmount))
	}
}

func TestLedger_ResolveLandsInReleased(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	job := newLedgerJob(models.JobStatusDisputed)
	job.Amount = dec("200")
	job.DepositedAmount = dec("200")

	split, err := l.Resolve(job, 30, 70, ledgerNow)
	require.NoError(t, err)
	assertDecimal(t, "16", split.ArbitratorFee)
	assertDecimal(t, "55.2", split.ClientAmount)
	assertDecimal(t, "128.8", split.FreelancerAmount)
	assert.Equal(t, models.JobStatusReleased, job.Status)
	assert.True(t, job.DepositedAmount.IsZero())
}

func TestLedger_ResolveInvalidSplitLeavesJob(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)
	for _, status := range allStatuses {
		job := newLedgerJob(status)
		before := *job
		_, err := l.Resolve(job, 40, 40, ledgerNow)
		assert.ErrorIs(t, err, escrow.ErrInvalidSplit, "from %s", status)
		assert.Equal(t, before.Status, job.Status)
		assert.True(t, before.DepositedAmount.Equal(job.DepositedAmount))
	}
}

func TestLedger_Cancel(t *testing.T) {
	l := escrow.NewLedger(escrow.NewFeeCalculator(6), true)

	funded := newLedgerJob(models.JobStatusFunded)
	refund, err := l.Cancel(funded, ledgerNow)
	require.NoError(t, err)
	assertDecimal(t, "100", refund)
	assert.Equal(t, models.JobStatusCancelled, funded.Status)
	assert.True(t, funded.DepositedAmount.IsZero())

	created := newLedgerJob(models.JobStatusCreated)
	refund, err = l.Cancel(created, ledgerNow)
	require.NoError(t, err)
	assert.True(t, refund.IsZero())

	_, err = l.Cancel(newLedgerJob(models.JobStatusInProgress), ledgerNow)
	assert.ErrorIs(t, err, escrow.ErrInvalidState)

	_, err = l.Cancel(funded, ledgerNow)
	assert.ErrorIs(t, err, escrow.ErrInvalidState)
}
