// Package escrow implements the job escrow and dispute lifecycle: fee math,
// the per-job state machine, the authorization policy and the service facade
// that commits each transition atomically.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/internal/store"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/shopspring/decimal"
)

// SnapshotCache holds read-only job snapshots. A miss returns (nil, nil).
type SnapshotCache interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	SetJob(ctx context.Context, job *models.Job) error
	InvalidateJob(ctx context.Context, id uuid.UUID) error
}

// Recorder receives transition outcomes, typically for metrics.
type Recorder interface {
	ObserveTransition(action string, status string)
	ObserveRejection(action string, reason string)
	ObservePayout(kind models.PaymentKind, amount decimal.Decimal)
}

type noopRecorder struct{}

func (noopRecorder) ObserveTransition(string, string) {}
func (noopRecorder) ObserveRejection(string, string) {}
func (noopRecorder) ObservePayout(models.PaymentKind, decimal.Decimal) {}

// Service is the public escrow API. Every mutating call looks the job up,
// checks the policy, runs the ledger transition and commits job, dispute and
// payment instruction together, all while holding the job's lock.
type Service struct {
	store    store.Store
	policy   *Policy
	ledger   *Ledger
	fees     FeeCalculator
	locker   Locker
	cache    SnapshotCache
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

type options struct {
	decimals      int32
	explicitStart bool
	locker        Locker
	cache         SnapshotCache
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Service.
type Option func(*options)

// WithTokenDecimals sets the payment token's minor-unit precision.
func WithTokenDecimals(d int32) Option {
	return func(o *options) { o.decimals = d }
}

// WithExplicitStart makes assignment stop at Assigned; the freelancer then
// calls StartJob.
func WithExplicitStart() Option {
	return func(o *options) { o.explicitStart = true }
}

// WithLocker replaces the default in-process per-job lock.
func WithLocker(l Locker) Option {
	return func(o *options) { o.locker = l }
}

func WithSnapshotCache(c SnapshotCache) Option {
	return func(o *options) { o.cache = c }
}

func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewService builds a Service for the given arbitrator identity.
func NewService(st store.Store, arbitrator string, opts ...Option) *Service {
	o := options{
		decimals: DefaultTokenDecimals,
		recorder: noopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = NewKeyedLocker()
	}

	fees := NewFeeCalculator(o.decimals)
	return &Service{
		store:    st,
		policy:   NewPolicy(arbitrator),
		ledger:   NewLedger(fees, !o.explicitStart),
		fees:     fees,
		locker:   o.locker,
		cache:    o.cache,
		recorder: o.recorder,
		logger:   o.logger,
		now:      o.now,
	}
}

// Policy exposes the authorization policy, e.g. for role lookups in handlers.
func (s *Service) Policy() *Policy {
	return s.policy
}

// CreateJob opens a new unfunded job owned by client.
func (s *Service) CreateJob(ctx context.Context, client string, amount decimal.Decimal) (*models.Job, error) {
	client = strings.TrimSpace(client)
	if client == "" {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidInput)
	}
	if SameIdentity(client, s.policy.Arbitrator()) {
		return nil, fmt.Errorf("%w: the arbitrator cannot own a job", ErrInvalidInput)
	}
	if err := s.fees.ValidateAmount(amount); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:              uuid.New(),
		Client:          client,
		Amount:          amount,
		DepositedAmount: decimal.Zero,
		Status:          models.JobStatusCreated,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.recorder.ObserveTransition("create", job.Status.String())
	s.logger.Info("job created", "job_id", job.ID, "client", client, "amount", amount.String())
	return job, nil
}

func (s *Service) FundJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Job, error) {
	return s.mutate(ctx, jobID, ActionFund, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.Check(ActionFund, job, actor); err != nil {
			return nil, err
		}
		if err := s.ledger.Fund(job, now); err != nil {
			return nil, err
		}
		return &store.Commit{
			Instruction: newInstruction(job.ID, models.PaymentKindFund, job.Amount, now),
		}, nil
	})
}

// AssignFreelancer binds freelancer to a funded job. The client may assign
// anyone; a freelancer may accept an assignment naming themselves.
func (s *Service) AssignFreelancer(ctx context.Context, jobID uuid.UUID, actor, freelancer string) (*models.Job, error) {
	freelancer = strings.TrimSpace(freelancer)
	if freelancer == "" {
		return nil, fmt.Errorf("%w: freelancer is required", ErrInvalidInput)
	}
	return s.mutate(ctx, jobID, ActionAssign, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.CheckAssign(job, actor, freelancer); err != nil {
			return nil, err
		}
		if SameIdentity(freelancer, job.Client) || SameIdentity(freelancer, s.policy.Arbitrator()) {
			return nil, fmt.Errorf("%w: freelancer must differ from client and arbitrator", ErrInvalidInput)
		}
		if err := s.ledger.Assign(job, freelancer, now); err != nil {
			return nil, err
		}
		return &store.Commit{}, nil
	})
}

// StartJob moves an assigned job to InProgress. It only applies when the
// service runs with explicit start; otherwise assignment already started it.
func (s *Service) StartJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Job, error) {
	return s.mutate(ctx, jobID, ActionStart, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.Check(ActionStart, job, actor); err != nil {
			return nil, err
		}
		if err := s.ledger.Start(job, now); err != nil {
			return nil, err
		}
		return &store.Commit{}, nil
	})
}

func (s *Service) CompleteJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Job, error) {
	return s.mutate(ctx, jobID, ActionComplete, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.Check(ActionComplete, job, actor); err != nil {
			return nil, err
		}
		if err := s.ledger.Complete(job, now); err != nil {
			return nil, err
		}
		return &store.Commit{}, nil
	})
}

// CancelJob closes an unassigned job and refunds whatever was escrowed.
func (s *Service) CancelJob(ctx context.Context, jobID uuid.UUID, actor string) (*models.Refund, error) {
	var refund *models.Refund
	_, err := s.mutate(ctx, jobID, ActionCancel, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.Check(ActionCancel, job, actor); err != nil {
			return nil, err
		}
		amount, err := s.ledger.Cancel(job, now)
		if err != nil {
			return nil, err
		}
		refund = &models.Refund{JobID: job.ID, Client: job.Client, Amount: amount}

		commit := &store.Commit{}
		if amount.IsPositive() {
			in := newInstruction(job.ID, models.PaymentKindRefund, amount, now)
			in.ClientAmount = amount
			commit.Instruction = in
		}
		return commit, nil
	})
	if err != nil {
		return nil, err
	}
	if refund.Amount.IsPositive() {
		s.recorder.ObservePayout(models.PaymentKindRefund, refund.Amount)
	}
	return refund, nil
}

func (s *Service) RaiseDispute(ctx context.Context, jobID uuid.UUID, actor, reason string) (*models.Dispute, error) {
	var dispute *models.Dispute
	_, err := s.mutate(ctx, jobID, ActionRaiseDispute, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.Check(ActionRaiseDispute, job, actor); err != nil {
			return nil, err
		}
		if err := s.ledger.RaiseDispute(job, now); err != nil {
			return nil, err
		}
		dispute = &models.Dispute{
			ID:        uuid.New(),
			JobID:     job.ID,
			RaisedBy:  strings.TrimSpace(actor),
			Reason:    strings.TrimSpace(reason),
			Status:    models.DisputeStatusPending,
			CreatedAt: now,
		}
		return &store.Commit{NewDispute: dispute}, nil
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// ReleasePayment pays out a completed job: the arbitrator fee first, the
// remainder to the freelancer.
func (s *Service) ReleasePayment(ctx context.Context, jobID uuid.UUID, actor string) (*models.ReleaseSplit, error) {
	var split models.ReleaseSplit
	_, err := s.mutate(ctx, jobID, ActionRelease, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.Check(ActionRelease, job, actor); err != nil {
			return nil, err
		}
		escrowed := job.DepositedAmount
		var err error
		if split, err = s.ledger.Release(job, now); err != nil {
			return nil, err
		}
		in := newInstruction(job.ID, models.PaymentKindRelease, escrowed, now)
		in.ArbitratorFee = split.ArbitratorFee
		in.FreelancerAmount = split.FreelancerAmount
		return &store.Commit{Instruction: in}, nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.ObservePayout(models.PaymentKindRelease, split.FreelancerAmount.Add(split.ArbitratorFee))
	return &split, nil
}

// ResolveDispute settles a pending dispute. The job passes through Resolved
// and lands in Released within a single commit.
func (s *Service) ResolveDispute(ctx context.Context, disputeID uuid.UUID, actor string, clientPct, freelancerPct int, notes string) (*models.ResolutionSplit, error) {
	dispute, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
		}
		return nil, fmt.Errorf("get dispute: %w", err)
	}

	var split models.ResolutionSplit
	_, err = s.mutate(ctx, dispute.JobID, ActionResolve, func(job *models.Job, now time.Time) (*store.Commit, error) {
		if err := s.policy.Check(ActionResolve, job, actor); err != nil {
			return nil, err
		}
		if err := ValidateSplit(clientPct, freelancerPct); err != nil {
			return nil, err
		}
		// Re-read under the job lock; the first read only located the job.
		current, err := s.store.GetDispute(ctx, disputeID)
		if err != nil {
			return nil, fmt.Errorf("get dispute: %w", err)
		}
		if current.Status != models.DisputeStatusPending {
			return nil, fmt.Errorf("%w: dispute %s is %s", ErrInvalidState, disputeID, current.Status)
		}

		escrowed := job.DepositedAmount
		if split, err = s.ledger.Resolve(job, clientPct, freelancerPct, now); err != nil {
			return nil, err
		}

		resolved := current.Clone()
		resolved.Status = models.DisputeStatusResolved
		resolved.Resolution = &models.Resolution{
			ClientPercentage:     clientPct,
			FreelancerPercentage: freelancerPct,
			Notes:                strings.TrimSpace(notes),
		}
		resolved.ResolvedAt = &now

		in := newInstruction(job.ID, models.PaymentKindResolve, escrowed, now)
		in.ArbitratorFee = split.ArbitratorFee
		in.ClientAmount = split.ClientAmount
		in.FreelancerAmount = split.FreelancerAmount
		in.ClientPercentage = clientPct
		in.FreelancerPercentage = freelancerPct
		return &store.Commit{ResolvedDispute: resolved, Instruction: in}, nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.ObservePayout(models.PaymentKindResolve, split.ArbitratorFee.Add(split.ClientAmount).Add(split.FreelancerAmount))
	return &split, nil
}

// GetJob returns a snapshot of the job, from the cache when possible.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	if s.cache != nil {
		cached, err := s.cache.GetJob(ctx, jobID)
		if err != nil {
			s.logger.Warn("job cache read failed", "job_id", jobID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	if s.cache == nil {
		return s.loadJob(ctx, jobID)
	}
	return s.fillJob(ctx, jobID)
}

// fillJob loads the job and caches it while holding the job's lock, so a
// commit and its invalidation cannot land between the load and the write.
func (s *Service) fillJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(jobID))
	if err != nil {
		s.logger.Warn("job cache fill skipped", "job_id", jobID, "error", err)
		return s.loadJob(ctx, jobID)
	}
	defer unlock()

	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJob(ctx, job); err != nil {
		s.logger.Warn("job cache write failed", "job_id", jobID, "error", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, int, error) {
	jobs, total, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *Service) GetDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return d, nil
}

func (s *Service) ListDisputes(ctx context.Context, jobID uuid.UUID) ([]*models.Dispute, error) {
	if _, err := s.loadJob(ctx, jobID); err != nil {
		return nil, err
	}
	disputes, err := s.store.ListDisputes(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	return disputes, nil
}

// QueryDisputes is the dispute queue. The arbitrator sees every job's
// disputes; anyone else only those on jobs they are a party to.
func (s *Service) QueryDisputes(ctx context.Context, actor string, filter models.DisputeFilter) ([]*models.Dispute, int, error) {
	switch filter.Status {
	case "", models.DisputeStatusPending, models.DisputeStatusResolved:
	default:
		return nil, 0, fmt.Errorf("%w: unknown dispute status %q", ErrInvalidInput, filter.Status)
	}
	filter.Party = s.scope(actor)

	disputes, total, err := s.store.QueryDisputes(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("query disputes: %w", err)
	}
	return disputes, total, nil
}

// Stats summarizes the jobs the actor can see, scoped the same way as
// QueryDisputes.
func (s *Service) Stats(ctx context.Context, actor string) (*models.JobStats, error) {
	stats, err := s.store.JobStats(ctx, s.scope(actor))
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// scope returns the party filter for actor; empty means every job.
func (s *Service) scope(actor string) string {
	if SameIdentity(actor, s.policy.Arbitrator()) {
		return ""
	}
	return strings.TrimSpace(actor)
}

// ListPayments returns the payment instructions recorded for a job.
func (s *Service) ListPayments(ctx context.Context, jobID uuid.UUID) ([]*models.PaymentInstruction, error) {
	if _, err := s.loadJob(ctx, jobID); err != nil {
		return nil, err
	}
	ins, err := s.store.ListInstructionsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return ins, nil
}

// transitionFunc applies policy and ledger rules to a private copy of the
// job and returns the extra records to commit with it.
type transitionFunc func(job *models.Job, now time.Time) (*store.Commit, error)

func (s *Service) mutate(ctx context.Context, jobID uuid.UUID, action Action, fn transitionFunc) (*models.Job, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("lock job %s: %w", jobID, err)
	}
	defer unlock()

	current, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job := current.Clone()
	commit, err := fn(job, s.now().UTC())
	if err != nil {
		s.recorder.ObserveRejection(string(action), rejectionReason(err))
		s.logger.Info("escrow transition rejected",
			"job_id", jobID, "action", action, "status", current.Status.String(), "error", err)
		return nil, err
	}

	job.Version = current.Version + 1
	commit.Job = job
	commit.ExpectedVersion = current.Version
	if err := s.store.Commit(ctx, commit); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: job %s", ErrConflict, jobID)
		}
		return nil, fmt.Errorf("commit %s: %w", action, err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateJob(ctx, jobID); err != nil {
			s.logger.Warn("job cache invalidation failed", "job_id", jobID, "error", err)
		}
	}
	s.recorder.ObserveTransition(string(action), job.Status.String())
	s.logger.Info("escrow transition committed",
		"job_id", jobID, "action", action, "from", current.Status.String(), "to", job.Status.String())
	return job, nil
}

func (s *Service) loadJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func newInstruction(jobID uuid.UUID, kind models.PaymentKind, amount decimal.Decimal, now time.Time) *models.PaymentInstruction {
	return &models.PaymentInstruction{
		ID:               uuid.New(),
		JobID:            jobID,
		Kind:             kind,
		Amount:           amount,
		ArbitratorFee:    decimal.Zero,
		ClientAmount:     decimal.Zero,
		FreelancerAmount: decimal.Zero,
		Status:           models.PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func lockKey(jobID uuid.UUID) string {
	return "escrow:job:" + jobID.String()
}

func rejectionReason(err error) string {
	for _, k := range []struct {
		err    error
		reason string
	}{
		{ErrUnauthorized, "unauthorized"},
		{ErrInvalidState, "invalid_state"},
		{ErrAlreadyFunded, "already_funded"},
		{ErrAlreadyAssigned, "already_assigned"},
		{ErrInvalidSplit, "invalid_split"},
		{ErrInvalidInput, "invalid_input"},
	} {
		if errors.Is(err, k.err) {
			return k.reason
		}
	}
	return "error"
}
