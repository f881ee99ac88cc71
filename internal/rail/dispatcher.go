package rail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/internal/store"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
)

// ErrNotSubmitted is returned when a confirmation arrives for an instruction
// the rail never accepted.
var ErrNotSubmitted = errors.New("payment instruction not submitted")

// Invalidator drops cached job snapshots after a tx ref is recorded.
type Invalidator interface {
	InvalidateJob(ctx context.Context, id uuid.UUID) error
}

// DispatchRecorder receives dispatcher outcomes, typically for metrics.
type DispatchRecorder interface {
	ObserveDispatch(kind models.PaymentKind, result string)
	SetBacklog(status string, n int)
}

type noopDispatchRecorder struct{}

func (noopDispatchRecorder) ObserveDispatch(models.PaymentKind, string) {}
func (noopDispatchRecorder) SetBacklog(string, int)                     {}

// DispatcherConfig tunes the outbox drain.
type DispatcherConfig struct {
	Interval       time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BatchSize      int
}

// Dispatcher drains pending payment instructions into the rail and records
// confirmations. It never changes job status.
type Dispatcher struct {
	store    store.Store
	rail     Rail
	cfg      DispatcherConfig
	cache    Invalidator
	recorder DispatchRecorder
	logger   *slog.Logger
	now      func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithInvalidator(c Invalidator) DispatcherOption {
	return func(d *Dispatcher) { d.cache = c }
}

func WithDispatchRecorder(r DispatchRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(st store.Store, r Rail, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	d := &Dispatcher{
		store:    st,
		rail:     r,
		cfg:      cfg,
		recorder: noopDispatchRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drains the outbox every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("payment dispatcher started", "interval", d.cfg.Interval.String())
	for {
		if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("payment dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: submit due pending instructions, poll submitted ones,
// then refresh the backlog gauge.
func (d *Dispatcher) Tick(ctx context.Context) error {
	pending, err := d.store.ListInstructionsByStatus(ctx, models.PaymentStatusPending, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list pending instructions: %w", err)
	}
	now := d.now()
	for _, in := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.due(in, now) {
			continue
		}
		ready, err := d.ready(ctx, in)
		if err != nil {
			d.logger.Warn("dispatch ordering check failed", "instruction_id", in.ID, "job_id", in.JobID, "error", err)
			continue
		}
		if !ready {
			continue
		}
		d.submit(ctx, in)
	}

	submitted, err := d.store.ListInstructionsByStatus(ctx, models.PaymentStatusSubmitted, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list submitted instructions: %w", err)
	}
	for _, in := range submitted {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.poll(ctx, in)
	}

	counts, err := d.store.CountInstructionsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count instructions: %w", err)
	}
	for _, status := range []string{
		models.PaymentStatusPending, models.PaymentStatusSubmitted,
		models.PaymentStatusConfirmed, models.PaymentStatusFailed,
	} {
		d.recorder.SetBacklog(status, counts[status])
	}
	return nil
}

// Confirm records an externally observed outcome for a submitted instruction.
// Repeating an outcome already recorded is a no-op.
func (d *Dispatcher) Confirm(ctx context.Context, id uuid.UUID, confirmed bool, reason string) (*models.PaymentInstruction, error) {
	in, err := d.store.GetInstruction(ctx, id)
	if err != nil {
		return nil, err
	}

	switch in.Status {
	case models.PaymentStatusSubmitted:
	case models.PaymentStatusConfirmed:
		if confirmed {
			return in, nil
		}
		return nil, fmt.Errorf("%w: instruction %s already confirmed", store.ErrConflict, id)
	case models.PaymentStatusFailed:
		if !confirmed {
			return in, nil
		}
		return nil, fmt.Errorf("%w: instruction %s already failed", store.ErrConflict, id)
	default:
		return nil, fmt.Errorf("%w: instruction %s is %s", ErrNotSubmitted, id, in.Status)
	}

	if err := d.store.MarkInstructionConfirmed(ctx, id, confirmed, reason); err != nil {
		return nil, fmt.Errorf("record confirmation: %w", err)
	}
	d.recordOutcome(in, confirmed, reason)
	return d.store.GetInstruction(ctx, id)
}

// Backoff returns the wait before retry number attempts+1.
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	wait := d.cfg.InitialBackoff
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return wait
}

func (d *Dispatcher) due(in *models.PaymentInstruction, now time.Time) bool {
	return !now.Before(in.UpdatedAt.Add(d.Backoff(in.Attempts)))
}

// ready reports whether in may go to the rail now. A payout waits until its
// job's fund instruction is confirmed. It is parked as failed when funding
// failed or was never recorded, so escrow that never reached the rail is never
// paid out.
func (d *Dispatcher) ready(ctx context.Context, in *models.PaymentInstruction) (bool, error) {
	if in.Kind == models.PaymentKindFund {
		return true, nil
	}

	siblings, err := d.store.ListInstructionsByJob(ctx, in.JobID)
	if err != nil {
		return false, fmt.Errorf("list job instructions: %w", err)
	}
	var fund *models.PaymentInstruction
	for _, s := range siblings {
		if s.Kind == models.PaymentKindFund {
			fund = s
			break
		}
	}

	var reason string
	switch {
	case fund == nil:
		reason = "blocked: job has no fund instruction"
	case fund.Status == models.PaymentStatusConfirmed:
		return true, nil
	case fund.Status == models.PaymentStatusFailed:
		reason = fmt.Sprintf("blocked: fund instruction %s failed", fund.ID)
	default:
		return false, nil
	}

	if err := d.store.MarkInstructionConfirmed(ctx, in.ID, false, reason); err != nil {
		return false, fmt.Errorf("park instruction: %w", err)
	}
	d.recorder.ObserveDispatch(in.Kind, "blocked")
	d.logger.Error("payment instruction parked", "instruction_id", in.ID, "job_id", in.JobID,
		"kind", string(in.Kind), "reason", reason)
	return false, nil
}

func (d *Dispatcher) submit(ctx context.Context, in *models.PaymentInstruction) {
	log := d.logger.With("instruction_id", in.ID, "job_id", in.JobID, "kind", string(in.Kind))

	ref, err := Submit(ctx, d.rail, in)
	if errors.Is(err, ErrAlreadyApplied) {
		if err := d.store.MarkInstructionConfirmed(ctx, in.ID, true, ""); err != nil {
			log.Error("failed to record applied instruction", "error", err)
			return
		}
		d.invalidate(ctx, in.JobID)
		d.recordOutcome(in, true, "")
		log.Warn("payment instruction already applied on rail, not resent")
		return
	}
	if err != nil {
		final := errors.Is(err, ErrRejected) || in.Attempts+1 >= d.cfg.MaxAttempts
		if markErr := d.store.MarkInstructionAttempt(ctx, in.ID, err.Error(), final); markErr != nil {
			log.Error("failed to record dispatch attempt", "error", markErr)
		}
		if final {
			d.recorder.ObserveDispatch(in.Kind, "failed")
			log.Error("payment instruction failed", "attempts", in.Attempts+1, "error", err)
			return
		}
		d.recorder.ObserveDispatch(in.Kind, "retry")
		log.Warn("payment submission failed, will retry",
			"attempts", in.Attempts+1, "retry_in", d.Backoff(in.Attempts+1).String(), "error", err)
		return
	}

	if err := d.store.MarkInstructionSubmitted(ctx, in.ID, ref); err != nil {
		log.Error("failed to record submission", "tx_ref", ref, "error", err)
		return
	}
	d.invalidate(ctx, in.JobID)
	d.recorder.ObserveDispatch(in.Kind, "submitted")
	log.Info("payment instruction submitted", "tx_ref", ref)
}

func (d *Dispatcher) poll(ctx context.Context, in *models.PaymentInstruction) {
	status, err := d.rail.Status(ctx, in.TxRef)
	if err != nil {
		d.logger.Warn("confirmation poll failed", "instruction_id", in.ID, "tx_ref", in.TxRef, "error", err)
		return
	}

	var confirmed bool
	switch status {
	case TxConfirmed:
		confirmed = true
	case TxFailed:
	default:
		return
	}

	reason := ""
	if !confirmed {
		reason = "transaction reverted"
	}
	if err := d.store.MarkInstructionConfirmed(ctx, in.ID, confirmed, reason); err != nil {
		d.logger.Error("failed to record confirmation", "instruction_id", in.ID, "error", err)
		return
	}
	d.recordOutcome(in, confirmed, reason)
}

func (d *Dispatcher) recordOutcome(in *models.PaymentInstruction, confirmed bool, reason string) {
	if confirmed {
		d.recorder.ObserveDispatch(in.Kind, "confirmed")
		d.logger.Info("payment confirmed", "instruction_id", in.ID, "job_id", in.JobID, "tx_ref", in.TxRef)
		return
	}
	d.recorder.ObserveDispatch(in.Kind, "reverted")
	d.logger.Error("payment reverted", "instruction_id", in.ID, "job_id", in.JobID, "tx_ref", in.TxRef, "reason", reason)
}

func (d *Dispatcher) invalidate(ctx context.Context, jobID uuid.UUID) {
	if d.cache == nil {
		return
	}
	if err := d.cache.InvalidateJob(ctx, jobID); err != nil {
		d.logger.Warn("failed to invalidate job snapshot", "job_id", jobID, "error", err)
	}
}
