package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConflict is returned by Commit when the job row changed since it was read.
var ErrConflict = errors.New("concurrent modification")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, int, error)

	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ListDisputes(ctx context.Context, jobID uuid.UUID) ([]*models.Dispute, error)
	// QueryDisputes lists disputes across jobs, oldest first.
	QueryDisputes(ctx context.Context, filter models.DisputeFilter) ([]*models.Dispute, int, error)

	// JobStats aggregates jobs, payouts and open disputes. An empty party
	// covers every job.
	JobStats(ctx context.Context, party string) (*models.JobStats, error)

	// Commit atomically applies one ledger transition.
	Commit(ctx context.Context, c *Commit) error

	GetInstruction(ctx context.Context, id uuid.UUID) (*models.PaymentInstruction, error)
	ListInstructionsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.PaymentInstruction, error)
	ListInstructionsByStatus(ctx context.Context, status string, limit int) ([]*models.PaymentInstruction, error)
	CountInstructionsByStatus(ctx context.Context) (map[string]int, error)
	MarkInstructionSubmitted(ctx context.Context, id uuid.UUID, txRef string) error
	MarkInstructionAttempt(ctx context.Context, id uuid.UUID, reason string, failed bool) error
	MarkInstructionConfirmed(ctx context.Context, id uuid.UUID, confirmed bool, reason string) error
}

// Commit is the unit of work produced by a single ledger transition.
// Job carries the new state; its Version must still equal ExpectedVersion in
// storage or the whole commit fails with ErrConflict.
type Commit struct {
	Job             *models.Job
	ExpectedVersion int64
	NewDispute      *models.Dispute
	ResolvedDispute *models.Dispute
	Instruction     *models.PaymentInstruction
}

func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}
