package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/shopspring/decimal"
)

// PostgresStore implements the Store interface using pgx/v5.
// Amounts travel as text and are cast to NUMERIC in SQL so no precision is lost.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, actor, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.Actor, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
		&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, actor, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.Actor, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, client, freelancer, amount::text, deposited_amount::text, status,
	dispute_raised, tx_ref, version, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j                 models.Job
		amount, deposited string
		status            string
	)
	if err := row.Scan(&j.ID, &j.Client, &j.Freelancer, &amount, &deposited, &status,
		&j.DisputeRaised, &j.TxRef, &j.Version, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}

	var err error
	if j.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if j.DepositedAmount, err = decimal.NewFromString(deposited); err != nil {
		return nil, fmt.Errorf("parse deposited amount: %w", err)
	}
	if j.Status, err = models.ParseJobStatus(status); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, client, freelancer, amount, deposited_amount, status, dispute_raised, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10)`,
		job.ID, job.Client, job.Freelancer, job.Amount.String(), job.DepositedAmount.String(),
		job.Status.String(), job.DisputeRaised, job.Version, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.Client != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(client) = LOWER($%d)", argIdx))
		args = append(args, filter.Client)
		argIdx++
	}
	if filter.Freelancer != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(freelancer) = LOWER($%d)", argIdx))
		args = append(args, filter.Freelancer)
		argIdx++
	}
	if filter.Status.Valid() {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status.String())
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// --- Disputes ---

const disputeColumns = `id, job_id, raised_by, reason, status, client_percentage, freelancer_percentage, notes, created_at, resolved_at`

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var (
		d                       models.Dispute
		clientPct, freelancePct *int
		notes                   *string
	)
	if err := row.Scan(&d.ID, &d.JobID, &d.RaisedBy, &d.Reason, &d.Status,
		&clientPct, &freelancePct, &notes, &d.CreatedAt, &d.ResolvedAt); err != nil {
		return nil, err
	}
	if clientPct != nil && freelancePct != nil {
		d.Resolution = &models.Resolution{ClientPercentage: *clientPct, FreelancerPercentage: *freelancePct}
		if notes != nil {
			d.Resolution.Notes = *notes
		}
	}
	return &d, nil
}

func (s *PostgresStore) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, err := scanDispute(s.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDisputes(ctx context.Context, jobID uuid.UUID) ([]*models.Dispute, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	var disputes []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// partyCondition matches jobs aliased j where party is client or freelancer.
const partyCondition = `($%[1]d = '' OR LOWER(j.client) = LOWER($%[1]d) OR LOWER(j.freelancer) = LOWER($%[1]d))`

func (s *PostgresStore) QueryDisputes(ctx context.Context, filter models.DisputeFilter) ([]*models.Dispute, int, error) {
	where := `($1 = '' OR d.status = $1) AND ` + fmt.Sprintf(partyCondition, 2)
	args := []any{filter.Status, filter.Party}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM disputes d JOIN jobs j ON j.id = d.job_id WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count disputes: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.job_id, d.raised_by, d.reason, d.status, d.client_percentage, d.freelancer_percentage,
		        d.notes, d.created_at, d.resolved_at
		 FROM disputes d JOIN jobs j ON j.id = d.job_id
		 WHERE `+where+`
		 ORDER BY d.created_at LIMIT $3 OFFSET $4`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query disputes: %w", err)
	}
	defer rows.Close()

	var disputes []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	return disputes, total, rows.Err()
}

// JobStats aggregates in the database; amounts travel as text to keep
// NUMERIC precision.
func (s *PostgresStore) JobStats(ctx context.Context, party string) (*models.JobStats, error) {
	stats := models.NewJobStats()
	party = strings.TrimSpace(party)

	rows, err := s.pool.Query(ctx,
		`SELECT j.status, COUNT(*), COALESCE(SUM(j.deposited_amount), 0)::text
		 FROM jobs j WHERE `+fmt.Sprintf(partyCondition, 1)+`
		 GROUP BY j.status`, party)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	for rows.Next() {
		var (
			status, escrowed string
			n                int
		)
		if err := rows.Scan(&status, &n, &escrowed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		amount, err := decimal.NewFromString(escrowed)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse escrowed total: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] = n
		stats.Escrowed = stats.Escrowed.Add(amount)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	var released, refunded, fees string
	err = s.pool.QueryRow(ctx,
		`SELECT
		   COALESCE(SUM(p.client_amount + p.freelancer_amount) FILTER (WHERE p.kind IN ('release', 'resolve')), 0)::text,
		   COALESCE(SUM(p.amount) FILTER (WHERE p.kind = 'refund'), 0)::text,
		   COALESCE(SUM(p.arbitrator_fee) FILTER (WHERE p.kind IN ('release', 'resolve')), 0)::text
		 FROM payment_instructions p JOIN jobs j ON j.id = p.job_id
		 WHERE `+fmt.Sprintf(partyCondition, 1), party).Scan(&released, &refunded, &fees)
	if err != nil {
		return nil, fmt.Errorf("payout stats: %w", err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&stats.Released, released}, {&stats.Refunded, refunded}, {&stats.ArbitratorFees, fees}} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, fmt.Errorf("parse payout total: %w", err)
		}
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM disputes d JOIN jobs j ON j.id = d.job_id
		 WHERE d.status = 'pending' AND `+fmt.Sprintf(partyCondition, 1), party).Scan(&stats.PendingDisputes)
	if err != nil {
		return nil, fmt.Errorf("dispute stats: %w", err)
	}
	return stats, nil
}

// --- Commit ---

// Commit locks the job row, checks its version and writes the job together
// with any dispute and payment instruction in one transaction.
func (s *PostgresStore) Commit(ctx context.Context, c *Commit) error {
	if c == nil || c.Job == nil {
		return fmt.Errorf("commit: job is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx, `SELECT version FROM jobs WHERE id = $1 FOR UPDATE`, c.Job.ID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	if version != c.ExpectedVersion {
		return ErrConflict
	}

	j := c.Job
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET freelancer = $2, deposited_amount = $3::numeric, status = $4, dispute_raised = $5,
		        version = $6, updated_at = $7, completed_at = $8
		 WHERE id = $1`,
		j.ID, j.Freelancer, j.DepositedAmount.String(), j.Status.String(), j.DisputeRaised,
		j.Version, j.UpdatedAt, j.CompletedAt); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	if d := c.NewDispute; d != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO disputes (id, job_id, raised_by, reason, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			d.ID, d.JobID, d.RaisedBy, d.Reason, d.Status, d.CreatedAt); err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert dispute: %w", err)
		}
	}

	if d := c.ResolvedDispute; d != nil {
		var clientPct, freelancerPct *int
		var notes *string
		if d.Resolution != nil {
			clientPct = &d.Resolution.ClientPercentage
			freelancerPct = &d.Resolution.FreelancerPercentage
			notes = &d.Resolution.Notes
		}
		tag, err := tx.Exec(ctx,
			`UPDATE disputes SET status = $2, client_percentage = $3, freelancer_percentage = $4,
			        notes = $5, resolved_at = $6
			 WHERE id = $1 AND status = 'pending'`,
			d.ID, d.Status, clientPct, freelancerPct, notes, d.ResolvedAt)
		if err != nil {
			return fmt.Errorf("resolve dispute: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	}

	if in := c.Instruction; in != nil {
		if err := insertInstruction(ctx, tx, in); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// --- Payment instructions ---

const instructionColumns = `id, job_id, kind, amount::text, arbitrator_fee::text, client_amount::text,
	freelancer_amount::text, client_percentage, freelancer_percentage, status, tx_ref, attempts,
	last_error, created_at, updated_at, confirmed_at`

func insertInstruction(ctx context.Context, tx pgx.Tx, in *models.PaymentInstruction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO payment_instructions (id, job_id, kind, amount, arbitrator_fee, client_amount,
		        freelancer_amount, client_percentage, freelancer_percentage, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)`,
		in.ID, in.JobID, string(in.Kind), in.Amount.String(), in.ArbitratorFee.String(),
		in.ClientAmount.String(), in.FreelancerAmount.String(), in.ClientPercentage,
		in.FreelancerPercentage, in.Status, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert payment instruction: %w", err)
	}
	return nil
}

func scanInstruction(row pgx.Row) (*models.PaymentInstruction, error) {
	var (
		in                                         models.PaymentInstruction
		kind                                       string
		amount, fee, clientAmount, freelanceAmount string
	)
	if err := row.Scan(&in.ID, &in.JobID, &kind, &amount, &fee, &clientAmount, &freelanceAmount,
		&in.ClientPercentage, &in.FreelancerPercentage, &in.Status, &in.TxRef, &in.Attempts,
		&in.LastError, &in.CreatedAt, &in.UpdatedAt, &in.ConfirmedAt); err != nil {
		return nil, err
	}
	in.Kind = models.PaymentKind(kind)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&in.Amount, amount},
		{&in.ArbitratorFee, fee},
		{&in.ClientAmount, clientAmount},
		{&in.FreelancerAmount, freelanceAmount},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("parse instruction amount: %w", err)
		}
		*f.dst = v
	}
	return &in, nil
}

func (s *PostgresStore) GetInstruction(ctx context.Context, id uuid.UUID) (*models.PaymentInstruction, error) {
	in, err := scanInstruction(s.pool.QueryRow(ctx,
		`SELECT `+instructionColumns+` FROM payment_instructions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment instruction: %w", err)
	}
	return in, nil
}

func (s *PostgresStore) queryInstructions(ctx context.Context, query string, args ...any) ([]*models.PaymentInstruction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PaymentInstruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment instruction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListInstructionsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.PaymentInstruction, error) {
	out, err := s.queryInstructions(ctx,
		`SELECT `+instructionColumns+` FROM payment_instructions WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list payment instructions by job: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListInstructionsByStatus(ctx context.Context, status string, limit int) ([]*models.PaymentInstruction, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := s.queryInstructions(ctx,
		`SELECT `+instructionColumns+` FROM payment_instructions WHERE status = $1 ORDER BY created_at LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("list payment instructions by status: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountInstructionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM payment_instructions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count payment instructions: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan instruction count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// MarkInstructionSubmitted records the rail's transaction reference on both the
// instruction and its job. The job's version is left alone: tx_ref is not
// ledger state.
func (s *PostgresStore) MarkInstructionSubmitted(ctx context.Context, id uuid.UUID, txRef string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var jobID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE payment_instructions
		 SET status = 'submitted', tx_ref = $2, attempts = attempts + 1, last_error = NULL, updated_at = $3
		 WHERE id = $1
		 RETURNING job_id`, id, txRef, now).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark instruction submitted: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE jobs SET tx_ref = $2 WHERE id = $1`, jobID, txRef); err != nil {
		return fmt.Errorf("record job tx ref: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submit: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkInstructionAttempt(ctx context.Context, id uuid.UUID, reason string, failed bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_instructions
		 SET attempts = attempts + 1, last_error = $2,
		     status = CASE WHEN $3::boolean THEN 'failed' ELSE status END,
		     updated_at = NOW()
		 WHERE id = $1`, id, reason, failed)
	if err != nil {
		return fmt.Errorf("mark instruction attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkInstructionConfirmed(ctx context.Context, id uuid.UUID, confirmed bool, reason string) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if confirmed {
		tag, err = s.pool.Exec(ctx,
			`UPDATE payment_instructions
			 SET status = 'confirmed', confirmed_at = NOW(), last_error = NULL, updated_at = NOW()
			 WHERE id = $1`, id)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE payment_instructions
			 SET status = 'failed', last_error = $2, updated_at = NOW()
			 WHERE id = $1`, id, reason)
	}
	if err != nil {
		return fmt.Errorf("mark instruction confirmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}
