package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
)

// MemoryStore implements Store in process memory. Every read returns a copy,
// and Commit applies all of its records under one lock.
type MemoryStore struct {
	mu           sync.RWMutex
	jobs         map[uuid.UUID]*models.Job
	disputes     map[uuid.UUID]*models.Dispute
	instructions map[uuid.UUID]*models.PaymentInstruction
	keys         map[uuid.UUID]*models.APIKey
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[uuid.UUID]*models.Job),
		disputes:     make(map[uuid.UUID]*models.Dispute),
		instructions: make(map[uuid.UUID]*models.PaymentInstruction),
		keys:         make(map[uuid.UUID]*models.APIKey),
		now:          time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return ErrDuplicateKey
		}
	}
	s.keys[key.ID] = cloneKey(key)
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		if k.DeletedAt == nil {
			out = append(out, cloneKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := s.now().UTC()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter models.JobFilter) ([]*models.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Job
	for _, j := range s.jobs {
		if filter.Client != "" && !strings.EqualFold(j.Client, filter.Client) {
			continue
		}
		if filter.Freelancer != "" && !strings.EqualFold(j.Freelancer, filter.Freelancer) {
			continue
		}
		if filter.Status != 0 && j.Status != filter.Status {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].CreatedAt.After(matched[b].CreatedAt) })

	page, limit := normalizePage(filter.Page, filter.Limit)
	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]*models.Job, 0, end-start)
	for _, j := range matched[start:end] {
		out = append(out, j.Clone())
	}
	return out, total, nil
}

// --- Disputes ---

func (s *MemoryStore) GetDispute(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) ListDisputes(_ context.Context, jobID uuid.UUID) ([]*models.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Dispute
	for _, d := range s.disputes {
		if d.JobID == jobID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) QueryDisputes(_ context.Context, filter models.DisputeFilter) ([]*models.Dispute, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Dispute
	for _, d := range s.disputes {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.Party != "" && !s.involves(d.JobID, filter.Party) {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	page, limit := normalizePage(filter.Page, filter.Limit)
	total := len(matched)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	out := make([]*models.Dispute, 0, end-start)
	for _, d := range matched[start:end] {
		out = append(out, d.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) JobStats(_ context.Context, party string) (*models.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.NewJobStats()
	for _, j := range s.jobs {
		if party != "" && !s.involves(j.ID, party) {
			continue
		}
		stats.Total++
		stats.ByStatus[j.Status.String()]++
		stats.Escrowed = stats.Escrowed.Add(j.DepositedAmount)
	}
	for _, in := range s.instructions {
		if party == "" || s.involves(in.JobID, party) {
			stats.AddPayout(in)
		}
	}
	for _, d := range s.disputes {
		if d.Status == models.DisputeStatusPending && (party == "" || s.involves(d.JobID, party)) {
			stats.PendingDisputes++
		}
	}
	return stats, nil
}

// involves reports whether party is the client or freelancer of the job.
// Callers hold s.mu.
func (s *MemoryStore) involves(jobID uuid.UUID, party string) bool {
	j, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	return strings.EqualFold(j.Client, party) || (j.Freelancer != "" && strings.EqualFold(j.Freelancer, party))
}

// --- Commit ---

func (s *MemoryStore) Commit(_ context.Context, c *Commit) error {
	if c == nil || c.Job == nil {
		return fmt.Errorf("commit: job is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[c.Job.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != c.ExpectedVersion {
		return ErrConflict
	}
	if c.NewDispute != nil {
		if _, exists := s.disputes[c.NewDispute.ID]; exists {
			return ErrDuplicateKey
		}
	}
	if c.NewDispute != nil {
		for _, d := range s.disputes {
			if d.JobID == c.NewDispute.JobID && d.Status == models.DisputeStatusPending {
				return ErrDuplicateKey
			}
		}
	}
	if c.ResolvedDispute != nil {
		existing, exists := s.disputes[c.ResolvedDispute.ID]
		if !exists {
			return ErrNotFound
		}
		if existing.Status != models.DisputeStatusPending {
			return ErrConflict
		}
	}
	if c.Instruction != nil {
		if _, exists := s.instructions[c.Instruction.ID]; exists {
			return ErrDuplicateKey
		}
		if isPayout(c.Instruction.Kind) {
			for _, in := range s.instructions {
				if in.JobID == c.Instruction.JobID && isPayout(in.Kind) {
					return ErrDuplicateKey
				}
			}
		}
	}

	next := c.Job.Clone()
	// tx_ref belongs to the dispatcher, not to ledger transitions.
	next.TxRef = current.TxRef
	s.jobs[next.ID] = next
	if c.NewDispute != nil {
		s.disputes[c.NewDispute.ID] = c.NewDispute.Clone()
	}
	if c.ResolvedDispute != nil {
		s.disputes[c.ResolvedDispute.ID] = c.ResolvedDispute.Clone()
	}
	if c.Instruction != nil {
		s.instructions[c.Instruction.ID] = cloneInstruction(c.Instruction)
	}
	return nil
}

// --- Payment instructions ---

func (s *MemoryStore) GetInstruction(_ context.Context, id uuid.UUID) (*models.PaymentInstruction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.instructions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInstruction(in), nil
}

func (s *MemoryStore) ListInstructionsByJob(_ context.Context, jobID uuid.UUID) ([]*models.PaymentInstruction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PaymentInstruction
	for _, in := range s.instructions {
		if in.JobID == jobID {
			out = append(out, cloneInstruction(in))
		}
	}
	sortInstructions(out)
	return out, nil
}

func (s *MemoryStore) ListInstructionsByStatus(_ context.Context, status string, limit int) ([]*models.PaymentInstruction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PaymentInstruction
	for _, in := range s.instructions {
		if in.Status == status {
			out = append(out, cloneInstruction(in))
		}
	}
	sortInstructions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountInstructionsByStatus(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int{}
	for _, in := range s.instructions {
		counts[in.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) MarkInstructionSubmitted(_ context.Context, id uuid.UUID, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.instructions[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now().UTC()
	in.Status = models.PaymentStatusSubmitted
	in.TxRef = txRef
	in.Attempts++
	in.LastError = nil
	in.UpdatedAt = now
	if j, ok := s.jobs[in.JobID]; ok {
		j.TxRef = txRef
	}
	return nil
}

func (s *MemoryStore) MarkInstructionAttempt(_ context.Context, id uuid.UUID, reason string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.instructions[id]
	if !ok {
		return ErrNotFound
	}
	in.Attempts++
	in.LastError = &reason
	in.UpdatedAt = s.now().UTC()
	if failed {
		in.Status = models.PaymentStatusFailed
	}
	return nil
}

func (s *MemoryStore) MarkInstructionConfirmed(_ context.Context, id uuid.UUID, confirmed bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.instructions[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now().UTC()
	in.UpdatedAt = now
	if confirmed {
		in.Status = models.PaymentStatusConfirmed
		in.ConfirmedAt = &now
		in.LastError = nil
		return nil
	}
	in.Status = models.PaymentStatusFailed
	in.LastError = &reason
	return nil
}

// isPayout reports whether kind empties the escrow. A job gets at most one.
func isPayout(kind models.PaymentKind) bool {
	return kind == models.PaymentKindRelease || kind == models.PaymentKindResolve || kind == models.PaymentKindRefund
}

func cloneKey(k *models.APIKey) *models.APIKey {
	out := *k
	out.Scopes = append([]string(nil), k.Scopes...)
	return &out
}

func cloneInstruction(in *models.PaymentInstruction) *models.PaymentInstruction {
	out := *in
	if in.LastError != nil {
		e := *in.LastError
		out.LastError = &e
	}
	if in.ConfirmedAt != nil {
		t := *in.ConfirmedAt
		out.ConfirmedAt = &t
	}
	return &out
}

func sortInstructions(ins []*models.PaymentInstruction) {
	sort.Slice(ins, func(i, j int) bool { return ins[i].CreatedAt.Before(ins[j].CreatedAt) })
}
