package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/escrowhub/pkg/models"
)

// DefaultSnapshotTTL bounds how long a job snapshot may be served after a
// missed invalidation.
const DefaultSnapshotTTL = 5 * time.Minute

// JobSnapshots stores read-through copies of jobs as JSON. It satisfies the
// escrow service's snapshot cache.
type JobSnapshots struct {
	cache Cache
	ttl   time.Duration
}

func NewJobSnapshots(c Cache, ttl time.Duration) *JobSnapshots {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &JobSnapshots{cache: c, ttl: ttl}
}

// GetJob returns nil, nil on a miss.
func (s *JobSnapshots) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	raw, ok, err := s.cache.Get(ctx, JobSnapshotKey(id))
	if err != nil || !ok {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job snapshot: %w", err)
	}
	return &job, nil
}

func (s *JobSnapshots) SetJob(ctx context.Context, job *models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job snapshot: %w", err)
	}
	return s.cache.Set(ctx, JobSnapshotKey(job.ID), raw, s.ttl)
}

func (s *JobSnapshots) InvalidateJob(ctx context.Context, id uuid.UUID) error {
	return s.cache.Delete(ctx, JobSnapshotKey(id))
}
