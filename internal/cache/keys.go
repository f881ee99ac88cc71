package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobSnapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("escrow:snapshot:%s", jobID)
}

// LockKey namespaces a lock name handed over by the escrow service.
func LockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}

func IdempotencyKey(actor, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", actor, key)
}
