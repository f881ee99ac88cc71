package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DisputeStatusPending  = "pending"
	DisputeStatusResolved = "resolved"
)

// Dispute is a contested job outcome awaiting arbitrator adjudication.
// JobID is a lookup key only; a dispute does not own its job.
type Dispute struct {
	ID         uuid.UUID   `db:"id"          json:"id"`
	JobID      uuid.UUID   `db:"job_id"      json:"job_id"`
	RaisedBy   string      `db:"raised_by"   json:"raised_by"`
	Reason     string      `db:"reason"      json:"reason"`
	Status     string      `db:"status"      json:"status"`
	Resolution *Resolution `db:"resolution"  json:"resolution,omitempty"`
	CreatedAt  time.Time   `db:"created_at"  json:"created_at"`
	ResolvedAt *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Resolution records the arbitrator's split decision.
type Resolution struct {
	ClientPercentage     int    `json:"client_percentage"`
	FreelancerPercentage int    `json:"freelancer_percentage"`
	Notes                string `json:"notes,omitempty"`
}

func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	out := *d
	if d.Resolution != nil {
		r := *d.Resolution
		out.Resolution = &r
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// DisputeFilter narrows the cross-job dispute queue. Party limits results to
// jobs where that identity is the client or the freelancer.
type DisputeFilter struct {
	Status string
	Party  string
	Page   int
	Limit  int
}
