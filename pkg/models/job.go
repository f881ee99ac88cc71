// Package models contains shared data models used across the escrowhub codebase.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JobStatus is the escrow lifecycle state of a job. The set is closed: values
// outside the declared constants never parse and never serialize.
type JobStatus uint8

const (
	JobStatusCreated JobStatus = iota + 1
	JobStatusFunded
	JobStatusAssigned
	JobStatusInProgress
	JobStatusCompleted
	JobStatusDisputed
	JobStatusResolved
	JobStatusReleased
	JobStatusCancelled
)

var jobStatusNames = map[JobStatus]string{
	JobStatusCreated:    "created",
	JobStatusFunded:     "funded",
	JobStatusAssigned:   "assigned",
	JobStatusInProgress: "in_progress",
	JobStatusCompleted:  "completed",
	JobStatusDisputed:   "disputed",
	JobStatusResolved:   "resolved",
	JobStatusReleased:   "released",
	JobStatusCancelled:  "cancelled",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusNames[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReleased || s == JobStatusCancelled
}

// ParseJobStatus converts the wire/database form back into a JobStatus.
func ParseJobStatus(v string) (JobStatus, error) {
	for status, name := range jobStatusNames {
		if name == v {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", v)
}

func (s JobStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid job status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *JobStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseJobStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Job is the escrow record for one piece of freelance work.
// Client, Amount and ID never change after creation; Freelancer is set once.
type Job struct {
	ID              uuid.UUID       `db:"id"               json:"id"`
	Client          string          `db:"client"           json:"client"`
	Freelancer      string          `db:"freelancer"       json:"freelancer,omitempty"`
	Amount          decimal.Decimal `db:"amount"           json:"amount"`
	DepositedAmount decimal.Decimal `db:"deposited_amount" json:"deposited_amount"`
	Status          JobStatus       `db:"status"           json:"status"`
	DisputeRaised   bool            `db:"dispute_raised"   json:"dispute_raised"`
	TxRef           string          `db:"tx_ref"           json:"tx_ref,omitempty"`
	Version         int64           `db:"version"          json:"version"`
	CreatedAt       time.Time       `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"       json:"updated_at"`
	CompletedAt     *time.Time      `db:"completed_at"     json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// JobFilter narrows job listings for role dashboards.
type JobFilter struct {
	Client     string
	Freelancer string
	Status     JobStatus
	Page       int
	Limit      int
}
