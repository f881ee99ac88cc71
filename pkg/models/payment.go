package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentKind names the payment-rail call an instruction maps to.
type PaymentKind string

const (
	PaymentKindFund    PaymentKind = "fund"
	PaymentKindRelease PaymentKind = "release"
	PaymentKindResolve PaymentKind = "resolve"
	PaymentKindRefund  PaymentKind = "refund"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSubmitted = "submitted"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"
)

// PaymentInstruction is a transfer the ledger has already committed to and the
// payment rail still has to carry out. It is written in the same transaction
// as the job transition that produced it.
type PaymentInstruction struct {
	ID                   uuid.UUID       `db:"id"                    json:"id"`
	JobID                uuid.UUID       `db:"job_id"                json:"job_id"`
	Kind                 PaymentKind     `db:"kind"                  json:"kind"`
	Amount               decimal.Decimal `db:"amount"                json:"amount"`
	ArbitratorFee        decimal.Decimal `db:"arbitrator_fee"        json:"arbitrator_fee"`
	ClientAmount         decimal.Decimal `db:"client_amount"         json:"client_amount"`
	FreelancerAmount     decimal.Decimal `db:"freelancer_amount"     json:"freelancer_amount"`
	ClientPercentage     int             `db:"client_percentage"     json:"client_percentage,omitempty"`
	FreelancerPercentage int             `db:"freelancer_percentage" json:"freelancer_percentage,omitempty"`
	Status               string          `db:"status"                json:"status"`
	TxRef                string          `db:"tx_ref"                json:"tx_ref,omitempty"`
	Attempts             int             `db:"attempts"              json:"attempts"`
	LastError            *string         `db:"last_error"            json:"last_error,omitempty"`
	CreatedAt            time.Time       `db:"created_at"            json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"            json:"updated_at"`
	ConfirmedAt          *time.Time      `db:"confirmed_at"          json:"confirmed_at,omitempty"`
}

// ReleaseSplit is the outcome of an ordinary payment release.
type ReleaseSplit struct {
	ArbitratorFee    decimal.Decimal `json:"arbitrator_fee"`
	FreelancerAmount decimal.Decimal `json:"freelancer_amount"`
}

// ResolutionSplit is the outcome of a dispute resolution.
type ResolutionSplit struct {
	ArbitratorFee    decimal.Decimal `json:"arbitrator_fee"`
	ClientAmount     decimal.Decimal `json:"client_amount"`
	FreelancerAmount decimal.Decimal `json:"freelancer_amount"`
}

// Refund is the outcome of cancelling a job.
type Refund struct {
	JobID  uuid.UUID       `json:"job_id"`
	Client string          `json:"client"`
	Amount decimal.Decimal `json:"amount"`
}
