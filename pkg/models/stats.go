package models

import "github.com/shopspring/decimal"

// JobStats summarizes the jobs visible to one dashboard.
// Released counts what reached the client and freelancer on release or
// resolution; ArbitratorFees is reported separately.
type JobStats struct {
	Total           int             `json:"total"`
	ByStatus        map[string]int  `json:"by_status"`
	Escrowed        decimal.Decimal `json:"escrowed"`
	Released        decimal.Decimal `json:"released"`
	Refunded        decimal.Decimal `json:"refunded"`
	ArbitratorFees  decimal.Decimal `json:"arbitrator_fees"`
	PendingDisputes int             `json:"pending_disputes"`
}

// NewJobStats returns zeroed stats with every status present.
func NewJobStats() *JobStats {
	byStatus := make(map[string]int, len(jobStatusNames))
	for _, name := range jobStatusNames {
		byStatus[name] = 0
	}
	return &JobStats{
		ByStatus:       byStatus,
		Escrowed:       decimal.Zero,
		Released:       decimal.Zero,
		Refunded:       decimal.Zero,
		ArbitratorFees: decimal.Zero,
	}
}

// AddPayout folds one committed payout instruction into the totals.
func (s *JobStats) AddPayout(in *PaymentInstruction) {
	switch in.Kind {
	case PaymentKindRelease, PaymentKindResolve:
		s.Released = s.Released.Add(in.ClientAmount).Add(in.FreelancerAmount)
		s.ArbitratorFees = s.ArbitratorFees.Add(in.ArbitratorFee)
	case PaymentKindRefund:
		s.Refunded = s.Refunded.Add(in.Amount)
	}
}
