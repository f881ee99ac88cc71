package escrow

import (
	"fmt"

	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultTokenDecimals is the minor-unit precision of USDC.
const DefaultTokenDecimals int32 = 6

var (
	// ReleaseFeeRate is the arbitrator's cut of an ordinary release.
	ReleaseFeeRate = decimal.New(5, -2)
	// DisputeFeeRate is the arbitrator's cut of a dispute resolution.
	DisputeFeeRate = decimal.New(8, -2)

	hundred = decimal.NewFromInt(100)
)

// FeeCalculator splits escrowed amounts. Every fractional result is truncated
// to the token's minor unit and the last party receives the remainder, so the
// parts always sum to the input exactly.
type FeeCalculator struct {
	decimals int32
}

func NewFeeCalculator(decimals int32) FeeCalculator {
	if decimals < 0 {
		decimals = DefaultTokenDecimals
	}
	return FeeCalculator{decimals: decimals}
}

// Decimals returns the token minor-unit precision.
func (f FeeCalculator) Decimals() int32 {
	return f.decimals
}

// ComputeRelease returns the arbitrator fee and freelancer payout for a
// completed job.
func (f FeeCalculator) ComputeRelease(amount decimal.Decimal) models.ReleaseSplit {
	fee := amount.Mul(ReleaseFeeRate).Truncate(f.decimals)
	return models.ReleaseSplit{
		ArbitratorFee:    fee,
		FreelancerAmount: amount.Sub(fee),
	}
}

// ComputeDisputeResolution deducts the dispute fee and divides the remainder
// by the arbitrator's percentages.
func (f FeeCalculator) ComputeDisputeResolution(amount decimal.Decimal, clientPct, freelancerPct int) (models.ResolutionSplit, error) {
	if err := ValidateSplit(clientPct, freelancerPct); err != nil {
		return models.ResolutionSplit{}, err
	}

	fee := amount.Mul(DisputeFeeRate).Truncate(f.decimals)
	remaining := amount.Sub(fee)
	client := remaining.Mul(decimal.NewFromInt(int64(clientPct))).Div(hundred).Truncate(f.decimals)

	return models.ResolutionSplit{
		ArbitratorFee:    fee,
		ClientAmount:     client,
		FreelancerAmount: remaining.Sub(client),
	}, nil
}

// ValidateSplit reports ErrInvalidSplit unless both percentages lie in
// [0, 100] and add up to 100.
func ValidateSplit(clientPct, freelancerPct int) error {
	if clientPct < 0 || freelancerPct < 0 || clientPct+freelancerPct != 100 {
		return fmt.Errorf("%w: got %d + %d", ErrInvalidSplit, clientPct, freelancerPct)
	}
	return nil
}

// ValidateAmount checks a job budget is positive and representable in the
// token's minor unit.
func (f FeeCalculator) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !amount.Equal(amount.Truncate(f.decimals)) {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidInput, f.decimals)
	}
	return nil
}
