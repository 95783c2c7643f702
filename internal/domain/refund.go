package domain

import (
	"slices"

	"github.com/shopspring/decimal"
)

func (s RefundStatus) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

func (s RefundStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s RefundStatus) Open() bool {
	return slices.Contains(OpenStatuses, s)
}

// CanConfirmPayment: pending only.
func (r *RefundRequest) CanConfirmPayment() bool {
	return r.Status == StatusPending
}

// CanMarkVerifying allows skipping payment confirmation.
func (r *RefundRequest) CanMarkVerifying() bool {
	return r.Status == StatusPending || r.Status == StatusPaymentConfirmed
}

// CanApprove allows skipping admin verification.
func (r *RefundRequest) CanApprove() bool {
	return r.Status == StatusPaymentConfirmed || r.Status == StatusAdminVerifying
}

// AmountLimits bounds a refund amount, both ends inclusive.
type AmountLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func DefaultAmountLimits() AmountLimits {
	return AmountLimits{Min: decimal.NewFromInt(50), Max: decimal.NewFromInt(10000)}
}

// Validate checks positivity and scale first, then the bounds. Amounts are
// stored as NUMERIC(14,2) so anything finer than a cent is refused.
func (l AmountLimits) Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Invalid("Amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return Invalid("Amount must have at most two decimal places")
	}
	if amount.LessThan(l.Min) {
		return Invalid("Minimum refund amount is %s", l.Min.String())
	}
	if amount.GreaterThan(l.Max) {
		return Invalid("Maximum refund amount is %s", l.Max.String())
	}
	return nil
}
