package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultThreshold is the drop, in currency units, that an alert requires.
var DefaultThreshold = decimal.NewFromInt(10)

// ShouldAlert reports whether the move from previous to current is a drop
// strictly greater than threshold. A drop of exactly threshold does not
// alert. Without a previous price there is nothing to compare, so no alert.
func ShouldAlert(current decimal.Decimal, previous decimal.NullDecimal, threshold decimal.Decimal) bool {
	if !previous.Valid {
		return false
	}
	return previous.Decimal.Sub(current).GreaterThan(threshold)
}

// AlertPolicy carries the configured threshold.
type AlertPolicy struct {
	Threshold decimal.Decimal
}

// NewAlertPolicy returns a policy for threshold, which must not be negative.
func NewAlertPolicy(threshold decimal.Decimal) (AlertPolicy, error) {
	if threshold.IsNegative() {
		return AlertPolicy{}, &ValidationError{Field: "threshold", Reason: fmt.Sprintf("must be >= 0, got %s", threshold)}
	}
	return AlertPolicy{Threshold: threshold}, nil
}

// ShouldAlert applies the policy to a comparison result.
func (p AlertPolicy) ShouldAlert(r *Result) bool {
	return ShouldAlert(r.CurrentPrice, r.LastCheckedPrice, p.Threshold)
}
