package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func prev(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func TestShouldAlert(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		previous  decimal.NullDecimal
		threshold string
		want      bool
	}{
		{"drop equal to threshold does not alert", "90", prev("100"), "10", false},
		{"drop just over threshold alerts", "89.99", prev("100"), "10", true},
		{"no previous price", "100", decimal.NullDecimal{}, "10", false},
		{"price increase", "120", prev("100"), "10", false},
		{"unchanged with zero threshold", "100", prev("100"), "0", false},
		{"any drop with zero threshold", "99.99", prev("100"), "0", true},
		{"custom threshold", "480", prev("505"), "25", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldAlert(d(tc.current), tc.previous, d(tc.threshold))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewAlertPolicy(t *testing.T) {
	p, err := NewAlertPolicy(DefaultThreshold)
	require.NoError(t, err)

	r := &Result{CurrentPrice: d("505"), LastCheckedPrice: prev("520")}
	assert.True(t, p.ShouldAlert(r))

	r = &Result{CurrentPrice: d("510"), LastCheckedPrice: prev("520")}
	assert.False(t, p.ShouldAlert(r))

	_, err = NewAlertPolicy(d("-1"))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
