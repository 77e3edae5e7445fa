package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatEUR formats an amount as a string like "€ 1.234,50".
// Uses dot as thousands separator and comma for cents (common in the Netherlands).
func FormatEUR(amount decimal.Decimal) string {
	neg := amount.IsNegative()
	if neg {
		amount = amount.Neg()
	}

	s := amount.StringFixed(2)
	whole, cents, _ := strings.Cut(s, ".")

	var b strings.Builder
	// Pre-allocate: digits + separators + sign + symbol
	b.Grow(len(whole) + len(whole)/3 + 8)
	if neg {
		b.WriteString("-")
	}
	b.WriteString("€ ")

	// Insert separators from the left.
	rem := len(whole) % 3
	if rem == 0 {
		rem = 3
	}
	b.WriteString(whole[:rem])
	for i := rem; i < len(whole); i += 3 {
		b.WriteByte('.')
		b.WriteString(whole[i : i+3])
	}
	b.WriteByte(',')
	b.WriteString(cents)

	return b.String()
}

// NearlyZero reports whether the amount is within half a cent of zero.
func NearlyZero(amount decimal.Decimal) bool {
	return amount.Abs().LessThan(decimal.NewFromFloat(0.005))
}
