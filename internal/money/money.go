// Package money is the single source of truth for currency formatting.
// The invoice document and any rendered template text referencing the same
// amount must agree exactly, so both consume this package.
package money

import (
	"fmt"
	"strings"
)

const (
	EUR = "EUR"
	GBP = "GBP"
)

// Symbol returns the display symbol for a currency code. Unknown codes fall
// back to the euro sign, matching the invoice default.
func Symbol(currency string) string {
	if strings.EqualFold(currency, GBP) {
		return "£"
	}
	return "€"
}

// Format renders an amount in the fixed document style: currency symbol,
// space, space-grouped integer part, decimal comma, two decimals.
// Format(1230, "EUR") == "€ 1 230,00".
func Format(amount float64, currency string) string {
	return Symbol(currency) + " " + FormatNumber(amount)
}

// FormatNumber renders the numeric part only: "1 234 567,89".
func FormatNumber(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := fmt.Sprintf("%.2f", amount)
	intPart := s[:len(s)-3]
	decPart := s[len(s)-2:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	b.WriteByte(',')
	b.WriteString(decPart)
	return b.String()
}
