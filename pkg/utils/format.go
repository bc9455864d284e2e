// Package utils holds formatting and retry helpers shared by the CLI and
// the code generator.
package utils

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const rupee = "₹"

var (
	lakh  = decimal.NewFromInt(100_000)
	crore = decimal.NewFromInt(10_000_000)
)

// FormatIndianCurrency renders amount in rupees with two decimals and
// lakh/crore grouping, e.g. -₹1,23,456.70. Halves round away from zero.
func FormatIndianCurrency(amount float64) string {
	sign, d := splitSign(decimal.NewFromFloat(amount).Round(2))
	whole, frac, _ := strings.Cut(d.StringFixed(2), ".")
	return sign + rupee + groupIndian(whole) + "." + frac
}

// FormatPnL is FormatIndianCurrency with an explicit + on gains.
func FormatPnL(pnl float64) string {
	s := FormatIndianCurrency(pnl)
	if decimal.NewFromFloat(pnl).Round(2).IsPositive() {
		return "+" + s
	}
	return s
}

// FormatQuantity groups an integer count the Indian way: 12,50,000.
func FormatQuantity(n int) string {
	if n < 0 {
		return "-" + groupIndian(strconv.Itoa(-n))
	}
	return groupIndian(strconv.Itoa(n))
}

// FormatCompact shortens large amounts to lakhs (L) or crores (Cr) and
// falls back to FormatIndianCurrency below one lakh.
func FormatCompact(amount float64) string {
	sign, d := splitSign(decimal.NewFromFloat(amount))
	switch {
	case d.GreaterThanOrEqual(crore):
		return sign + rupee + d.Div(crore).StringFixed(2) + " Cr"
	case d.GreaterThanOrEqual(lakh):
		return sign + rupee + d.Div(lakh).StringFixed(2) + " L"
	}
	return FormatIndianCurrency(amount)
}

func splitSign(d decimal.Decimal) (string, decimal.Decimal) {
	if d.IsNegative() {
		return "-", d.Neg()
	}
	return "", d
}

// groupIndian separates the last three digits, then every two before them.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	lead := len(head) % 2
	groups := make([]string, 0, len(head)/2+2)
	if lead == 1 {
		groups = append(groups, head[:1])
	}
	for i := lead; i < len(head); i += 2 {
		groups = append(groups, head[i:i+2])
	}
	return strings.Join(append(groups, tail), ",")
}
