// Package core provides the billing domain types together with the markup,
// consumption and number formatting rules shared by every layer.
//
// Amounts and meter values are float64 throughout; rounding to cents only
// happens for display and when parsing user input.
package core

import (
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// MarkupRate is the fixed surcharge applied to every invoice before it is
// distributed.
const MarkupRate = 0.10

// Placeholder rendered for missing numbers.
const Placeholder = "—"

// WithMarkup applies MarkupRate to a base amount. No rounding is applied.
func WithMarkup(base float64) float64 {
	return base * (1 + MarkupRate)
}

// MarkupAmount returns the surcharge part of WithMarkup(base).
func MarkupAmount(base float64) float64 {
	return WithMarkup(base) - base
}

// SanitizeReading coerces negative and non-finite meter values to 0.
func SanitizeReading(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Consumption is the clamped difference between two meter values. A meter
// reset or a typo never yields negative consumption.
func Consumption(current, previous float64) float64 {
	d := SanitizeReading(current) - SanitizeReading(previous)
	if d < 0 {
		return 0
	}
	return d
}

// ParseAmount parses a positive monetary amount rounded to cents.
//
// Both "1234.56" and "1234,56" are accepted, as is the Belgian grouped form
// "1.234,56".
func ParseAmount(s string) (float64, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	return d.Round(2).InexactFloat64(), nil
}

// ParseReading parses a meter value from a form field. Empty, negative or
// non-numeric input yields 0.
func ParseReading(s string) float64 {
	d, err := parseDecimal(s)
	if err != nil {
		return 0
	}
	return SanitizeReading(d.InexactFloat64())
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if strings.Contains(s, ",") {
		// nl-BE: dot groups thousands, comma separates decimals
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}

// FormatAmount renders a euro amount with two decimals, e.g. "1.234,56".
func FormatAmount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	rounded := decimal.NewFromFloat(v).Round(2).InexactFloat64()
	return humanize.FormatFloat("#.###,##", rounded)
}

// FormatKwh renders a consumption with at most one decimal, e.g. "1.234,5"
// or "600".
func FormatKwh(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	d := decimal.NewFromFloat(v).Round(1)
	if d.Equal(d.Truncate(0)) {
		return humanize.FormatFloat("#.###,", d.InexactFloat64())
	}
	return humanize.FormatFloat("#.###,#", d.InexactFloat64())
}

// FormatPercent renders a percentage with one decimal, e.g. "33,3%".
func FormatPercent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Placeholder
	}
	rounded := decimal.NewFromFloat(v).Round(1).InexactFloat64()
	return humanize.FormatFloat("#.###,#", rounded) + "%"
}

// RoundCents rounds an amount to two decimals.
func RoundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
