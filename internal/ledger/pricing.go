package ledger

import (
	"math"
	"strconv"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"genorch/internal/domain"
)

// Pricing is the pay-per-use price list in minor units of a single currency.
type Pricing struct {
	Currency string
	Prices   map[domain.AddonKind]int64
}

// Price returns the price of one addon of kind.
func (p Pricing) Price(kind domain.AddonKind) (int64, bool) {
	v, ok := p.Prices[kind]
	return v, ok && v > 0
}

// FormatPrice renders a minor-unit amount for display in the given locale, for example
// "IDR 15,000" or "$1.50". Unknown currency codes fall back to "<amount> <code>".
func FormatPrice(amount int64, code string, tag language.Tag) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return strconv.FormatInt(amount, 10) + " " + code
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(amount) / math.Pow10(scale)
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(major)))
}
