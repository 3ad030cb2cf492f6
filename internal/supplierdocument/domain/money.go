package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places every money column keeps.
const MoneyScale = 4

// FitsScale reports whether amount is stored exactly at MoneyScale.
// Trailing zeros past the scale are fine.
func FitsScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(MoneyScale))
}
