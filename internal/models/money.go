package mxm

import "github.com/shopspring/decimal"

// ToCents converts a yuan amount into the integer cents the gateway expects.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromCents is the inverse of ToCents.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// RoundMoney rounds half-up to two decimal places.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
