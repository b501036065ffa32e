package models

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in the smallest currency unit.
type Amount int64

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// AmountFromDecimal converts a major-unit decimal into minor units using scale decimal places.
func AmountFromDecimal(d decimal.Decimal, scale int32) (Amount, error) {
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), scale)
	}
	if shifted.IsNegative() || shifted.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return Amount(shifted.IntPart()), nil
}

// Decimal returns the amount in major units.
func (a Amount) Decimal(scale int32) decimal.Decimal {
	return decimal.New(int64(a), -scale)
}

// Format renders the amount with exactly scale decimal places.
func (a Amount) Format(scale int32) string {
	return a.Decimal(scale).StringFixed(scale)
}
