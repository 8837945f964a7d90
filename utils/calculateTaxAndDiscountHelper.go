package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var decimalOneHundred = decimal.NewFromInt(100)

// CalculateTaxAmount is exclusive tax: (amount * ratePercent) / 100, unrounded.
func CalculateTaxAmount(amount decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(ratePercent).Div(decimalOneHundred)
}

// CalculateDiscountAmount is the percentage discount on subTotal, unrounded.
func CalculateDiscountAmount(subTotal decimal.Decimal, percent decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateDiscountPercent(percent); err != nil {
		return decimal.Zero, err
	}
	if percent.IsZero() {
		return decimal.Zero, nil
	}
	return subTotal.Mul(percent).Div(decimalOneHundred), nil
}

func ValidateDiscountPercent(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(decimalOneHundred) {
		return fmt.Errorf("%w: %s%% not in [0,100]", ErrInvalidDiscount, percent)
	}
	return nil
}
