package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrInvalidDiscount  = errors.New("invalid discount")
)

// Money is an amount in minor units of an ISO 4217 currency.
type Money struct {
	Amount   int64  `gorm:"not null;default:0" json:"amount"`
	Currency string `gorm:"size:3;not null" json:"currency"`
}

func NewMoney(amount int64, code string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(code)}
}

func ZeroMoney(code string) Money {
	return NewMoney(0, code)
}

// ValidateCurrency reports ErrInvalidCurrency unless code is a known ISO 4217 code.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return nil
}

// CurrencyScale is the number of minor-unit digits (USD 2, JPY 0, KWD 3).
func CurrencyScale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// RoundMoney rounds an exact major-unit amount half-up to the currency's minor units.
// Values are rounded half away from zero, which is half-up for the non-negative totals we produce.
func RoundMoney(exact decimal.Decimal, code string) Money {
	scale := CurrencyScale(code)
	minor := exact.Round(scale).Shift(scale).IntPart()
	return NewMoney(minor, code)
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -CurrencyScale(m.Currency))
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

func (m Money) SameCurrency(o Money) bool {
	return strings.EqualFold(m.Currency, o.Currency)
}

func (m Money) Add(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return NewMoney(m.Amount+o.Amount, m.Currency), nil
}

func (m Money) Sub(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return NewMoney(m.Amount-o.Amount, m.Currency), nil
}

// Cmp returns -1, 0 or 1; amounts in different currencies are not comparable.
func (m Money) Cmp(o Money) (int, error) {
	if !m.SameCurrency(o) {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	switch {
	case m.Amount < o.Amount:
		return -1, nil
	case m.Amount > o.Amount:
		return 1, nil
	}
	return 0, nil
}

// MulQty returns the exact major-unit product; callers round once at the final total.
func (m Money) MulQty(qty decimal.Decimal) decimal.Decimal {
	return m.Decimal().Mul(qty)
}

// ApplyTax returns the tax on m at ratePercent, rounded to minor units.
func (m Money) ApplyTax(ratePercent decimal.Decimal) Money {
	return RoundMoney(CalculateTaxAmount(m.Decimal(), ratePercent), m.Currency)
}

// ApplyDiscount returns the amount taken off m at percent, rounded to minor units.
func (m Money) ApplyDiscount(percent decimal.Decimal) (Money, error) {
	d, err := CalculateDiscountAmount(m.Decimal(), percent)
	if err != nil {
		return Money{}, err
	}
	return RoundMoney(d, m.Currency), nil
}

// Convert applies an already resolved exchange rate (1 m.Currency = rate target).
func (m Money) Convert(rate decimal.Decimal, target string) Money {
	if m.SameCurrency(NewMoney(0, target)) {
		return m
	}
	return RoundMoney(m.Decimal().Mul(rate), target)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(CurrencyScale(m.Currency)) + " " + m.Currency
}
