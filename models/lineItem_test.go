package models_test

import (
	"testing"

	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(qty string, unitMinor int64, currency string, taxPercent string) models.LineItem {
	return models.LineItem{
		Quantity:  decimal.RequireFromString(qty),
		UnitPrice: utils.NewMoney(unitMinor, currency),
		TaxRate:   decimal.RequireFromString(taxPercent),
	}
}

func TestComputeTotals_TwoLineQuote(t *testing.T) {
	lines := []models.LineItem{
		line("3", 1000, "USD", "10"),
		line("1", 5000, "USD", "0"),
	}

	totals, err := models.ComputeTotals("USD", lines)
	require.NoError(t, err)
	assert.Equal(t, models.Totals{
		Currency:      "USD",
		Subtotal:      8000,
		DiscountTotal: 0,
		TaxTotal:      300,
		GrandTotal:    8300,
	}, totals)
}

func TestComputeTotals_IdempotentAndOrderIndependent(t *testing.T) {
	lines := []models.LineItem{
		line("2.5", 1999, "USD", "7.25"),
		line("1", 333, "USD", "0"),
		line("0.75", 12345, "USD", "19"),
	}
	lines[1].DiscountPercent = decimal.RequireFromString("12.5")

	first, err := models.ComputeTotals("USD", lines)
	require.NoError(t, err)
	second, err := models.ComputeTotals("USD", lines)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	reversed := []models.LineItem{lines[2], lines[1], lines[0]}
	third, err := models.ComputeTotals("usd", reversed)
	require.NoError(t, err)
	assert.Equal(t, first, third)

	assert.Equal(t, first.Subtotal-first.DiscountTotal+first.TaxTotal, first.GrandTotal)
}

func TestComputeTotals_DiscountBeforeTax(t *testing.T) {
	l := line("1", 1000, "USD", "10")
	l.DiscountPercent = decimal.NewFromInt(15)

	totals, err := models.ComputeTotals("USD", []models.LineItem{l})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), totals.Subtotal)
	assert.Equal(t, int64(150), totals.DiscountTotal)
	assert.Equal(t, int64(85), totals.TaxTotal)
	assert.Equal(t, int64(935), totals.GrandTotal)
	assert.Equal(t, utils.NewMoney(850, "USD"), totals.PreTax())
}

func TestComputeTotals_RoundsOnceAtTheTotal(t *testing.T) {
	// Each line is half a cent; rounding per line would give 3 cents.
	lines := []models.LineItem{
		line("0.5", 1, "USD", "0"),
		line("0.5", 1, "USD", "0"),
		line("0.5", 1, "USD", "0"),
	}
	totals, err := models.ComputeTotals("USD", lines)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Subtotal)
	assert.Equal(t, int64(2), totals.GrandTotal)
}

func TestComputeTotals_ZeroDecimalCurrency(t *testing.T) {
	totals, err := models.ComputeTotals("JPY", []models.LineItem{line("3", 333, "JPY", "10")})
	require.NoError(t, err)
	assert.Equal(t, int64(999), totals.Subtotal)
	assert.Equal(t, int64(100), totals.TaxTotal)
	assert.Equal(t, int64(1099), totals.GrandTotal)
}

func TestComputeTotals_EmptyDocumentIsZero(t *testing.T) {
	totals, err := models.ComputeTotals("EUR", nil)
	require.NoError(t, err)
	assert.Equal(t, models.Totals{Currency: "EUR"}, totals)
}

func TestComputeTotals_RejectsBadLines(t *testing.T) {
	zeroQty := line("0", 1000, "USD", "0")
	_, err := models.ComputeTotals("USD", []models.LineItem{zeroQty})
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = models.ComputeTotals("USD", []models.LineItem{line("1", 1000, "EUR", "0")})
	assert.ErrorIs(t, err, models.ErrCurrencyMismatch)

	overDiscount := line("1", 1000, "USD", "0")
	overDiscount.DiscountPercent = decimal.NewFromInt(120)
	_, err = models.ComputeTotals("USD", []models.LineItem{overDiscount})
	assert.ErrorIs(t, err, models.ErrInvalidDiscount)

	negative := line("1", -5, "USD", "0")
	_, err = models.ComputeTotals("USD", []models.LineItem{negative})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = models.ComputeTotals("U$D", nil)
	assert.ErrorIs(t, err, utils.ErrInvalidCurrency)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}
