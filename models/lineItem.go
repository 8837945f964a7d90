package models

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/shopspring/decimal"
)

// LineItem is the priced part shared by quote, order and invoice lines.
// TaxRate is the already resolved rate for TaxCode, in percent.
type LineItem struct {
	ProductID       string          `gorm:"size:64;index" json:"product_id" validate:"max=64"`
	Description     string          `gorm:"size:255" json:"description" validate:"max=255"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice       utils.Money     `gorm:"embedded;embeddedPrefix:unit_price_" json:"unit_price"`
	DiscountPercent decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"discount_percent"`
	TaxCode         string          `gorm:"size:32" json:"tax_code" validate:"max=32"`
	TaxRate         decimal.Decimal `gorm:"type:decimal(7,4);default:0" json:"tax_rate"`
}

// Totals are stored alongside each document. Quote and order totals always equal
// ComputeTotals of their lines. Invoice totals are the order's cumulative billed
// totals after the invoice minus those before it, so the invoices of a fully
// invoiced order add up to the order exactly.
type Totals struct {
	Currency      string `gorm:"size:3" json:"currency"`
	Subtotal      int64  `gorm:"default:0" json:"subtotal"`
	DiscountTotal int64  `gorm:"default:0" json:"discount_total"`
	TaxTotal      int64  `gorm:"default:0" json:"tax_total"`
	GrandTotal    int64  `gorm:"default:0" json:"grand_total"`
}

func (t Totals) Grand() utils.Money    { return utils.NewMoney(t.GrandTotal, t.Currency) }
func (t Totals) Tax() utils.Money      { return utils.NewMoney(t.TaxTotal, t.Currency) }
func (t Totals) PreTax() utils.Money   { return utils.NewMoney(t.GrandTotal-t.TaxTotal, t.Currency) }
func (t Totals) Sub() utils.Money      { return utils.NewMoney(t.Subtotal, t.Currency) }
func (t Totals) Discount() utils.Money { return utils.NewMoney(t.DiscountTotal, t.Currency) }

// Minus subtracts o part by part; the grand total is rederived from the parts.
func (t Totals) Minus(o Totals) Totals {
	r := Totals{
		Currency:      t.Currency,
		Subtotal:      t.Subtotal - o.Subtotal,
		DiscountTotal: t.DiscountTotal - o.DiscountTotal,
		TaxTotal:      t.TaxTotal - o.TaxTotal,
	}
	r.GrandTotal = r.Subtotal - r.DiscountTotal + r.TaxTotal
	return r
}

func (l LineItem) validate(currency string) error {
	if !l.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s must be > 0", ErrInvalidQuantity, l.Quantity)
	}
	if !strings.EqualFold(l.UnitPrice.Currency, currency) {
		return fmt.Errorf("%w: line in %s on %s document", ErrCurrencyMismatch, l.UnitPrice.Currency, currency)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price %s is negative", ErrInvalidAmount, l.UnitPrice)
	}
	if l.TaxRate.IsNegative() {
		return fmt.Errorf("%w: tax rate %s is negative", ErrInvalidAmount, l.TaxRate)
	}
	return utils.ValidateDiscountPercent(l.DiscountPercent)
}

// ComputeTotals sums lines exactly and rounds subtotal, discount and tax once each.
// The grand total is derived from the rounded parts so the identity holds to the minor unit.
func ComputeTotals(currency string, lines []LineItem) (Totals, error) {
	currency = strings.ToUpper(currency)
	if err := utils.ValidateCurrency(currency); err != nil {
		return Totals{}, err
	}
	subtotal, discount, tax := decimal.Zero, decimal.Zero, decimal.Zero
	for i, l := range lines {
		if err := l.validate(currency); err != nil {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		lineSubtotal := l.UnitPrice.MulQty(l.Quantity)
		lineDiscount, err := utils.CalculateDiscountAmount(lineSubtotal, l.DiscountPercent)
		if err != nil {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		subtotal = subtotal.Add(lineSubtotal)
		discount = discount.Add(lineDiscount)
		tax = tax.Add(utils.CalculateTaxAmount(lineSubtotal.Sub(lineDiscount), l.TaxRate))
	}

	t := Totals{
		Currency:      currency,
		Subtotal:      utils.RoundMoney(subtotal, currency).Amount,
		DiscountTotal: utils.RoundMoney(discount, currency).Amount,
		TaxTotal:      utils.RoundMoney(tax, currency).Amount,
	}
	t.GrandTotal = t.Subtotal - t.DiscountTotal + t.TaxTotal
	return t, nil
}
