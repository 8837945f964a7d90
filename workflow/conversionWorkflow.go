package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/shopspring/decimal"
)

// ConvertQuoteToOrder copies an Accepted quote into a new Draft order and marks the
// quote Converted. The order owns its lines; later quote changes never reach it.
func (e *Engine) ConvertQuoteToOrder(ctx context.Context, ref models.DocumentRef) (*models.SalesOrder, error) {
	var order *models.SalesOrder
	err := e.transition(ctx, "ConvertQuoteToOrder", []models.LockKey{quoteKey(ref.ID)}, func(ctx context.Context, tx models.Tx) error {
		q, err := tx.GetQuote(ref.ID)
		if err != nil {
			return err
		}
		if err := ref.CheckVersion(models.DocumentTypeQuote, q.Version); err != nil {
			return err
		}
		status := q.EffectiveStatus(e.now())
		if status != models.QuoteStatusAccepted {
			return fmt.Errorf("%w: quote %s is %s", models.ErrInvalidSourceStatus, q.ID, status)
		}
		next, err := models.QuoteStateMachine.Next(status, models.QuoteActionConvert)
		if err != nil {
			return err
		}

		orderID := uuid.NewString()
		lines := newOrderLines(orderID, q.Items())
		totals, err := models.ComputeTotals(q.Currency, q.Items())
		if err != nil {
			return err
		}
		if totals != q.Totals {
			return fmt.Errorf("quote %s totals %+v do not match its lines %+v", q.ID, q.Totals, totals)
		}
		number, err := e.nextNumber(ctx, tx, string(models.DocumentTypeSalesOrder), e.settings.OrderPrefix)
		if err != nil {
			return err
		}
		now := e.now()
		o := &models.SalesOrder{
			ID:            orderID,
			OrderNumber:   number,
			CustomerID:    q.CustomerID,
			Currency:      q.Currency,
			Status:        models.SalesOrderStatusDraft,
			ExchangeRate:  q.ExchangeRate,
			OriginQuoteID: q.ID,
			SalesRepID:    q.SalesRepID,
			Notes:         q.Notes,
			Totals:        totals,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
			Lines:         lines,
		}
		if err := tx.CreateSalesOrder(o); err != nil {
			return err
		}

		q.Status = next
		q.ConvertedOrderID = o.ID
		q.UpdatedAt = now
		if err := tx.UpdateQuote(q); err != nil {
			return err
		}

		err = tx.Enqueue(
			e.event(ctx, models.EventQuoteConverted, models.DocumentTypeQuote, q.ID, string(q.Status), totalsSnapshot(q.Totals)).
				With("order_id", o.ID),
			e.event(ctx, models.EventOrderCreated, models.DocumentTypeSalesOrder, o.ID, string(o.Status), totalsSnapshot(o.Totals)).
				With("order_number", o.OrderNumber).
				With("origin_quote_id", q.ID),
		)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

type invoicePick struct {
	line *models.SalesOrderLine
	qty  decimal.Decimal
}

// InvoiceOrder creates a Draft invoice for the requested order line quantities.
// An empty request invoices everything still invoiceable.
func (e *Engine) InvoiceOrder(ctx context.Context, ref models.DocumentRef, req []models.InvoiceLineRequest) (*models.SalesInvoice, error) {
	for _, r := range req {
		if err := utils.ValidateStruct(r); err != nil {
			return nil, err
		}
	}
	var invoice *models.SalesInvoice
	err := e.transition(ctx, "InvoiceOrder", []models.LockKey{orderKey(ref.ID)}, func(ctx context.Context, tx models.Tx) error {
		o, err := tx.GetSalesOrder(ref.ID)
		if err != nil {
			return err
		}
		if err := ref.CheckVersion(models.DocumentTypeSalesOrder, o.Version); err != nil {
			return err
		}
		if !models.SalesOrderStateMachine.Can(o.Status, models.SalesOrderActionInvoice) {
			return fmt.Errorf("%w: order %s is %s", models.ErrInvalidSourceStatus, o.ID, o.Status)
		}
		next, err := models.SalesOrderStateMachine.Next(o.Status, models.SalesOrderActionInvoice)
		if err != nil {
			return err
		}
		picks, err := e.pickInvoiceLines(o, req)
		if err != nil {
			return err
		}
		customer, err := tx.GetCustomer(o.CustomerID)
		if err != nil {
			return err
		}

		invoiceID := uuid.NewString()
		lines := make([]models.SalesInvoiceLine, len(picks))
		items := make([]models.LineItem, len(picks))
		for i, p := range picks {
			item := p.line.LineItem
			item.Quantity = p.qty
			items[i] = item
			lines[i] = models.SalesInvoiceLine{
				ID:             uuid.NewString(),
				SalesInvoiceID: invoiceID,
				OrderLineID:    p.line.ID,
				SortOrder:      i + 1,
				LineItem:       item,
			}
		}
		if _, err := models.ComputeTotals(o.Currency, items); err != nil {
			return err
		}
		for _, p := range picks {
			p.line.InvoicedQty = p.line.InvoicedQty.Add(p.qty)
		}
		// Bill the growth of the order's cumulative totals so rounding never
		// lets the invoices drift from the order.
		billed, err := models.ComputeTotals(o.Currency, o.InvoicedItems())
		if err != nil {
			return err
		}
		totals := billed.Minus(o.InvoicedTotals)
		o.InvoicedTotals = billed

		number, err := e.nextNumber(ctx, tx, string(models.DocumentTypeInvoice), e.settings.InvoicePrefix)
		if err != nil {
			return err
		}
		now := e.now()
		inv := &models.SalesInvoice{
			ID:            invoiceID,
			InvoiceNumber: number,
			CustomerID:    o.CustomerID,
			Currency:      o.Currency,
			ExchangeRate:  o.ExchangeRate,
			OrderID:       o.ID,
			SalesRepID:    o.SalesRepID,
			IssueDate:     now,
			DueDate:       now.AddDate(0, 0, e.paymentTerms(customer)),
			AmountPaid:    utils.ZeroMoney(o.Currency),
			Totals:        totals,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
			Lines:         lines,
		}
		inv.Status = inv.BaseStatus()

		o.Status = next
		o.UpdatedAt = now
		if err := tx.UpdateSalesOrder(o); err != nil {
			return err
		}
		if err := tx.CreateSalesInvoice(inv); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventInvoiceCreated, models.DocumentTypeInvoice, inv.ID, string(inv.Status), totalsSnapshot(inv.Totals)).
			With("invoice_number", inv.InvoiceNumber).
			With("order_id", o.ID).
			With("due_date", inv.DueDate.UTC())
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// invoiceable is what a line may still be billed for: ordered minus invoiced, or
// shipped minus invoiced when invoicing follows shipment.
func (e *Engine) invoiceable(l *models.SalesOrderLine) decimal.Decimal {
	if e.settings.InvoiceRequiresShipment {
		return l.ShippedQty.Sub(l.InvoicedQty)
	}
	return l.RemainingToInvoice()
}

func (e *Engine) pickInvoiceLines(o *models.SalesOrder, req []models.InvoiceLineRequest) ([]invoicePick, error) {
	var picks []invoicePick
	if len(req) == 0 {
		for i := range o.Lines {
			l := &o.Lines[i]
			if qty := e.invoiceable(l); qty.IsPositive() {
				picks = append(picks, invoicePick{line: l, qty: qty})
			}
		}
		if len(picks) == 0 {
			return nil, fmt.Errorf("%w: order %s has nothing left to invoice", models.ErrOverInvoice, o.ID)
		}
		return picks, nil
	}

	seen := make(map[string]bool, len(req))
	for _, r := range req {
		l := o.Line(r.OrderLineID)
		if l == nil {
			return nil, fmt.Errorf("%w: order %s has no line %s", models.ErrInvalidInput, o.ID, r.OrderLineID)
		}
		if seen[l.ID] {
			return nil, fmt.Errorf("%w: order line %s requested twice", models.ErrInvalidInput, l.ID)
		}
		seen[l.ID] = true
		if !r.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity %s must be > 0", models.ErrInvalidQuantity, r.Quantity)
		}
		if limit := e.invoiceable(l); r.Quantity.GreaterThan(limit) {
			return nil, fmt.Errorf("%w: line %s requested %s, %s invoiceable", models.ErrOverInvoice, l.ID, r.Quantity, limit)
		}
		picks = append(picks, invoicePick{line: l, qty: r.Quantity})
	}
	return picks, nil
}
