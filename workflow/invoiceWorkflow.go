package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/sales_backend/models"
	"github.com/shopspring/decimal"
)

// SendInvoice issues a Draft invoice to the customer. Only sent invoices accept payments.
func (e *Engine) SendInvoice(ctx context.Context, ref models.DocumentRef) (*models.SalesInvoice, error) {
	var invoice *models.SalesInvoice
	err := e.transition(ctx, "SendInvoice", []models.LockKey{invoiceKey(ref.ID)}, func(ctx context.Context, tx models.Tx) error {
		inv, err := e.loadInvoice(tx, ref)
		if err != nil {
			return err
		}
		next, err := models.SalesInvoiceStateMachine.Next(inv.BaseStatus(), models.SalesInvoiceActionSend)
		if err != nil {
			return err
		}
		now := e.now()
		inv.SentAt = &now
		inv.UpdatedAt = now
		if inv.Status = inv.BaseStatus(); inv.Status != next && inv.Status != models.SalesInvoiceStatusPaid {
			return fmt.Errorf("invoice %s derived %s after send, expected %s", inv.ID, inv.Status, next)
		}
		if err := tx.UpdateSalesInvoice(inv); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventInvoiceSent, models.DocumentTypeInvoice, inv.ID, string(inv.Status), totalsSnapshot(inv.Totals)).
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

// VoidInvoice cancels an invoice with nothing paid on it. The voided quantities
// become invoiceable again on the order and any commission on the invoice drops to zero.
func (e *Engine) VoidInvoice(ctx context.Context, ref models.DocumentRef) (*models.SalesInvoice, error) {
	current, err := e.GetInvoice(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	keys := []models.LockKey{invoiceKey(ref.ID), invoiceSource(ref.ID).LockKey()}
	if current.OrderID != "" {
		keys = append(keys, orderKey(current.OrderID))
	}

	var invoice *models.SalesInvoice
	err = e.transition(ctx, "VoidInvoice", keys, func(ctx context.Context, tx models.Tx) error {
		inv, err := e.loadInvoice(tx, ref)
		if err != nil {
			return err
		}
		if inv.OrderID != current.OrderID {
			return fmt.Errorf("%w: invoice %s moved to another order", models.ErrConcurrentModification, inv.ID)
		}
		next, err := models.SalesInvoiceStateMachine.Next(inv.BaseStatus(), models.SalesInvoiceActionVoid)
		if err != nil {
			return err
		}
		if inv.AmountPaid.IsPositive() {
			return fmt.Errorf("%w: invoice %s has %s applied", models.ErrCannotVoidPaidInvoice, inv.ID, inv.AmountPaid)
		}

		now := e.now()
		if inv.OrderID != "" {
			o, err := tx.GetSalesOrder(inv.OrderID)
			if err != nil {
				return err
			}
			for _, l := range inv.Lines {
				ol := o.Line(l.OrderLineID)
				if ol == nil {
					continue
				}
				ol.InvoicedQty = decimal.Max(ol.InvoicedQty.Sub(l.Quantity), decimal.Zero)
			}
			o.InvoicedTotals = o.InvoicedTotals.Minus(inv.Totals)
			o.UpdatedAt = now
			if err := tx.UpdateSalesOrder(o); err != nil {
				return err
			}
		}

		inv.Voided = true
		inv.VoidedAt = &now
		inv.UpdatedAt = now
		inv.Status = next
		if err := tx.UpdateSalesInvoice(inv); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventInvoiceVoided, models.DocumentTypeInvoice, inv.ID, string(inv.Status), totalsSnapshot(inv.Totals))
		if inv.OrderID != "" {
			ev = ev.With("order_id", inv.OrderID)
		}
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		if _, err := e.syncCommission(ctx, tx, invoiceBasis(inv), false); err != nil {
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

// GetInvoice returns the invoice with its effective status, including Overdue.
func (e *Engine) GetInvoice(ctx context.Context, id string) (*models.SalesInvoice, error) {
	var invoice *models.SalesInvoice
	err := e.view(ctx, func(tx models.Tx) error {
		inv, err := tx.GetSalesInvoice(id)
		if err != nil {
			return err
		}
		inv.Status = inv.EffectiveStatus(e.now())
		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (e *Engine) loadInvoice(tx models.Tx, ref models.DocumentRef) (*models.SalesInvoice, error) {
	inv, err := tx.GetSalesInvoice(ref.ID)
	if err != nil {
		return nil, err
	}
	if err := ref.CheckVersion(models.DocumentTypeInvoice, inv.Version); err != nil {
		return nil, err
	}
	return inv, nil
}
