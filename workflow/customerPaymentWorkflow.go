package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
)

// RecordPayment stores money received from a customer without settling any invoice.
// The caller supplied id is the idempotency key: recording it twice fails with
// ErrDuplicatePayment.
func (e *Engine) RecordPayment(ctx context.Context, input models.NewCustomerPayment) (*models.CustomerPayment, error) {
	if err := validatePaymentInput(input); err != nil {
		return nil, err
	}
	var payment *models.CustomerPayment
	err := e.transition(ctx, "RecordPayment", []models.LockKey{paymentKey(input.ID)}, func(ctx context.Context, tx models.Tx) error {
		p, err := e.recordPayment(ctx, tx, input)
		payment = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// ApplyPayment settles a Recorded payment against invoices. Allocations must sum
// to the payment amount exactly and no invoice may be paid past its grand total.
// Applying the same payment twice fails with ErrDuplicatePayment.
func (e *Engine) ApplyPayment(ctx context.Context, ref models.DocumentRef, allocations []models.PaymentAllocation) (*models.CustomerPayment, error) {
	if err := validateAllocations(allocations); err != nil {
		return nil, err
	}
	var payment *models.CustomerPayment
	err := e.transition(ctx, "ApplyPayment", e.settlementKeys(ref.ID, allocationInvoiceIDs(allocations)), func(ctx context.Context, tx models.Tx) error {
		p, err := tx.GetPayment(ref.ID)
		if err != nil {
			return err
		}
		if err := ref.CheckVersion(models.DocumentTypePayment, p.Version); err != nil {
			return err
		}
		if err := e.applyPayment(ctx, tx, p, allocations); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// ReceivePayment records and applies a payment in one transition.
func (e *Engine) ReceivePayment(ctx context.Context, input models.NewCustomerPayment, allocations []models.PaymentAllocation) (*models.CustomerPayment, error) {
	if err := validatePaymentInput(input); err != nil {
		return nil, err
	}
	if err := validateAllocations(allocations); err != nil {
		return nil, err
	}
	var payment *models.CustomerPayment
	err := e.transition(ctx, "ReceivePayment", e.settlementKeys(input.ID, allocationInvoiceIDs(allocations)), func(ctx context.Context, tx models.Tx) error {
		p, err := e.recordPayment(ctx, tx, input)
		if err != nil {
			return err
		}
		if err := e.applyPayment(ctx, tx, p, allocations); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// RefundPayment returns part or all of an applied payment. The refund is taken
// from the payment's applications in reverse order, reopening the invoices it
// had settled.
func (e *Engine) RefundPayment(ctx context.Context, ref models.DocumentRef, amount utils.Money) (*models.CustomerPayment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund %s must be > 0", models.ErrInvalidAmount, amount)
	}
	current, err := e.GetPayment(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	invoiceIDs := current.InvoiceIDs()

	var payment *models.CustomerPayment
	err = e.transition(ctx, "RefundPayment", e.settlementKeys(ref.ID, invoiceIDs), func(ctx context.Context, tx models.Tx) error {
		p, err := tx.GetPayment(ref.ID)
		if err != nil {
			return err
		}
		if err := ref.CheckVersion(models.DocumentTypePayment, p.Version); err != nil {
			return err
		}
		if !sameIDs(p.InvoiceIDs(), invoiceIDs) {
			return fmt.Errorf("%w: payment %s was applied concurrently", models.ErrConcurrentModification, p.ID)
		}
		if !strings.EqualFold(amount.Currency, p.Amount.Currency) {
			return fmt.Errorf("%w: refund in %s on %s payment", models.ErrCurrencyMismatch, amount.Currency, p.Amount.Currency)
		}
		if amount.Amount > p.Refundable() {
			return fmt.Errorf("%w: refund %s, refundable %s", models.ErrRefundExceedsPayment, amount, utils.NewMoney(p.Refundable(), p.Amount.Currency))
		}
		action := models.PaymentActionRefundPartial
		if p.RefundedAmount+amount.Amount == p.AppliedAmount() {
			action = models.PaymentActionRefundFull
		}
		next, err := models.PaymentStateMachine.Next(p.Status, action)
		if err != nil {
			return err
		}

		now := e.now()
		remaining := amount.Amount
		var touched []*models.SalesInvoice
		for i := len(p.Applications) - 1; i >= 0 && remaining > 0; i-- {
			app := &p.Applications[i]
			take := min(remaining, app.Net())
			if take <= 0 {
				continue
			}
			inv, err := tx.GetSalesInvoice(app.InvoiceID)
			if err != nil {
				return err
			}
			paid := inv.AmountPaid.Amount - take
			invAction := models.SalesInvoiceActionRefundPartial
			if paid == 0 {
				invAction = models.SalesInvoiceActionRefundFull
			}
			invNext, err := models.SalesInvoiceStateMachine.Next(inv.BaseStatus(), invAction)
			if err != nil {
				return err
			}
			inv.AmountPaid = utils.NewMoney(paid, inv.Currency)
			inv.Status = invNext
			inv.UpdatedAt = now
			if err := tx.UpdateSalesInvoice(inv); err != nil {
				return err
			}
			app.RefundedAmount += take
			remaining -= take
			touched = append(touched, inv)
		}

		p.RefundedAmount += amount.Amount
		p.Status = next
		p.UpdatedAt = now
		if err := tx.UpdatePayment(p); err != nil {
			return err
		}
		ids := make([]string, len(touched))
		for i, inv := range touched {
			ids[i] = inv.ID
		}
		ev := e.event(ctx, models.EventPaymentRefunded, models.DocumentTypePayment, p.ID, string(p.Status), nil).
			With("customer_id", p.CustomerID).
			With("amount", amount).
			With("invoice_ids", ids)
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		for _, inv := range touched {
			if _, err := e.syncCommission(ctx, tx, invoiceBasis(inv), false); err != nil {
				return err
			}
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (e *Engine) GetPayment(ctx context.Context, id string) (*models.CustomerPayment, error) {
	var payment *models.CustomerPayment
	err := e.view(ctx, func(tx models.Tx) error {
		p, err := tx.GetPayment(id)
		payment = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (e *Engine) recordPayment(ctx context.Context, tx models.Tx, input models.NewCustomerPayment) (*models.CustomerPayment, error) {
	if _, err := tx.GetPayment(input.ID); err == nil {
		return nil, fmt.Errorf("%w: payment %s already recorded", models.ErrDuplicatePayment, input.ID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	customer, err := tx.GetCustomer(input.CustomerID)
	if err != nil {
		return nil, err
	}
	number, err := e.nextNumber(ctx, tx, string(models.DocumentTypePayment), e.settings.PaymentPrefix)
	if err != nil {
		return nil, err
	}
	now := e.now()
	received := input.ReceivedAt
	if received.IsZero() {
		received = now
	}
	p := &models.CustomerPayment{
		ID:            input.ID,
		PaymentNumber: number,
		CustomerID:    customer.ID,
		Amount:        utils.NewMoney(input.Amount.Amount, input.Amount.Currency),
		Method:        input.Method,
		Reference:     input.Reference,
		ReceivedAt:    received,
		Status:        models.PaymentStatusRecorded,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreatePayment(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) applyPayment(ctx context.Context, tx models.Tx, p *models.CustomerPayment, allocations []models.PaymentAllocation) error {
	if p.Status != models.PaymentStatusRecorded {
		return fmt.Errorf("%w: payment %s is already %s", models.ErrDuplicatePayment, p.ID, p.Status)
	}
	var sum int64
	for _, a := range allocations {
		if !strings.EqualFold(a.Amount.Currency, p.Amount.Currency) {
			return fmt.Errorf("%w: allocation in %s on %s payment", models.ErrCurrencyMismatch, a.Amount.Currency, p.Amount.Currency)
		}
		sum += a.Amount.Amount
	}
	if sum != p.Amount.Amount {
		return fmt.Errorf("%w: allocations %s, payment %s", models.ErrAllocationMismatch, utils.NewMoney(sum, p.Amount.Currency), p.Amount)
	}

	now := e.now()
	var paid []*models.SalesInvoice
	for i, a := range allocations {
		inv, err := tx.GetSalesInvoice(a.InvoiceID)
		if err != nil {
			return err
		}
		if inv.CustomerID != p.CustomerID {
			return fmt.Errorf("%w: invoice %s belongs to customer %s", models.ErrCustomerMismatch, inv.ID, inv.CustomerID)
		}
		if !strings.EqualFold(inv.Currency, p.Amount.Currency) {
			return fmt.Errorf("%w: invoice %s in %s", models.ErrCurrencyMismatch, inv.ID, inv.Currency)
		}
		newPaid := inv.AmountPaid.Amount + a.Amount.Amount
		if newPaid > inv.Totals.GrandTotal {
			return fmt.Errorf("%w: invoice %s outstanding %s, allocated %s", models.ErrOverPayment, inv.ID, inv.Outstanding(), a.Amount)
		}
		action := models.SalesInvoiceActionPayPartial
		if newPaid == inv.Totals.GrandTotal {
			action = models.SalesInvoiceActionPayFull
		}
		next, err := models.SalesInvoiceStateMachine.Next(inv.BaseStatus(), action)
		if err != nil {
			return err
		}
		inv.AmountPaid = utils.NewMoney(newPaid, inv.Currency)
		inv.Status = next
		inv.UpdatedAt = now
		if err := tx.UpdateSalesInvoice(inv); err != nil {
			return err
		}
		p.Applications = append(p.Applications, models.PaymentApplication{
			ID:        uuid.NewString(),
			PaymentID: p.ID,
			InvoiceID: inv.ID,
			Sequence:  i + 1,
			Amount:    a.Amount.Amount,
		})
		if next == models.SalesInvoiceStatusPaid {
			paid = append(paid, inv)
		}
	}

	next, err := models.PaymentStateMachine.Next(p.Status, models.PaymentActionApply)
	if err != nil {
		return err
	}
	p.Status = next
	p.UpdatedAt = now
	if err := tx.UpdatePayment(p); err != nil {
		return err
	}

	events := []models.Event{
		e.event(ctx, models.EventPaymentReceived, models.DocumentTypePayment, p.ID, string(p.Status), nil).
			With("customer_id", p.CustomerID).
			With("amount", p.Amount).
			With("invoice_ids", p.InvoiceIDs()),
	}
	for _, inv := range paid {
		events = append(events, e.event(ctx, models.EventInvoicePaid, models.DocumentTypeInvoice, inv.ID, string(inv.Status), totalsSnapshot(inv.Totals)).
			With("payment_id", p.ID))
	}
	if err := tx.Enqueue(events...); err != nil {
		return err
	}
	if e.settings.CommissionTrigger == config.CommissionOnInvoicePaid {
		for _, inv := range paid {
			if _, err := e.syncCommission(ctx, tx, invoiceBasis(inv), true); err != nil {
				return err
			}
		}
	}
	return nil
}

// settlementKeys locks the invoices, then the payment, then each invoice's commission.
func (e *Engine) settlementKeys(paymentID string, invoiceIDs []string) []models.LockKey {
	keys := make([]models.LockKey, 0, 2*len(invoiceIDs)+1)
	keys = append(keys, paymentKey(paymentID))
	for _, id := range invoiceIDs {
		keys = append(keys, invoiceKey(id), invoiceSource(id).LockKey())
	}
	return keys
}

func validatePaymentInput(input models.NewCustomerPayment) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Method.IsValid() {
		return fmt.Errorf("%w: payment method %q", models.ErrInvalidInput, input.Method)
	}
	if err := utils.ValidateCurrency(input.Amount.Currency); err != nil {
		return err
	}
	if !input.Amount.IsPositive() {
		return fmt.Errorf("%w: payment %s must be > 0", models.ErrInvalidAmount, input.Amount)
	}
	return nil
}

func validateAllocations(allocations []models.PaymentAllocation) error {
	if len(allocations) == 0 {
		return fmt.Errorf("%w: payment has no allocations", models.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(allocations))
	for _, a := range allocations {
		if err := utils.ValidateStruct(a); err != nil {
			return err
		}
		if seen[a.InvoiceID] {
			return fmt.Errorf("%w: invoice %s allocated twice", models.ErrInvalidInput, a.InvoiceID)
		}
		seen[a.InvoiceID] = true
		if !a.Amount.IsPositive() {
			return fmt.Errorf("%w: allocation %s must be > 0", models.ErrInvalidAmount, a.Amount)
		}
	}
	return nil
}

func allocationInvoiceIDs(allocations []models.PaymentAllocation) []string {
	ids := make([]string, len(allocations))
	for i, a := range allocations {
		ids[i] = a.InvoiceID
	}
	return ids
}

func sameIDs(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
