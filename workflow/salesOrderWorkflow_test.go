package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/mmdatafocus/sales_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestCreateOrder_WithoutQuote(t *testing.T) {
	f := newFixture(t)

	o, err := f.engine.CreateOrder(f.ctx, models.NewSalesOrder{CustomerID: f.customer.ID, Lines: quoteLines()})
	require.NoError(t, err)
	assert.Equal(t, models.SalesOrderStatusDraft, o.Status)
	assert.Empty(t, o.OriginQuoteID)
	assert.Equal(t, int64(8300), o.Totals.GrandTotal)

	revised, err := f.engine.ReviseOrder(f.ctx, models.Ref(o.ID, o.Version), quoteLines()[1:])
	require.NoError(t, err)
	assert.Equal(t, int64(5000), revised.Totals.GrandTotal)
}

func TestConfirmOrder_ReservesStock(t *testing.T) {
	f := newFixture(t)
	f.stock.SetOnHand("widget", qty(10))
	o := f.draftOrder()

	confirmed, err := f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, o.Version))
	require.NoError(t, err)
	assert.Equal(t, models.SalesOrderStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.True(t, f.stock.Available("widget").Equal(qty(7)))
	assert.Len(t, f.stock.Reservations(o.ID), 2)
	for _, l := range confirmed.Lines {
		assert.NotEmpty(t, l.ReservationID)
	}
	assert.Len(t, f.eventsOf(models.EventOrderConfirmed), 1)

	_, err = f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, 0))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestConfirmOrder_InsufficientStockReleasesReservations(t *testing.T) {
	f := newFixture(t)
	f.stock.SetOnHand("widget", qty(10))
	f.stock.SetOnHand("gadget", qty(0))
	o := f.draftOrder()

	_, err := f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, o.Version))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, models.KindCollaborator, models.KindOf(err))
	var collab *models.CollaboratorError
	require.True(t, errors.As(err, &collab))
	assert.Equal(t, "inventory", collab.Collaborator)

	assert.True(t, f.stock.Available("widget").Equal(qty(10)))
	assert.Empty(t, f.stock.Reservations(o.ID))
	stored := f.order(o.ID)
	assert.Equal(t, models.SalesOrderStatusDraft, stored.Status)
	assert.Equal(t, o.Version, stored.Version)
	assert.Empty(t, f.eventsOf(models.EventOrderConfirmed))
}

func TestConfirmOrder_CreditLimit(t *testing.T) {
	f := newFixture(t)
	f.customer = f.newCustomer(8000)
	o := f.draftOrder()

	_, err := f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, 0))
	assert.ErrorIs(t, err, models.ErrCreditLimitExceeded)
	assert.Equal(t, models.KindBusinessRule, models.KindOf(err))

	f.customer = f.newCustomer(8300)
	o = f.draftOrder()
	_, err = f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, 0))
	require.NoError(t, err)
}

func TestConfirmOrder_ConcurrentCallersOneWins(t *testing.T) {
	f := newFixture(t)
	o := f.draftOrder()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, o.Version))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrConcurrentModification)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.eventsOf(models.EventOrderConfirmed), 1)
	assert.Equal(t, o.Version+1, f.order(o.ID).Version)
}

func TestConfirmOrder_HeldLockFailsFast(t *testing.T) {
	f := newFixture(t)
	o := f.draftOrder()

	release, err := f.locker.TryLock(f.ctx, orderKey(o.ID))
	require.NoError(t, err)

	_, err = f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, o.Version))
	assert.ErrorIs(t, err, models.ErrConcurrentModification)
	assert.Equal(t, models.SalesOrderStatusDraft, f.order(o.ID).Status)

	release()
	_, err = f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, o.Version))
	require.NoError(t, err)
}

func TestCancelOrder_ReleasesReservations(t *testing.T) {
	f := newFixture(t)
	f.stock.SetOnHand("widget", qty(10))

	draft := f.draftOrder()
	_, err := f.engine.CancelOrder(f.ctx, models.Ref(draft.ID, 0))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	o := f.confirmedOrder()
	assert.True(t, f.stock.Available("widget").Equal(qty(7)))

	cancelled, err := f.engine.CancelOrder(f.ctx, models.Ref(o.ID, o.Version))
	require.NoError(t, err)
	assert.Equal(t, models.SalesOrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.True(t, f.stock.Available("widget").Equal(qty(10)))
	assert.Empty(t, f.stock.Reservations(o.ID))
	for _, l := range cancelled.Lines {
		assert.Empty(t, l.ReservationID)
	}

	_, err = f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	assert.ErrorIs(t, err, models.ErrInvalidSourceStatus)
}

// commitFailingStore runs each unit of work and then refuses to commit it.
type commitFailingStore struct {
	models.Store
	err error
}

func (s commitFailingStore) InTx(ctx context.Context, fn func(tx models.Tx) error) error {
	return s.Store.InTx(ctx, func(tx models.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return s.err
	})
}

func TestCancelOrder_FailedCommitKeepsReservations(t *testing.T) {
	f := newFixture(t)
	f.stock.SetOnHand("widget", qty(10))
	o := f.confirmedOrder()

	errCommit := errors.New("commit failed")
	failing, err := workflow.NewEngine(commitFailingStore{Store: f.store, err: errCommit}, f.engine.Settings(),
		workflow.WithClock(func() time.Time { return f.now }),
		workflow.WithInventory(f.stock),
		workflow.WithRepDirectory(f.reps),
		workflow.WithLocker(f.locker),
		workflow.WithLogger(f.logger),
	)
	require.NoError(t, err)

	_, err = failing.CancelOrder(f.ctx, models.Ref(o.ID, o.Version))
	assert.ErrorIs(t, err, errCommit)

	stored := f.order(o.ID)
	assert.Equal(t, models.SalesOrderStatusConfirmed, stored.Status)
	for _, l := range stored.Lines {
		assert.NotEmpty(t, l.ReservationID)
	}
	assert.Len(t, f.stock.Reservations(o.ID), 2)
	assert.True(t, f.stock.Available("widget").Equal(qty(7)))
	assert.Empty(t, f.eventsOf(models.EventOrderCancelled))

	cancelled, err := f.engine.CancelOrder(f.ctx, models.Ref(o.ID, stored.Version))
	require.NoError(t, err)
	assert.Equal(t, models.SalesOrderStatusCancelled, cancelled.Status)
	assert.Empty(t, f.stock.Reservations(o.ID))
	assert.True(t, f.stock.Available("widget").Equal(qty(10)))
}

func TestRecordShipment_PartialThenComplete(t *testing.T) {
	f := newFixture(t)
	o := f.confirmedOrder()
	widget, gadget := o.Lines[0], o.Lines[1]

	shipped, err := f.engine.RecordShipment(f.ctx, models.Ref(o.ID, 0), []models.ShipmentLine{
		{OrderLineID: widget.ID, Quantity: qty(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SalesOrderStatusPartiallyFulfilled, shipped.Status)

	_, err = f.engine.RecordShipment(f.ctx, models.Ref(o.ID, 0), []models.ShipmentLine{
		{OrderLineID: widget.ID, Quantity: qty(1)},
	})
	assert.ErrorIs(t, err, models.ErrOverShipment)

	shipped, err = f.engine.RecordShipment(f.ctx, models.Ref(o.ID, 0), []models.ShipmentLine{
		{OrderLineID: gadget.ID, Quantity: qty(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SalesOrderStatusFulfilled, shipped.Status)
	assert.Len(t, f.eventsOf(models.EventOrderShipped), 2)

	_, err = f.engine.CancelOrder(f.ctx, models.Ref(o.ID, 0))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestRecordShipment_DraftOrderIsIllegal(t *testing.T) {
	f := newFixture(t)
	o := f.draftOrder()

	_, err := f.engine.RecordShipment(f.ctx, models.Ref(o.ID, 0), []models.ShipmentLine{
		{OrderLineID: o.Lines[0].ID, Quantity: qty(1)},
	})
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestInvoiceOrder_PartialInvoicing(t *testing.T) {
	f := newFixture(t)
	o := f.confirmedOrder()
	widget := o.Lines[0]

	first, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), []models.InvoiceLineRequest{
		{OrderLineID: widget.ID, Quantity: qty(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SalesInvoiceStatusDraft, first.Status)
	assert.Equal(t, "INV-00001", first.InvoiceNumber)
	assert.Equal(t, models.Totals{Currency: "USD", Subtotal: 2000, TaxTotal: 200, GrandTotal: 2200}, first.Totals)
	assert.Equal(t, f.now.AddDate(0, 0, 30), first.DueDate)
	assert.Equal(t, "rep-1", first.SalesRepID)
	require.Len(t, first.Lines, 1)
	assert.Equal(t, widget.ID, first.Lines[0].OrderLineID)

	_, err = f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), []models.InvoiceLineRequest{
		{OrderLineID: widget.ID, Quantity: qty(2)},
	})
	assert.ErrorIs(t, err, models.ErrOverInvoice)

	rest, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6100), rest.Totals.GrandTotal)
	require.Len(t, rest.Lines, 2)
	assert.True(t, rest.Lines[0].Quantity.Equal(qty(1)))

	stored := f.order(o.ID)
	assert.Equal(t, models.SalesOrderStatusConfirmed, stored.Status)
	for _, l := range stored.Lines {
		assert.True(t, l.InvoicedQty.Equal(l.Quantity), "line %s", l.ProductID)
	}

	_, err = f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	assert.ErrorIs(t, err, models.ErrOverInvoice)
	assert.Len(t, f.eventsOf(models.EventInvoiceCreated), 2)
}

func TestInvoiceOrder_SplitInvoicesAddUpToOrder(t *testing.T) {
	f := newFixture(t)
	o, err := f.engine.CreateOrder(f.ctx, models.NewSalesOrder{
		CustomerID: f.customer.ID,
		Lines: []models.LineItem{{
			Description: "Sticker",
			Quantity:    qty(3),
			UnitPrice:   utils.NewMoney(5, "USD"),
			TaxRate:     decimal.NewFromInt(10),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(17), o.Totals.GrandTotal)
	o, err = f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, o.Version))
	require.NoError(t, err)
	lineID := o.Lines[0].ID

	one := []models.InvoiceLineRequest{{OrderLineID: lineID, Quantity: qty(1)}}
	var invoices []*models.SalesInvoice
	for range 3 {
		inv, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), one)
		require.NoError(t, err)
		invoices = append(invoices, inv)
	}
	assert.Equal(t, []int64{6, 5, 6}, []int64{invoices[0].Totals.GrandTotal, invoices[1].Totals.GrandTotal, invoices[2].Totals.GrandTotal})

	var sum models.Totals
	for _, inv := range invoices {
		sum = models.Totals{
			Currency:      "USD",
			Subtotal:      sum.Subtotal + inv.Totals.Subtotal,
			DiscountTotal: sum.DiscountTotal + inv.Totals.DiscountTotal,
			TaxTotal:      sum.TaxTotal + inv.Totals.TaxTotal,
			GrandTotal:    sum.GrandTotal + inv.Totals.GrandTotal,
		}
	}
	assert.Equal(t, o.Totals, sum)
	assert.Equal(t, o.Totals, f.order(o.ID).InvoicedTotals)

	_, err = f.engine.VoidInvoice(f.ctx, models.Ref(invoices[1].ID, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(12), f.order(o.ID).InvoicedTotals.GrandTotal)

	again, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.Totals.GrandTotal)
	assert.Equal(t, o.Totals.GrandTotal, invoices[0].Totals.GrandTotal+invoices[2].Totals.GrandTotal+again.Totals.GrandTotal)
}

func TestInvoiceOrder_DraftOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	o := f.draftOrder()

	_, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	assert.ErrorIs(t, err, models.ErrInvalidSourceStatus)
}

func TestInvoiceOrder_RequiresShipmentWhenConfigured(t *testing.T) {
	f := newFixture(t, func(s *config.SalesSettings) { s.InvoiceRequiresShipment = true })
	o := f.confirmedOrder()
	widget := o.Lines[0]

	_, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	assert.ErrorIs(t, err, models.ErrOverInvoice)

	_, err = f.engine.RecordShipment(f.ctx, models.Ref(o.ID, 0), []models.ShipmentLine{
		{OrderLineID: widget.ID, Quantity: qty(2)},
	})
	require.NoError(t, err)

	_, err = f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), []models.InvoiceLineRequest{
		{OrderLineID: widget.ID, Quantity: qty(3)},
	})
	assert.ErrorIs(t, err, models.ErrOverInvoice)

	inv, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 1)
	assert.True(t, inv.Lines[0].Quantity.Equal(qty(2)))
	assert.Equal(t, int64(2200), inv.Totals.GrandTotal)
}

func TestSendInvoice(t *testing.T) {
	f := newFixture(t)
	o := f.confirmedOrder()
	inv, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	require.NoError(t, err)

	_, err = f.pay("pay-early", 1000, inv.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	sent, err := f.engine.SendInvoice(f.ctx, models.Ref(inv.ID, inv.Version))
	require.NoError(t, err)
	assert.Equal(t, models.SalesInvoiceStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	_, err = f.engine.SendInvoice(f.ctx, models.Ref(inv.ID, 0))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestInvoice_OverdueIsReadTimeOnly(t *testing.T) {
	f := newFixture(t)
	inv := f.sentInvoice()

	f.advance(31 * 24 * time.Hour)
	assert.Equal(t, models.SalesInvoiceStatusOverdue, f.invoice(inv.ID).Status)

	_, err := f.pay("pay-late", 5000, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SalesInvoiceStatusOverdue, f.invoice(inv.ID).Status)

	_, err = f.pay("pay-late-2", 3300, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SalesInvoiceStatusPaid, f.invoice(inv.ID).Status)
}

func TestVoidInvoice(t *testing.T) {
	f := newFixture(t)
	inv := f.sentInvoice()

	p, err := f.pay("pay-1", 5000, inv.ID)
	require.NoError(t, err)

	_, err = f.engine.VoidInvoice(f.ctx, models.Ref(inv.ID, 0))
	assert.ErrorIs(t, err, models.ErrCannotVoidPaidInvoice)

	_, err = f.engine.RefundPayment(f.ctx, models.Ref(p.ID, 0), utils.NewMoney(5000, "USD"))
	require.NoError(t, err)
	assert.Equal(t, models.SalesInvoiceStatusSent, f.invoice(inv.ID).Status)

	voided, err := f.engine.VoidInvoice(f.ctx, models.Ref(inv.ID, 0))
	require.NoError(t, err)
	assert.Equal(t, models.SalesInvoiceStatusVoided, voided.Status)
	for _, l := range f.order(inv.OrderID).Lines {
		assert.True(t, l.InvoicedQty.IsZero())
	}
	assert.Len(t, f.eventsOf(models.EventInvoiceVoided), 1)

	_, err = f.engine.VoidInvoice(f.ctx, models.Ref(inv.ID, 0))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	_, err = f.pay("pay-2", 1000, inv.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	again, err := f.engine.InvoiceOrder(f.ctx, models.Ref(inv.OrderID, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8300), again.Totals.GrandTotal)
}
