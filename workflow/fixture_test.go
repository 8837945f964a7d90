package workflow_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/repository"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/mmdatafocus/sales_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fixture is an engine on the in-memory store with a clock the test moves by hand.
type fixture struct {
	t        *testing.T
	ctx      context.Context
	now      time.Time
	store    *repository.MemoryStore
	stock    *integration.StockLedger
	reps     *integration.StaticRepDirectory
	locker   *utils.DocumentLocker
	logger   *logrus.Logger
	engine   *workflow.Engine
	customer *models.Customer
}

func newFixture(t *testing.T, tweak ...func(s *config.SalesSettings)) *fixture {
	t.Helper()
	settings := config.DefaultSalesSettings()
	for _, fn := range tweak {
		fn(&settings)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		now:    time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		store:  repository.NewMemoryStore(),
		stock:  integration.NewStockLedger(),
		reps:   integration.NewStaticRepDirectory(nil),
		locker: utils.NewDocumentLocker(),
		logger: logger,
	}
	engine, err := workflow.NewEngine(f.store, settings,
		workflow.WithClock(func() time.Time { return f.now }),
		workflow.WithInventory(f.stock),
		workflow.WithRepDirectory(f.reps),
		workflow.WithLocker(f.locker),
		workflow.WithLogger(logger),
	)
	require.NoError(t, err)
	f.engine = engine
	f.customer = f.newCustomer(0)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) newCustomer(creditLimit int64) *models.Customer {
	f.t.Helper()
	c, err := f.engine.CreateCustomer(f.ctx, models.NewCustomer{
		Name:        "Acme Trading",
		Email:       "Billing@Acme.com",
		Currency:    "USD",
		CreditLimit: creditLimit,
	})
	require.NoError(f.t, err)
	return c
}

// quoteLines is 3 widgets at $10.00 with 10% tax and 1 gadget at $50.00 untaxed: $83.00.
func quoteLines() []models.LineItem {
	return []models.LineItem{
		{
			ProductID:   "widget",
			Description: "Widget",
			Quantity:    decimal.NewFromInt(3),
			UnitPrice:   utils.NewMoney(1000, "USD"),
			TaxCode:     "VAT10",
			TaxRate:     decimal.NewFromInt(10),
		},
		{
			ProductID:   "gadget",
			Description: "Gadget",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   utils.NewMoney(5000, "USD"),
		},
	}
}

func (f *fixture) draftQuote() *models.Quote {
	f.t.Helper()
	q, err := f.engine.CreateQuote(f.ctx, models.NewQuote{
		CustomerID: f.customer.ID,
		SalesRepID: "rep-1",
		Lines:      quoteLines(),
	})
	require.NoError(f.t, err)
	return q
}

func (f *fixture) acceptedQuote() *models.Quote {
	f.t.Helper()
	q := f.draftQuote()
	q, err := f.engine.SendQuote(f.ctx, models.Ref(q.ID, q.Version))
	require.NoError(f.t, err)
	q, err = f.engine.AcceptQuote(f.ctx, models.Ref(q.ID, q.Version))
	require.NoError(f.t, err)
	return q
}

func (f *fixture) draftOrder() *models.SalesOrder {
	f.t.Helper()
	o, err := f.engine.ConvertQuoteToOrder(f.ctx, models.Ref(f.acceptedQuote().ID, 0))
	require.NoError(f.t, err)
	return o
}

func (f *fixture) confirmedOrder() *models.SalesOrder {
	f.t.Helper()
	o := f.draftOrder()
	o, err := f.engine.ConfirmOrder(f.ctx, models.Ref(o.ID, o.Version))
	require.NoError(f.t, err)
	return o
}

// sentInvoice invoices the whole $83.00 order and sends it.
func (f *fixture) sentInvoice() *models.SalesInvoice {
	f.t.Helper()
	o := f.confirmedOrder()
	inv, err := f.engine.InvoiceOrder(f.ctx, models.Ref(o.ID, 0), nil)
	require.NoError(f.t, err)
	inv, err = f.engine.SendInvoice(f.ctx, models.Ref(inv.ID, 0))
	require.NoError(f.t, err)
	return inv
}

func (f *fixture) pay(paymentID string, amount int64, invoiceID string) (*models.CustomerPayment, error) {
	return f.engine.ReceivePayment(f.ctx, f.payment(paymentID, amount), []models.PaymentAllocation{
		{InvoiceID: invoiceID, Amount: utils.NewMoney(amount, "USD")},
	})
}

func (f *fixture) payment(id string, amount int64) models.NewCustomerPayment {
	return models.NewCustomerPayment{
		ID:         id,
		CustomerID: f.customer.ID,
		Amount:     utils.NewMoney(amount, "USD"),
		Method:     models.PaymentMethodBankTransfer,
		Reference:  "wire " + id,
	}
}

func (f *fixture) invoice(id string) *models.SalesInvoice {
	f.t.Helper()
	inv, err := f.engine.GetInvoice(f.ctx, id)
	require.NoError(f.t, err)
	return inv
}

func (f *fixture) order(id string) *models.SalesOrder {
	f.t.Helper()
	o, err := f.engine.GetSalesOrder(f.ctx, id)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) eventTypes() []models.EventType {
	events := f.store.OutboxEvents()
	types := make([]models.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func (f *fixture) eventsOf(t models.EventType) []models.Event {
	var out []models.Event
	for _, e := range f.store.OutboxEvents() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func orderKey(id string) string {
	return models.LockKey{Type: models.DocumentTypeSalesOrder, ID: id}.String()
}
