package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mmdatafocus/sales_backend/workflow"

// Engine executes document transitions. Every operation locks the documents it
// touches in global order, runs in one store transaction, and writes its events
// to the outbox inside that transaction.
type Engine struct {
	store     models.Store
	locker    models.Locker
	inventory models.Inventory
	reps      models.RepDirectory
	sequencer models.Sequencer
	settings  config.SalesSettings
	logger    *logrus.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Engine)

func WithLocker(l models.Locker) Option { return func(e *Engine) { e.locker = l } }

func WithInventory(inv models.Inventory) Option { return func(e *Engine) { e.inventory = inv } }

func WithRepDirectory(reps models.RepDirectory) Option { return func(e *Engine) { e.reps = reps } }

// WithSequencer numbers documents from an external counter instead of the store.
func WithSequencer(s models.Sequencer) Option { return func(e *Engine) { e.sequencer = s } }

func WithLogger(l *logrus.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store models.Store, settings config.SalesSettings, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:    store,
		locker:   utils.NewDocumentLocker(),
		settings: settings,
		logger:   config.GetLogger(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = config.GetLogger()
	}
	return e, nil
}

func (e *Engine) Settings() config.SalesSettings {
	return e.settings
}

// transition locks keys, runs fn in a store transaction and releases the locks on every path.
func (e *Engine) transition(ctx context.Context, op string, keys []models.LockKey, fn func(ctx context.Context, tx models.Tx) error) error {
	ctx, cid := utils.EnsureCorrelationId(ctx)
	ctx, span := e.tracer.Start(ctx, "sales."+op, trace.WithAttributes(
		attribute.String("correlation_id", cid),
		attribute.String("documents", joinKeys(keys)),
	))
	defer span.End()

	err := e.withLocks(ctx, keys, func() error {
		return e.store.InTx(ctx, func(tx models.Tx) error { return fn(ctx, tx) })
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(models.KindOf(err)))
		e.logFailure(op, cid, keys, err)
	}
	return err
}

// view runs a read-only unit of work without taking document locks.
func (e *Engine) view(ctx context.Context, fn func(tx models.Tx) error) error {
	return e.store.View(ctx, fn)
}

func (e *Engine) withLocks(ctx context.Context, keys []models.LockKey, fn func() error) error {
	ordered := sortLockKeys(keys)
	releases := make([]func(), 0, len(ordered))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, k := range ordered {
		release, err := e.locker.TryLock(ctx, k.String())
		if err != nil {
			if errors.Is(err, utils.ErrLockNotObtained) {
				return fmt.Errorf("%w: %s is being modified", models.ErrConcurrentModification, k)
			}
			return err
		}
		releases = append(releases, release)
	}
	return fn()
}

func sortLockKeys(keys []models.LockKey) []models.LockKey {
	seen := make(map[models.LockKey]bool, len(keys))
	ordered := make([]models.LockKey, 0, len(keys))
	for _, k := range keys {
		if k.ID == "" || seen[k] {
			continue
		}
		seen[k] = true
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })
	return ordered
}

func joinKeys(keys []models.LockKey) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, ",")
}

func (e *Engine) logFailure(op string, cid string, keys []models.LockKey, err error) {
	kind := models.KindOf(err)
	entry := e.logger.WithFields(logrus.Fields{
		"module":         "workflow",
		"action":         op,
		"documents":      joinKeys(keys),
		"correlation_id": cid,
		"kind":           kind,
	})
	switch kind {
	case models.KindValidation, models.KindBusinessRule, models.KindNotFound:
		entry.Debug(err.Error())
	case models.KindConcurrency:
		entry.Info(err.Error())
	default:
		entry.Error(err.Error())
	}
}

func (e *Engine) event(ctx context.Context, t models.EventType, entity models.DocumentType, id string, status string, totals *models.Totals) models.Event {
	ev := models.NewEvent(t, entity, id, status, totals, e.now())
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		ev.CorrelationID = cid
	}
	if src, ok := utils.GetSourceFromContext(ctx); ok {
		ev = ev.With("source", src)
	}
	return ev
}

func totalsSnapshot(t models.Totals) *models.Totals {
	return &t
}

func (e *Engine) nextNumber(ctx context.Context, tx models.Tx, kind string, prefix string) (string, error) {
	var (
		seq int64
		err error
	)
	if e.sequencer != nil {
		seq, err = e.sequencer.Next(ctx, kind)
	} else {
		seq, err = tx.NextSequence(kind)
	}
	if err != nil {
		return "", fmt.Errorf("allocate %s number: %w", kind, err)
	}
	return utils.FormatDocumentNumber(prefix, seq), nil
}

// resolveCurrency defaults the document currency to the customer's and requires
// an exchange rate whenever the two differ.
func resolveCurrency(customer *models.Customer, currency string, rate decimal.Decimal) (string, decimal.Decimal, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = customer.Currency
	}
	if err := utils.ValidateCurrency(currency); err != nil {
		return "", decimal.Zero, err
	}
	if rate.IsNegative() {
		return "", decimal.Zero, fmt.Errorf("%w: exchange rate %s", models.ErrInvalidInput, rate)
	}
	if rate.IsZero() {
		if !strings.EqualFold(currency, customer.Currency) {
			return "", decimal.Zero, fmt.Errorf("%w: exchange rate required for %s to %s", models.ErrInvalidInput, currency, customer.Currency)
		}
		rate = decimal.NewFromInt(1)
	}
	return currency, rate, nil
}

func normalizeItems(items []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, len(items))
	for i, it := range items {
		it.UnitPrice = utils.NewMoney(it.UnitPrice.Amount, it.UnitPrice.Currency)
		out[i] = it
	}
	return out
}

func newQuoteLines(quoteID string, items []models.LineItem) []models.QuoteLine {
	lines := make([]models.QuoteLine, len(items))
	for i, it := range normalizeItems(items) {
		lines[i] = models.QuoteLine{ID: uuid.NewString(), QuoteID: quoteID, SortOrder: i + 1, LineItem: it}
	}
	return lines
}

func newOrderLines(orderID string, items []models.LineItem) []models.SalesOrderLine {
	lines := make([]models.SalesOrderLine, len(items))
	for i, it := range normalizeItems(items) {
		lines[i] = models.SalesOrderLine{
			ID:           uuid.NewString(),
			SalesOrderID: orderID,
			SortOrder:    i + 1,
			LineItem:     it,
			ShippedQty:   decimal.Zero,
			InvoicedQty:  decimal.Zero,
		}
	}
	return lines
}

func docKey(t models.DocumentType, id string) models.LockKey {
	return models.LockKey{Type: t, ID: id}
}

func quoteKey(id string) models.LockKey   { return docKey(models.DocumentTypeQuote, id) }
func orderKey(id string) models.LockKey   { return docKey(models.DocumentTypeSalesOrder, id) }
func invoiceKey(id string) models.LockKey { return docKey(models.DocumentTypeInvoice, id) }
func paymentKey(id string) models.LockKey { return docKey(models.DocumentTypePayment, id) }
