package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/sales_backend/models"
)

var errReadOnly = errors.New("write in read-only transaction")

// MemoryStore keeps documents in process. Transactions are serialized and
// stage their writes, so a failing unit of work leaves nothing behind.
type MemoryStore struct {
	mu sync.Mutex

	customers   *memTable[models.Customer]
	quotes      *memTable[models.Quote]
	orders      *memTable[models.SalesOrder]
	invoices    *memTable[models.SalesInvoice]
	payments    *memTable[models.CustomerPayment]
	commissions *memTable[models.SalesCommission]

	sequences   map[string]int64
	idempotency map[string]string
	outbox      []models.OutboxRecord
	outboxSeq   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: newMemTable("customer", func(c *models.Customer) *models.Customer { cp := *c; return &cp }, nil),
		quotes: newMemTable("quote", (*models.Quote).Clone,
			func(q *models.Quote) *int { return &q.Version }),
		orders: newMemTable("sales order", (*models.SalesOrder).Clone,
			func(o *models.SalesOrder) *int { return &o.Version }),
		invoices: newMemTable("sales invoice", (*models.SalesInvoice).Clone,
			func(inv *models.SalesInvoice) *int { return &inv.Version }),
		payments: newMemTable("payment", (*models.CustomerPayment).Clone,
			func(p *models.CustomerPayment) *int { return &p.Version }),
		commissions: newMemTable("commission", (*models.SalesCommission).Clone,
			func(c *models.SalesCommission) *int { return &c.Version }),
		sequences:   map[string]int64{},
		idempotency: map[string]string{},
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx models.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx models.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *MemoryStore) run(ctx context.Context, writable bool, fn func(tx models.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:       s,
		writable:    writable,
		customers:   s.customers.stage(),
		quotes:      s.quotes.stage(),
		orders:      s.orders.stage(),
		invoices:    s.invoices.stage(),
		payments:    s.payments.stage(),
		commissions: s.commissions.stage(),
		sequences:   map[string]int64{},
		idempotency: map[string]string{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if writable {
		tx.commit()
	}
	return nil
}

// OutboxEvents decodes every outbox record in insertion order.
func (s *MemoryStore) OutboxEvents() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]models.Event, 0, len(s.outbox))
	for _, rec := range s.outbox {
		if e, err := rec.Event(); err == nil {
			events = append(events, e)
		}
	}
	return events
}

// OutboxRecords returns a copy of the outbox rows.
func (s *MemoryStore) OutboxRecords() []models.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxRecord(nil), s.outbox...)
}

type memTable[T any] struct {
	name    string
	rows    map[string]*T
	clone   func(*T) *T
	version func(*T) *int
}

func newMemTable[T any](name string, clone func(*T) *T, version func(*T) *int) *memTable[T] {
	return &memTable[T]{name: name, rows: map[string]*T{}, clone: clone, version: version}
}

func (t *memTable[T]) stage() *stagedTable[T] {
	return &stagedTable[T]{base: t, rows: map[string]*T{}}
}

type stagedTable[T any] struct {
	base *memTable[T]
	rows map[string]*T
}

func (t *stagedTable[T]) current(id string) (*T, bool) {
	if row, ok := t.rows[id]; ok {
		return row, true
	}
	row, ok := t.base.rows[id]
	return row, ok
}

func (t *stagedTable[T]) get(id string) (*T, error) {
	row, ok := t.current(id)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", t.base.name, id, models.ErrNotFound)
	}
	return t.base.clone(row), nil
}

func (t *stagedTable[T]) create(id string, doc *T) error {
	if id == "" {
		return fmt.Errorf("%w: %s id is required", models.ErrInvalidInput, t.base.name)
	}
	if _, exists := t.current(id); exists {
		return fmt.Errorf("%w: %s %s already exists", models.ErrInvalidInput, t.base.name, id)
	}
	if t.base.version != nil && *t.base.version(doc) == 0 {
		*t.base.version(doc) = 1
	}
	t.rows[id] = t.base.clone(doc)
	return nil
}

func (t *stagedTable[T]) update(id string, doc *T) error {
	existing, ok := t.current(id)
	if !ok {
		return fmt.Errorf("%s %s: %w", t.base.name, id, models.ErrNotFound)
	}
	if t.base.version != nil {
		stored, loaded := *t.base.version(existing), *t.base.version(doc)
		if stored != loaded {
			return fmt.Errorf("%w: %s %s is at version %d, update based on %d", models.ErrConcurrentModification, t.base.name, id, stored, loaded)
		}
		*t.base.version(doc) = loaded + 1
	}
	t.rows[id] = t.base.clone(doc)
	return nil
}

// each visits committed rows overlaid with staged ones, in id order.
func (t *stagedTable[T]) each(fn func(*T)) {
	ids := make([]string, 0, len(t.base.rows)+len(t.rows))
	for id := range t.base.rows {
		ids = append(ids, id)
	}
	for id := range t.rows {
		if _, dup := t.base.rows[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		row, _ := t.current(id)
		fn(row)
	}
}

func (t *stagedTable[T]) commit() {
	for id, row := range t.rows {
		t.base.rows[id] = row
	}
}

type memoryTx struct {
	store    *MemoryStore
	writable bool

	customers   *stagedTable[models.Customer]
	quotes      *stagedTable[models.Quote]
	orders      *stagedTable[models.SalesOrder]
	invoices    *stagedTable[models.SalesInvoice]
	payments    *stagedTable[models.CustomerPayment]
	commissions *stagedTable[models.SalesCommission]

	sequences   map[string]int64
	idempotency map[string]string
	records     []models.OutboxRecord
}

func (tx *memoryTx) write() error {
	if !tx.writable {
		return errReadOnly
	}
	return nil
}

func (tx *memoryTx) commit() {
	tx.customers.commit()
	tx.quotes.commit()
	tx.orders.commit()
	tx.invoices.commit()
	tx.payments.commit()
	tx.commissions.commit()
	for k, v := range tx.sequences {
		tx.store.sequences[k] = v
	}
	for k, v := range tx.idempotency {
		tx.store.idempotency[k] = v
	}
	for _, rec := range tx.records {
		tx.store.outboxSeq++
		rec.ID = tx.store.outboxSeq
		tx.store.outbox = append(tx.store.outbox, rec)
	}
}

func (tx *memoryTx) GetCustomer(id string) (*models.Customer, error) { return tx.customers.get(id) }

func (tx *memoryTx) CreateCustomer(c *models.Customer) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.customers.create(c.ID, c)
}

func (tx *memoryTx) GetQuote(id string) (*models.Quote, error) { return tx.quotes.get(id) }

func (tx *memoryTx) FindQuoteByOpportunity(opportunityID string) (*models.Quote, error) {
	var found *models.Quote
	tx.quotes.each(func(q *models.Quote) {
		if found == nil && opportunityID != "" && q.OpportunityID == opportunityID {
			found = q.Clone()
		}
	})
	if found == nil {
		return nil, fmt.Errorf("quote for opportunity %s: %w", opportunityID, models.ErrNotFound)
	}
	return found, nil
}

func (tx *memoryTx) CreateQuote(q *models.Quote) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.quotes.create(q.ID, q)
}

func (tx *memoryTx) UpdateQuote(q *models.Quote) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.quotes.update(q.ID, q)
}

func (tx *memoryTx) GetSalesOrder(id string) (*models.SalesOrder, error) { return tx.orders.get(id) }

func (tx *memoryTx) CreateSalesOrder(o *models.SalesOrder) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.orders.create(o.ID, o)
}

func (tx *memoryTx) UpdateSalesOrder(o *models.SalesOrder) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.orders.update(o.ID, o)
}

func (tx *memoryTx) GetSalesInvoice(id string) (*models.SalesInvoice, error) {
	return tx.invoices.get(id)
}

func (tx *memoryTx) ListOpenInvoices(customerID string) ([]*models.SalesInvoice, error) {
	var open []*models.SalesInvoice
	tx.invoices.each(func(inv *models.SalesInvoice) {
		if inv.CustomerID == customerID && inv.SentAt != nil && !inv.Voided && inv.Outstanding().IsPositive() {
			open = append(open, inv.Clone())
		}
	})
	return open, nil
}

func (tx *memoryTx) CreateSalesInvoice(inv *models.SalesInvoice) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.invoices.create(inv.ID, inv)
}

func (tx *memoryTx) UpdateSalesInvoice(inv *models.SalesInvoice) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.invoices.update(inv.ID, inv)
}

func (tx *memoryTx) GetPayment(id string) (*models.CustomerPayment, error) {
	return tx.payments.get(id)
}

func (tx *memoryTx) CreatePayment(p *models.CustomerPayment) error {
	if err := tx.write(); err != nil {
		return err
	}
	if _, exists := tx.payments.current(p.ID); exists {
		return fmt.Errorf("%w: payment %s", models.ErrDuplicatePayment, p.ID)
	}
	return tx.payments.create(p.ID, p)
}

func (tx *memoryTx) UpdatePayment(p *models.CustomerPayment) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.payments.update(p.ID, p)
}

func (tx *memoryTx) GetCommission(id string) (*models.SalesCommission, error) {
	return tx.commissions.get(id)
}

func (tx *memoryTx) GetCommissionBySource(src models.CommissionSource) (*models.SalesCommission, error) {
	var found *models.SalesCommission
	tx.commissions.each(func(c *models.SalesCommission) {
		if found == nil && c.SourceType == src.Type && c.SourceID == src.ID {
			found = c.Clone()
		}
	})
	if found == nil {
		return nil, fmt.Errorf("commission for %s %s: %w", src.Type, src.ID, models.ErrNotFound)
	}
	return found, nil
}

func (tx *memoryTx) CreateCommission(c *models.SalesCommission) error {
	if err := tx.write(); err != nil {
		return err
	}
	if _, err := tx.GetCommissionBySource(c.Source()); err == nil {
		return fmt.Errorf("%w: commission for %s %s already exists", models.ErrConcurrentModification, c.SourceType, c.SourceID)
	}
	return tx.commissions.create(c.ID, c)
}

func (tx *memoryTx) UpdateCommission(c *models.SalesCommission) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.commissions.update(c.ID, c)
}

func (tx *memoryTx) NextSequence(kind string) (int64, error) {
	if err := tx.write(); err != nil {
		return 0, err
	}
	current, staged := tx.sequences[kind]
	if !staged {
		current = tx.store.sequences[kind]
	}
	tx.sequences[kind] = current + 1
	return current + 1, nil
}

func (tx *memoryTx) ClaimIdempotencyKey(handler, messageID, resultID string) (string, bool, error) {
	if err := tx.write(); err != nil {
		return "", false, err
	}
	key := handler + "|" + messageID
	if existing, ok := tx.idempotency[key]; ok {
		return existing, false, nil
	}
	if existing, ok := tx.store.idempotency[key]; ok {
		return existing, false, nil
	}
	tx.idempotency[key] = resultID
	return resultID, true, nil
}

func (tx *memoryTx) Enqueue(events ...models.Event) error {
	if err := tx.write(); err != nil {
		return err
	}
	for _, e := range events {
		rec, err := models.NewOutboxRecord(e)
		if err != nil {
			return err
		}
		tx.records = append(tx.records, rec)
	}
	return nil
}

func (s *MemoryStore) ClaimOutbox(ctx context.Context, req models.ClaimRequest) ([]models.OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []models.OutboxRecord
	for i := range s.outbox {
		if req.Limit > 0 && len(claimed) >= req.Limit {
			break
		}
		rec := &s.outbox[i]
		if !claimable(rec, req) {
			continue
		}
		if req.MaxAttempts > 0 && rec.PublishAttempts >= req.MaxAttempts {
			msg := fmt.Sprintf("max publish attempts exceeded (%d)", req.MaxAttempts)
			rec.PublishStatus = models.OutboxPublishStatusDead
			rec.LastPublishError = &msg
			rec.NextAttemptAt, rec.LockedAt, rec.LockedBy = nil, nil, nil
			claimed = append(claimed, *rec)
			continue
		}
		now := req.Now
		by := req.DispatcherID
		rec.PublishStatus = models.OutboxPublishStatusProcessing
		rec.LockedAt = &now
		rec.LockedBy = &by
		rec.PublishAttempts++
		rec.LastPublishError = nil
		rec.NextAttemptAt = nil
		claimed = append(claimed, *rec)
	}
	return claimed, nil
}

func claimable(rec *models.OutboxRecord, req models.ClaimRequest) bool {
	switch rec.PublishStatus {
	case models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed:
		return rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(req.Now)
	case models.OutboxPublishStatusProcessing:
		return rec.LockedAt != nil && !rec.LockedAt.After(req.StaleBefore)
	}
	return false
}

func (s *MemoryStore) outboxRecord(id int64) (*models.OutboxRecord, error) {
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			return &s.outbox[i], nil
		}
	}
	return nil, fmt.Errorf("outbox record %d: %w", id, models.ErrNotFound)
}

func (s *MemoryStore) MarkOutboxSent(ctx context.Context, id int64, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.outboxRecord(id)
	if err != nil {
		return err
	}
	rec.PublishStatus = models.OutboxPublishStatusSent
	rec.PublishedAt = &at
	rec.PubSubMessageID = &messageID
	rec.LockedAt, rec.LockedBy, rec.NextAttemptAt = nil, nil, nil
	return nil
}

func (s *MemoryStore) MarkOutboxFailed(ctx context.Context, id int64, lastErr string, next time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.outboxRecord(id)
	if err != nil {
		return err
	}
	rec.LastPublishError = &lastErr
	rec.LockedAt, rec.LockedBy = nil, nil
	if dead {
		rec.PublishStatus = models.OutboxPublishStatusDead
		rec.NextAttemptAt = nil
		return nil
	}
	rec.PublishStatus = models.OutboxPublishStatusFailed
	rec.NextAttemptAt = &next
	return nil
}

func (s *MemoryStore) RequeueOutbox(ctx context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		rec, err := s.outboxRecord(id)
		if err != nil {
			continue
		}
		if rec.PublishStatus != models.OutboxPublishStatusDead && rec.PublishStatus != models.OutboxPublishStatusFailed {
			continue
		}
		rec.PublishStatus = models.OutboxPublishStatusPending
		rec.PublishAttempts = 0
		rec.NextAttemptAt, rec.LastPublishError = nil, nil
		n++
	}
	return n, nil
}
