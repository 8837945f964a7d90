package repository

import (
	"context"
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/sales_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists documents in MySQL. Documents read inside InTx are locked
// with SELECT ... FOR UPDATE; updates compare-and-set on the version column.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx models.Tx) error) error {
	return s.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db, lock: true})
	})
}

func (s *GormStore) View(ctx context.Context, fn func(tx models.Tx) error) error {
	return fn(&gormTx{db: s.DB.WithContext(ctx), readOnly: true})
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func notFound(err error, what string, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return err
}

type gormTx struct {
	db       *gorm.DB
	lock     bool
	readOnly bool
}

func (tx *gormTx) query() *gorm.DB {
	if tx.lock {
		return tx.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx.db
}

func (tx *gormTx) write() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

func orderedLines(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC")
}

// casUpdate writes every column of doc (associations excluded) only if the row is
// still at loaded, bumping the version.
func (tx *gormTx) casUpdate(doc any, version *int, what string, id string) error {
	loaded := *version
	*version = loaded + 1
	res := tx.db.Model(doc).
		Where("version = ?", loaded).
		Select("*").
		Omit(clause.Associations, "created_at").
		Updates(doc)
	if res.Error != nil {
		*version = loaded
		return res.Error
	}
	if res.RowsAffected == 0 {
		*version = loaded
		return fmt.Errorf("%w: %s %s changed since version %d", models.ErrConcurrentModification, what, id, loaded)
	}
	return nil
}

// replaceLines upserts lines and deletes the owner's rows that are no longer present.
func replaceLines[L any](db *gorm.DB, lines []L, ownerColumn string, ownerID string, ids []string) error {
	del := db.Where(ownerColumn+" = ?", ownerID)
	if len(ids) > 0 {
		del = del.Where("id NOT IN ?", ids)
	}
	var zero L
	if err := del.Delete(&zero).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return db.Save(&lines).Error
}

func (tx *gormTx) GetCustomer(id string) (*models.Customer, error) {
	var c models.Customer
	if err := tx.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "customer", id)
	}
	return &c, nil
}

func (tx *gormTx) CreateCustomer(c *models.Customer) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.db.Create(c).Error
}

func (tx *gormTx) GetQuote(id string) (*models.Quote, error) {
	var q models.Quote
	if err := tx.query().Preload("Lines", orderedLines).First(&q, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "quote", id)
	}
	return &q, nil
}

func (tx *gormTx) FindQuoteByOpportunity(opportunityID string) (*models.Quote, error) {
	var q models.Quote
	if err := tx.db.Preload("Lines", orderedLines).Where("opportunity_id = ?", opportunityID).Order("created_at ASC").First(&q).Error; err != nil {
		return nil, notFound(err, "quote for opportunity", opportunityID)
	}
	return &q, nil
}

func (tx *gormTx) CreateQuote(q *models.Quote) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.db.Create(q).Error
}

func (tx *gormTx) UpdateQuote(q *models.Quote) error {
	if err := tx.write(); err != nil {
		return err
	}
	if err := tx.casUpdate(q, &q.Version, "quote", q.ID); err != nil {
		return err
	}
	ids := make([]string, len(q.Lines))
	for i := range q.Lines {
		q.Lines[i].QuoteID = q.ID
		ids[i] = q.Lines[i].ID
	}
	return replaceLines(tx.db, q.Lines, "quote_id", q.ID, ids)
}

func (tx *gormTx) GetSalesOrder(id string) (*models.SalesOrder, error) {
	var o models.SalesOrder
	if err := tx.query().Preload("Lines", orderedLines).First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "sales order", id)
	}
	return &o, nil
}

func (tx *gormTx) CreateSalesOrder(o *models.SalesOrder) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.db.Create(o).Error
}

func (tx *gormTx) UpdateSalesOrder(o *models.SalesOrder) error {
	if err := tx.write(); err != nil {
		return err
	}
	if err := tx.casUpdate(o, &o.Version, "sales order", o.ID); err != nil {
		return err
	}
	ids := make([]string, len(o.Lines))
	for i := range o.Lines {
		o.Lines[i].SalesOrderID = o.ID
		ids[i] = o.Lines[i].ID
	}
	return replaceLines(tx.db, o.Lines, "sales_order_id", o.ID, ids)
}

func (tx *gormTx) GetSalesInvoice(id string) (*models.SalesInvoice, error) {
	var inv models.SalesInvoice
	if err := tx.query().Preload("Lines", orderedLines).First(&inv, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "sales invoice", id)
	}
	return &inv, nil
}

func (tx *gormTx) ListOpenInvoices(customerID string) ([]*models.SalesInvoice, error) {
	var invoices []*models.SalesInvoice
	err := tx.db.
		Where("customer_id = ?", customerID).
		Where("sent_at IS NOT NULL AND voided = ?", false).
		Where("total_grand_total > amount_paid_amount").
		Order("id ASC").
		Find(&invoices).Error
	return invoices, err
}

func (tx *gormTx) CreateSalesInvoice(inv *models.SalesInvoice) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.db.Create(inv).Error
}

// Invoice lines are immutable after creation, so only the header is written.
func (tx *gormTx) UpdateSalesInvoice(inv *models.SalesInvoice) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.casUpdate(inv, &inv.Version, "sales invoice", inv.ID)
}

func (tx *gormTx) GetPayment(id string) (*models.CustomerPayment, error) {
	var p models.CustomerPayment
	err := tx.query().
		Preload("Applications", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

func (tx *gormTx) CreatePayment(p *models.CustomerPayment) error {
	if err := tx.write(); err != nil {
		return err
	}
	if err := tx.db.Create(p).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return fmt.Errorf("%w: payment %s", models.ErrDuplicatePayment, p.ID)
		}
		return err
	}
	return nil
}

func (tx *gormTx) UpdatePayment(p *models.CustomerPayment) error {
	if err := tx.write(); err != nil {
		return err
	}
	if err := tx.casUpdate(p, &p.Version, "payment", p.ID); err != nil {
		return err
	}
	ids := make([]string, len(p.Applications))
	for i := range p.Applications {
		p.Applications[i].PaymentID = p.ID
		ids[i] = p.Applications[i].ID
	}
	return replaceLines(tx.db, p.Applications, "payment_id", p.ID, ids)
}

func (tx *gormTx) GetCommission(id string) (*models.SalesCommission, error) {
	var c models.SalesCommission
	if err := tx.query().First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "commission", id)
	}
	return &c, nil
}

func (tx *gormTx) GetCommissionBySource(src models.CommissionSource) (*models.SalesCommission, error) {
	var c models.SalesCommission
	err := tx.query().Where("source_type = ? AND source_id = ?", src.Type, src.ID).First(&c).Error
	if err != nil {
		return nil, notFound(err, "commission for "+string(src.Type), src.ID)
	}
	return &c, nil
}

func (tx *gormTx) CreateCommission(c *models.SalesCommission) error {
	if err := tx.write(); err != nil {
		return err
	}
	if err := tx.db.Create(c).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return fmt.Errorf("%w: commission for %s %s already exists", models.ErrConcurrentModification, c.SourceType, c.SourceID)
		}
		return err
	}
	return nil
}

func (tx *gormTx) UpdateCommission(c *models.SalesCommission) error {
	if err := tx.write(); err != nil {
		return err
	}
	return tx.casUpdate(c, &c.Version, "commission", c.ID)
}

// NextSequence bumps the counter row; the upsert holds the row lock until commit.
func (tx *gormTx) NextSequence(kind string) (int64, error) {
	if err := tx.write(); err != nil {
		return 0, err
	}
	err := tx.db.Clauses(clause.OnConflict{
		DoUpdates: clause.Assignments(map[string]interface{}{"value": gorm.Expr("value + 1")}),
	}).Create(&models.DocumentSequence{Kind: kind, Value: 1}).Error
	if err != nil {
		return 0, err
	}
	var seq models.DocumentSequence
	if err := tx.db.First(&seq, "kind = ?", kind).Error; err != nil {
		return 0, err
	}
	return seq.Value, nil
}

func (tx *gormTx) ClaimIdempotencyKey(handler, messageID, resultID string) (string, bool, error) {
	if err := tx.write(); err != nil {
		return "", false, err
	}
	key := models.IdempotencyKey{
		HandlerName: handler,
		MessageId:   messageID,
		ResultID:    resultID,
		Status:      models.IdempotencyStatusSucceeded,
	}
	if err := tx.db.Create(&key).Error; err == nil {
		return resultID, true, nil
	} else if !isDuplicateKeyErr(err) {
		return "", false, err
	}

	var existing models.IdempotencyKey
	if err := tx.db.Where("handler_name = ? AND message_id = ?", handler, messageID).First(&existing).Error; err != nil {
		return "", false, err
	}
	return existing.ResultID, false, nil
}

func (tx *gormTx) Enqueue(events ...models.Event) error {
	if err := tx.write(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	records := make([]models.OutboxRecord, 0, len(events))
	for _, e := range events {
		rec, err := models.NewOutboxRecord(e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	return tx.db.Create(&records).Error
}
