package models

import (
	"gorm.io/gorm"
)

// DocumentSequence backs Tx.NextSequence for stores without an external sequencer.
type DocumentSequence struct {
	Kind  string `gorm:"primaryKey;size:32"`
	Value int64  `gorm:"not null;default:0"`
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Customer{},
		&Quote{},
		&QuoteLine{},
		&SalesOrder{},
		&SalesOrderLine{},
		&SalesInvoice{},
		&SalesInvoiceLine{},
		&CustomerPayment{},
		&PaymentApplication{},
		&SalesCommission{},
		&DocumentSequence{},
		&OutboxRecord{},
		&IdempotencyKey{},
	)
}
