package models

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store runs a unit of work atomically. InTx loads documents for update;
// View is read only and must not be used for writes.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional repository used by the engine.
//
// Update* methods compare-and-set on Version: the document must still be at the
// version it was loaded with, otherwise ErrConcurrentModification. On success the
// stored and in-memory versions are both incremented.
type Tx interface {
	GetCustomer(id string) (*Customer, error)
	CreateCustomer(c *Customer) error

	GetQuote(id string) (*Quote, error)
	FindQuoteByOpportunity(opportunityID string) (*Quote, error)
	CreateQuote(q *Quote) error
	UpdateQuote(q *Quote) error

	GetSalesOrder(id string) (*SalesOrder, error)
	CreateSalesOrder(o *SalesOrder) error
	UpdateSalesOrder(o *SalesOrder) error

	GetSalesInvoice(id string) (*SalesInvoice, error)
	// ListOpenInvoices returns the customer's sent, unvoided invoices with a balance.
	ListOpenInvoices(customerID string) ([]*SalesInvoice, error)
	CreateSalesInvoice(inv *SalesInvoice) error
	UpdateSalesInvoice(inv *SalesInvoice) error

	GetPayment(id string) (*CustomerPayment, error)
	// CreatePayment fails with ErrDuplicatePayment when the id is taken.
	CreatePayment(p *CustomerPayment) error
	UpdatePayment(p *CustomerPayment) error

	GetCommission(id string) (*SalesCommission, error)
	GetCommissionBySource(src CommissionSource) (*SalesCommission, error)
	CreateCommission(c *SalesCommission) error
	UpdateCommission(c *SalesCommission) error

	NextSequence(kind string) (int64, error)

	// ClaimIdempotencyKey records (handler, messageID) -> resultID. When the key
	// exists it returns the stored result id and claimed=false.
	ClaimIdempotencyKey(handler, messageID, resultID string) (existing string, claimed bool, err error)

	// Enqueue writes events to the outbox; they are published only if the transaction commits.
	Enqueue(events ...Event) error
}

// Locker is a non-blocking lock on document keys.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// Inventory reserves stock for confirmed order lines.
type Inventory interface {
	Reserve(ctx context.Context, productID string, qty decimal.Decimal, orderID string) (reservationID string, err error)
	Release(ctx context.Context, reservationID string) error
}

// RepDirectory is the HR lookup of the rep assigned to a document.
type RepDirectory interface {
	AssignedRep(ctx context.Context, documentID string) (repID string, ok bool, err error)
}

// EventPublisher delivers one outbox event and returns the transport message id.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) (string, error)
}

// Sequencer allocates document numbers outside the store transaction.
type Sequencer interface {
	Next(ctx context.Context, kind string) (int64, error)
}
