package models

import (
	"time"

	"github.com/mmdatafocus/sales_backend/utils"
)

var PaymentStateMachine = NewStateMachine("payment",
	Transition[PaymentStatus, PaymentAction]{PaymentStatusRecorded, PaymentActionApply, PaymentStatusApplied},
	Transition[PaymentStatus, PaymentAction]{PaymentStatusApplied, PaymentActionRefundPartial, PaymentStatusApplied},
	Transition[PaymentStatus, PaymentAction]{PaymentStatusApplied, PaymentActionRefundFull, PaymentStatusRefunded},
)

// CustomerPayment.ID is supplied by the caller and doubles as the settlement idempotency key.
type CustomerPayment struct {
	ID             string               `gorm:"primaryKey;size:64" json:"id"`
	PaymentNumber  string               `gorm:"size:32;uniqueIndex" json:"payment_number"`
	CustomerID     string               `gorm:"size:36;index;not null" json:"customer_id"`
	Amount         utils.Money          `gorm:"embedded;embeddedPrefix:amount_" json:"amount"`
	Method         PaymentMethod        `gorm:"size:20;not null" json:"method"`
	Reference      string               `gorm:"size:255" json:"reference"`
	ReceivedAt     time.Time            `gorm:"not null" json:"received_at"`
	Status         PaymentStatus        `gorm:"size:20;not null;index" json:"status"`
	RefundedAmount int64                `gorm:"not null;default:0" json:"refunded_amount"`
	Version        int                  `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Applications   []PaymentApplication `gorm:"foreignKey:PaymentID" json:"applications"`
}

// PaymentApplication is one slice of a payment settled against one invoice.
// Amounts are minor units of the payment currency.
type PaymentApplication struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	PaymentID      string `gorm:"size:64;index;not null" json:"payment_id"`
	InvoiceID      string `gorm:"size:36;index;not null" json:"invoice_id"`
	Sequence       int    `gorm:"not null" json:"sequence"`
	Amount         int64  `gorm:"not null" json:"amount"`
	RefundedAmount int64  `gorm:"not null;default:0" json:"refunded_amount"`
}

type NewCustomerPayment struct {
	ID         string        `json:"id" validate:"required,max=64"`
	CustomerID string        `json:"customer_id" validate:"required"`
	Amount     utils.Money   `json:"amount"`
	Method     PaymentMethod `json:"method" validate:"required"`
	Reference  string        `json:"reference" validate:"max=255"`
	ReceivedAt time.Time     `json:"received_at"`
}

type PaymentAllocation struct {
	InvoiceID string      `json:"invoice_id" validate:"required"`
	Amount    utils.Money `json:"amount"`
}

func (a PaymentApplication) Net() int64 {
	return a.Amount - a.RefundedAmount
}

func (p *CustomerPayment) AppliedAmount() int64 {
	var total int64
	for _, a := range p.Applications {
		total += a.Amount
	}
	return total
}

// Refundable is what has been applied and not yet refunded.
func (p *CustomerPayment) Refundable() int64 {
	return p.AppliedAmount() - p.RefundedAmount
}

func (p *CustomerPayment) InvoiceIDs() []string {
	seen := map[string]bool{}
	ids := make([]string, 0, len(p.Applications))
	for _, a := range p.Applications {
		if !seen[a.InvoiceID] {
			seen[a.InvoiceID] = true
			ids = append(ids, a.InvoiceID)
		}
	}
	return ids
}

func (p *CustomerPayment) Clone() *CustomerPayment {
	if p == nil {
		return nil
	}
	c := *p
	c.Applications = append([]PaymentApplication(nil), p.Applications...)
	return &c
}
