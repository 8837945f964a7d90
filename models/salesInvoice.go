package models

import (
	"time"

	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/shopspring/decimal"
)

// Overdue is never a table state; it is layered over Sent/PartiallyPaid at read time.
var SalesInvoiceStateMachine = NewStateMachine("sales invoice",
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusDraft, SalesInvoiceActionSend, SalesInvoiceStatusSent},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusSent, SalesInvoiceActionPayPartial, SalesInvoiceStatusPartiallyPaid},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusSent, SalesInvoiceActionPayFull, SalesInvoiceStatusPaid},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPartiallyPaid, SalesInvoiceActionPayPartial, SalesInvoiceStatusPartiallyPaid},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPartiallyPaid, SalesInvoiceActionPayFull, SalesInvoiceStatusPaid},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPartiallyPaid, SalesInvoiceActionRefundPartial, SalesInvoiceStatusPartiallyPaid},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPartiallyPaid, SalesInvoiceActionRefundFull, SalesInvoiceStatusSent},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPaid, SalesInvoiceActionRefundPartial, SalesInvoiceStatusPartiallyPaid},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPaid, SalesInvoiceActionRefundFull, SalesInvoiceStatusSent},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusDraft, SalesInvoiceActionVoid, SalesInvoiceStatusVoided},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusSent, SalesInvoiceActionVoid, SalesInvoiceStatusVoided},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPartiallyPaid, SalesInvoiceActionVoid, SalesInvoiceStatusVoided},
	Transition[SalesInvoiceStatus, SalesInvoiceAction]{SalesInvoiceStatusPaid, SalesInvoiceActionVoid, SalesInvoiceStatusVoided},
)

type SalesInvoice struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	InvoiceNumber string `gorm:"size:32;uniqueIndex" json:"invoice_number"`
	CustomerID    string `gorm:"size:36;index;not null" json:"customer_id"`
	Currency      string `gorm:"size:3;not null" json:"currency"`
	// Status caches BaseStatus for queries; it is rewritten from the facts on every save.
	Status       SalesInvoiceStatus `gorm:"size:20;not null;index" json:"status"`
	ExchangeRate decimal.Decimal    `gorm:"type:decimal(20,8);not null" json:"exchange_rate"`
	OrderID      string             `gorm:"size:36;index" json:"order_id"`
	SalesRepID   string             `gorm:"size:64" json:"sales_rep_id"`
	IssueDate    time.Time          `gorm:"not null" json:"issue_date"`
	DueDate      time.Time          `gorm:"not null;index" json:"due_date"`
	SentAt       *time.Time         `json:"sent_at"`
	Voided       bool               `gorm:"not null;default:false" json:"voided"`
	VoidedAt     *time.Time         `json:"voided_at"`
	AmountPaid   utils.Money        `gorm:"embedded;embeddedPrefix:amount_paid_" json:"amount_paid"`
	Totals       Totals             `gorm:"embedded;embeddedPrefix:total_" json:"totals"`
	Version      int                `gorm:"not null;default:1" json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Lines        []SalesInvoiceLine `gorm:"foreignKey:SalesInvoiceID" json:"lines"`
}

type SalesInvoiceLine struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	SalesInvoiceID string `gorm:"size:36;index;not null" json:"sales_invoice_id"`
	OrderLineID    string `gorm:"size:36;index" json:"order_line_id"`
	SortOrder      int    `gorm:"not null" json:"sort_order"`
	LineItem       `gorm:"embedded"`
}

// DeriveInvoiceStatus is the single source of invoice status.
func DeriveInvoiceStatus(sent bool, voided bool, amountPaid int64, grandTotal int64, dueDate time.Time, now time.Time) SalesInvoiceStatus {
	var status SalesInvoiceStatus
	switch {
	case voided:
		return SalesInvoiceStatusVoided
	case !sent:
		return SalesInvoiceStatusDraft
	case amountPaid >= grandTotal:
		return SalesInvoiceStatusPaid
	case amountPaid > 0:
		status = SalesInvoiceStatusPartiallyPaid
	default:
		status = SalesInvoiceStatusSent
	}
	if !now.IsZero() && now.After(dueDate) {
		return SalesInvoiceStatusOverdue
	}
	return status
}

// BaseStatus is the status without the overdue overlay; state machine actions run against it.
func (inv *SalesInvoice) BaseStatus() SalesInvoiceStatus {
	return DeriveInvoiceStatus(inv.SentAt != nil, inv.Voided, inv.AmountPaid.Amount, inv.Totals.GrandTotal, inv.DueDate, time.Time{})
}

func (inv *SalesInvoice) EffectiveStatus(now time.Time) SalesInvoiceStatus {
	return DeriveInvoiceStatus(inv.SentAt != nil, inv.Voided, inv.AmountPaid.Amount, inv.Totals.GrandTotal, inv.DueDate, now)
}

func (inv *SalesInvoice) Outstanding() utils.Money {
	return utils.NewMoney(inv.Totals.GrandTotal-inv.AmountPaid.Amount, inv.Currency)
}

func (inv *SalesInvoice) Items() []LineItem {
	items := make([]LineItem, len(inv.Lines))
	for i, l := range inv.Lines {
		items[i] = l.LineItem
	}
	return items
}

func (inv *SalesInvoice) Clone() *SalesInvoice {
	if inv == nil {
		return nil
	}
	c := *inv
	c.Lines = append([]SalesInvoiceLine(nil), inv.Lines...)
	return &c
}
