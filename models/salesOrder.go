package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var SalesOrderStateMachine = NewStateMachine("sales order",
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusDraft, SalesOrderActionRevise, SalesOrderStatusDraft},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusDraft, SalesOrderActionConfirm, SalesOrderStatusConfirmed},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusConfirmed, SalesOrderActionShipPartial, SalesOrderStatusPartiallyFulfilled},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusConfirmed, SalesOrderActionShipComplete, SalesOrderStatusFulfilled},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusPartiallyFulfilled, SalesOrderActionShipPartial, SalesOrderStatusPartiallyFulfilled},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusPartiallyFulfilled, SalesOrderActionShipComplete, SalesOrderStatusFulfilled},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusConfirmed, SalesOrderActionCancel, SalesOrderStatusCancelled},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusPartiallyFulfilled, SalesOrderActionCancel, SalesOrderStatusCancelled},
	// Invoicing leaves the fulfilment status alone.
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusConfirmed, SalesOrderActionInvoice, SalesOrderStatusConfirmed},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusPartiallyFulfilled, SalesOrderActionInvoice, SalesOrderStatusPartiallyFulfilled},
	Transition[SalesOrderStatus, SalesOrderAction]{SalesOrderStatusFulfilled, SalesOrderActionInvoice, SalesOrderStatusFulfilled},
)

type SalesOrder struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	OrderNumber string           `gorm:"size:32;uniqueIndex" json:"order_number"`
	CustomerID  string           `gorm:"size:36;index;not null" json:"customer_id"`
	Currency    string           `gorm:"size:3;not null" json:"currency"`
	Status      SalesOrderStatus `gorm:"size:20;not null;index" json:"status"`
	// ExchangeRate converts order currency into the customer's currency for credit checks.
	ExchangeRate decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"exchange_rate"`
	// OriginQuoteID is a lookup key only; the order owns its copied lines.
	OriginQuoteID string           `gorm:"size:36;index" json:"origin_quote_id"`
	SalesRepID    string           `gorm:"size:64" json:"sales_rep_id"`
	Notes         string           `gorm:"type:text" json:"notes"`
	Totals        Totals           `gorm:"embedded;embeddedPrefix:total_" json:"totals"`
	// InvoicedTotals is what the order's live invoices have billed so far.
	InvoicedTotals Totals           `gorm:"embedded;embeddedPrefix:invoiced_" json:"invoiced_totals"`
	ConfirmedAt    *time.Time       `json:"confirmed_at"`
	CancelledAt    *time.Time       `json:"cancelled_at"`
	Version        int              `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Lines          []SalesOrderLine `gorm:"foreignKey:SalesOrderID" json:"lines"`
}

type SalesOrderLine struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	SalesOrderID  string          `gorm:"size:36;index;not null" json:"sales_order_id"`
	SortOrder     int             `gorm:"not null" json:"sort_order"`
	LineItem      `gorm:"embedded"`
	ShippedQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shipped_qty"`
	InvoicedQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoiced_qty"`
	ReservationID string          `gorm:"size:64" json:"reservation_id"`
}

type NewSalesOrder struct {
	CustomerID   string          `json:"customer_id" validate:"required"`
	Currency     string          `json:"currency" validate:"omitempty,currency_code"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	SalesRepID   string          `json:"sales_rep_id" validate:"max=64"`
	Notes        string          `json:"notes"`
	Lines        []LineItem      `json:"lines" validate:"dive"`
}

// ShipmentLine records quantity leaving the warehouse against one order line.
type ShipmentLine struct {
	OrderLineID string          `json:"order_line_id" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// InvoiceLineRequest selects a quantity of one order line to invoice.
type InvoiceLineRequest struct {
	OrderLineID string          `json:"order_line_id" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
}

func (l *SalesOrderLine) RemainingToInvoice() decimal.Decimal {
	return l.Quantity.Sub(l.InvoicedQty)
}

func (l *SalesOrderLine) RemainingToShip() decimal.Decimal {
	return l.Quantity.Sub(l.ShippedQty)
}

func (o *SalesOrder) Line(id string) *SalesOrderLine {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i]
		}
	}
	return nil
}

func (o *SalesOrder) FullyShipped() bool {
	for _, l := range o.Lines {
		if l.RemainingToShip().IsPositive() {
			return false
		}
	}
	return true
}

func (o *SalesOrder) Items() []LineItem {
	items := make([]LineItem, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = l.LineItem
	}
	return items
}

// InvoicedItems are the order lines cut down to their invoiced quantities.
func (o *SalesOrder) InvoicedItems() []LineItem {
	items := make([]LineItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		if !l.InvoicedQty.IsPositive() {
			continue
		}
		item := l.LineItem
		item.Quantity = l.InvoicedQty
		items = append(items, item)
	}
	return items
}

func (o *SalesOrder) Clone() *SalesOrder {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = append([]SalesOrderLine(nil), o.Lines...)
	return &c
}
