package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expired is never stored: a Sent quote past ValidUntil reads as Expired.
var QuoteStateMachine = NewStateMachine("quote",
	Transition[QuoteStatus, QuoteAction]{QuoteStatusDraft, QuoteActionRevise, QuoteStatusDraft},
	Transition[QuoteStatus, QuoteAction]{QuoteStatusDraft, QuoteActionSend, QuoteStatusSent},
	Transition[QuoteStatus, QuoteAction]{QuoteStatusSent, QuoteActionAccept, QuoteStatusAccepted},
	Transition[QuoteStatus, QuoteAction]{QuoteStatusSent, QuoteActionReject, QuoteStatusRejected},
	Transition[QuoteStatus, QuoteAction]{QuoteStatusSent, QuoteActionExpire, QuoteStatusExpired},
	Transition[QuoteStatus, QuoteAction]{QuoteStatusAccepted, QuoteActionConvert, QuoteStatusConverted},
)

type Quote struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	QuoteNumber string      `gorm:"size:32;uniqueIndex" json:"quote_number"`
	CustomerID  string      `gorm:"size:36;index;not null" json:"customer_id"`
	Currency    string      `gorm:"size:3;not null" json:"currency"`
	Status      QuoteStatus `gorm:"size:20;not null;index" json:"status"`
	// ExchangeRate converts quote currency into the customer's currency.
	ExchangeRate     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"exchange_rate"`
	ValidUntil       time.Time       `gorm:"not null" json:"valid_until"`
	SalesRepID       string          `gorm:"size:64" json:"sales_rep_id"`
	OpportunityID    string          `gorm:"size:64;index" json:"opportunity_id"`
	ConvertedOrderID string          `gorm:"size:36" json:"converted_order_id"`
	Notes            string          `gorm:"type:text" json:"notes"`
	Totals           Totals          `gorm:"embedded;embeddedPrefix:total_" json:"totals"`
	Version          int             `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Lines            []QuoteLine     `gorm:"foreignKey:QuoteID" json:"lines"`
}

type QuoteLine struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	QuoteID   string `gorm:"size:36;index;not null" json:"quote_id"`
	SortOrder int    `gorm:"not null" json:"sort_order"`
	LineItem  `gorm:"embedded"`
}

type NewQuote struct {
	CustomerID    string          `json:"customer_id" validate:"required"`
	Currency      string          `json:"currency" validate:"omitempty,currency_code"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	SalesRepID    string          `json:"sales_rep_id" validate:"max=64"`
	OpportunityID string          `json:"opportunity_id" validate:"max=64"`
	Notes         string          `json:"notes"`
	Lines         []LineItem      `json:"lines" validate:"dive"`
}

// EffectiveStatus applies lazy expiry.
func (q *Quote) EffectiveStatus(now time.Time) QuoteStatus {
	if q.Status == QuoteStatusSent && now.After(q.ValidUntil) {
		if next, err := QuoteStateMachine.Next(q.Status, QuoteActionExpire); err == nil {
			return next
		}
	}
	return q.Status
}

func (q *Quote) Items() []LineItem {
	items := make([]LineItem, len(q.Lines))
	for i, l := range q.Lines {
		items[i] = l.LineItem
	}
	return items
}

func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	c := *q
	c.Lines = append([]QuoteLine(nil), q.Lines...)
	return &c
}
