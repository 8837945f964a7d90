package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var CommissionStateMachine = NewStateMachine("commission",
	Transition[CommissionStatus, CommissionAction]{CommissionStatusPending, CommissionActionAccrue, CommissionStatusAccrued},
	Transition[CommissionStatus, CommissionAction]{CommissionStatusPending, CommissionActionDefer, CommissionStatusPending},
	Transition[CommissionStatus, CommissionAction]{CommissionStatusAccrued, CommissionActionAccrue, CommissionStatusAccrued},
	Transition[CommissionStatus, CommissionAction]{CommissionStatusAccrued, CommissionActionDefer, CommissionStatusPending},
	Transition[CommissionStatus, CommissionAction]{CommissionStatusAccrued, CommissionActionPay, CommissionStatusPaid},
)

// SalesCommission is unique per source document; Amount is frozen once Paid.
type SalesCommission struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	RepID      string           `gorm:"size:64;index;not null" json:"rep_id"`
	SourceType DocumentType     `gorm:"size:16;not null;uniqueIndex:uniq_commission_source" json:"source_type"`
	SourceID   string           `gorm:"size:36;not null;uniqueIndex:uniq_commission_source" json:"source_id"`
	Currency   string           `gorm:"size:3;not null" json:"currency"`
	Rate       decimal.Decimal  `gorm:"type:decimal(9,6);not null" json:"rate"`
	BaseAmount int64            `gorm:"not null" json:"base_amount"`
	Amount     int64            `gorm:"not null" json:"amount"`
	Status     CommissionStatus `gorm:"size:20;not null;index" json:"status"`
	PaidAt     *time.Time       `json:"paid_at"`
	Version    int              `gorm:"not null;default:1" json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type ComputeCommissionInput struct {
	Source CommissionSource `json:"source"`
	// RepID overrides the document's rep and the HR lookup when set.
	RepID string `json:"rep_id" validate:"max=64"`
	// Rate is a fraction (0.05 = 5%); unset uses the configured default.
	Rate decimal.NullDecimal `json:"rate"`
}

func (c *SalesCommission) Source() CommissionSource {
	return CommissionSource{Type: c.SourceType, ID: c.SourceID}
}

// CommissionAmount is round-half-up(base * rate * earned / total) in minor units.
// earned/total is the share of the source that currently counts (paid share of an
// invoice, 1 or 0 for an order).
func CommissionAmount(base int64, rate decimal.Decimal, earned int64, total int64) int64 {
	if total <= 0 || earned <= 0 || base <= 0 {
		return 0
	}
	exact := decimal.NewFromInt(base).Mul(rate)
	if earned != total {
		exact = exact.Mul(decimal.NewFromInt(earned)).Div(decimal.NewFromInt(total))
	}
	return exact.Round(0).IntPart()
}

func (c *SalesCommission) Clone() *SalesCommission {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
