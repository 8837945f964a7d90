package models

import (
	"time"

	"github.com/mmdatafocus/sales_backend/utils"
)

type Customer struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	Name           string `gorm:"size:255;not null" json:"name"`
	Email          string `gorm:"size:255" json:"email"`
	Phone          string `gorm:"size:32" json:"phone"`
	BillingAddress string `gorm:"type:text" json:"billing_address"`
	Currency       string `gorm:"size:3;not null" json:"currency"`
	// CreditLimit is in Currency; zero means no limit.
	CreditLimit utils.Money `gorm:"embedded;embeddedPrefix:credit_limit_" json:"credit_limit"`
	// PaymentTermsDays overrides the configured default when positive.
	PaymentTermsDays int       `gorm:"default:0" json:"payment_terms_days"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name             string `json:"name" validate:"required,max=255"`
	Email            string `json:"email" validate:"omitempty,email"`
	Phone            string `json:"phone"`
	PhoneRegion      string `json:"phone_region" validate:"omitempty,len=2"`
	BillingAddress   string `json:"billing_address"`
	Currency         string `json:"currency" validate:"required,currency_code"`
	CreditLimit      int64  `json:"credit_limit" validate:"gte=0"`
	PaymentTermsDays int    `json:"payment_terms_days" validate:"gte=0"`
}

func (c *Customer) HasCreditLimit() bool {
	return c.CreditLimit.IsPositive()
}
