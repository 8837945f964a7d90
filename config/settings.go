package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type CommissionTrigger string

const (
	CommissionOnInvoicePaid    CommissionTrigger = "invoice_paid"
	CommissionOnOrderConfirmed CommissionTrigger = "order_confirmed"
)

// SalesSettings is injected into the engine at construction; nothing reads it from globals.
type SalesSettings struct {
	QuoteValidityDays     int               `env:"SALES_QUOTE_VALIDITY_DAYS" envDefault:"30"`
	PaymentTermsDays      int               `env:"SALES_PAYMENT_TERMS_DAYS" envDefault:"30"`
	DefaultCommissionRate decimal.Decimal   `env:"SALES_DEFAULT_COMMISSION_RATE" envDefault:"0.05"`
	CommissionTrigger     CommissionTrigger `env:"SALES_COMMISSION_TRIGGER" envDefault:"invoice_paid"`

	// InvoiceRequiresShipment caps invoiceable quantity at shipped quantity.
	InvoiceRequiresShipment bool `env:"SALES_INVOICE_REQUIRES_SHIPMENT" envDefault:"false"`

	QuotePrefix   string `env:"SALES_QUOTE_PREFIX" envDefault:"QT-"`
	OrderPrefix   string `env:"SALES_ORDER_PREFIX" envDefault:"SO-"`
	InvoicePrefix string `env:"SALES_INVOICE_PREFIX" envDefault:"INV-"`
	PaymentPrefix string `env:"SALES_PAYMENT_PREFIX" envDefault:"PAY-"`

	BulkParallelism int    `env:"SALES_BULK_PARALLELISM" envDefault:"4"`
	EventsTopic     string `env:"SALES_EVENTS_TOPIC" envDefault:"sales-events"`
}

// DefaultSalesSettings mirrors the envDefault tags.
func DefaultSalesSettings() SalesSettings {
	return SalesSettings{
		QuoteValidityDays:     30,
		PaymentTermsDays:      30,
		DefaultCommissionRate: decimal.RequireFromString("0.05"),
		CommissionTrigger:     CommissionOnInvoicePaid,
		QuotePrefix:           "QT-",
		OrderPrefix:           "SO-",
		InvoicePrefix:         "INV-",
		PaymentPrefix:         "PAY-",
		BulkParallelism:       4,
		EventsTopic:           "sales-events",
	}
}

// LoadSalesSettings parses SALES_* variables (after .env has been loaded by init) and validates them.
func LoadSalesSettings() (SalesSettings, error) {
	var s SalesSettings
	err := env.ParseWithOptions(&s, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(decimal.Decimal{}): func(v string) (interface{}, error) {
				return decimal.NewFromString(v)
			},
		},
	})
	if err != nil {
		return SalesSettings{}, fmt.Errorf("parse env: %w", err)
	}
	if err := s.Validate(); err != nil {
		return SalesSettings{}, err
	}
	return s, nil
}

func (s SalesSettings) Validate() error {
	if s.QuoteValidityDays <= 0 {
		return errors.New("quote validity days must be positive")
	}
	if s.PaymentTermsDays < 0 {
		return errors.New("payment terms days must not be negative")
	}
	if s.DefaultCommissionRate.IsNegative() || s.DefaultCommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("default commission rate %s outside [0,1]", s.DefaultCommissionRate)
	}
	switch s.CommissionTrigger {
	case CommissionOnInvoicePaid, CommissionOnOrderConfirmed:
	default:
		return fmt.Errorf("unknown commission trigger %q", s.CommissionTrigger)
	}
	if s.BulkParallelism <= 0 {
		return errors.New("bulk parallelism must be positive")
	}
	return nil
}
