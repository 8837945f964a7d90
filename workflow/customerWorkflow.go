package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
)

func (e *Engine) CreateCustomer(ctx context.Context, input models.NewCustomer) (*models.Customer, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(input.Currency)
	phone := input.Phone
	if phone != "" {
		normalized, err := utils.NormalizePhone(phone, input.PhoneRegion)
		if err != nil {
			return nil, err
		}
		phone = normalized
	}
	now := e.now()
	customer := &models.Customer{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(input.Name),
		Email:            strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:            phone,
		BillingAddress:   input.BillingAddress,
		Currency:         currency,
		CreditLimit:      utils.NewMoney(input.CreditLimit, currency),
		PaymentTermsDays: input.PaymentTermsDays,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := e.transition(ctx, "CreateCustomer", nil, func(ctx context.Context, tx models.Tx) error {
		return tx.CreateCustomer(customer)
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func (e *Engine) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer *models.Customer
	err := e.view(ctx, func(tx models.Tx) error {
		c, err := tx.GetCustomer(id)
		customer = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// paymentTerms prefers the customer's own terms over the configured default.
func (e *Engine) paymentTerms(c *models.Customer) int {
	if c != nil && c.PaymentTermsDays > 0 {
		return c.PaymentTermsDays
	}
	return e.settings.PaymentTermsDays
}

// checkCredit fails when the customer's open balance plus the order would pass the credit limit.
// Amounts in other currencies are converted with the rate stored on each document.
func (e *Engine) checkCredit(tx models.Tx, o *models.SalesOrder) error {
	customer, err := tx.GetCustomer(o.CustomerID)
	if err != nil {
		return err
	}
	if !customer.HasCreditLimit() {
		return nil
	}
	open, err := tx.ListOpenInvoices(customer.ID)
	if err != nil {
		return err
	}
	exposure := o.Totals.Grand().Convert(o.ExchangeRate, customer.Currency)
	for _, inv := range open {
		exposure.Amount += inv.Outstanding().Convert(inv.ExchangeRate, customer.Currency).Amount
	}
	if exposure.Amount > customer.CreditLimit.Amount {
		return fmt.Errorf("%w: customer %s exposure %s over limit %s", models.ErrCreditLimitExceeded, customer.ID, exposure, customer.CreditLimit)
	}
	return nil
}
