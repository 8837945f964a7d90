package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
)

// CreateOrder opens a Draft order directly, without a quote.
func (e *Engine) CreateOrder(ctx context.Context, input models.NewSalesOrder) (*models.SalesOrder, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	var order *models.SalesOrder
	err := e.transition(ctx, "CreateOrder", nil, func(ctx context.Context, tx models.Tx) error {
		customer, err := tx.GetCustomer(input.CustomerID)
		if err != nil {
			return err
		}
		currency, rate, err := resolveCurrency(customer, input.Currency, input.ExchangeRate)
		if err != nil {
			return err
		}
		orderID := uuid.NewString()
		lines := newOrderLines(orderID, input.Lines)
		o := &models.SalesOrder{ID: orderID, Lines: lines}
		totals, err := models.ComputeTotals(currency, o.Items())
		if err != nil {
			return err
		}
		number, err := e.nextNumber(ctx, tx, string(models.DocumentTypeSalesOrder), e.settings.OrderPrefix)
		if err != nil {
			return err
		}
		now := e.now()
		o.OrderNumber = number
		o.CustomerID = customer.ID
		o.Currency = currency
		o.Status = models.SalesOrderStatusDraft
		o.ExchangeRate = rate
		o.SalesRepID = input.SalesRepID
		o.Notes = input.Notes
		o.Totals = totals
		o.Version = 1
		o.CreatedAt, o.UpdatedAt = now, now
		if err := tx.CreateSalesOrder(o); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventOrderCreated, models.DocumentTypeSalesOrder, o.ID, string(o.Status), totalsSnapshot(o.Totals)).
			With("order_number", o.OrderNumber)
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ReviseOrder replaces the lines of a Draft order.
func (e *Engine) ReviseOrder(ctx context.Context, ref models.DocumentRef, lines []models.LineItem) (*models.SalesOrder, error) {
	var order *models.SalesOrder
	err := e.transition(ctx, "ReviseOrder", []models.LockKey{orderKey(ref.ID)}, func(ctx context.Context, tx models.Tx) error {
		o, err := e.loadOrder(tx, ref)
		if err != nil {
			return err
		}
		next, err := models.SalesOrderStateMachine.Next(o.Status, models.SalesOrderActionRevise)
		if err != nil {
			return err
		}
		o.Lines = newOrderLines(o.ID, lines)
		totals, err := models.ComputeTotals(o.Currency, o.Items())
		if err != nil {
			return err
		}
		o.Totals = totals
		o.Status = next
		o.UpdatedAt = e.now()
		if err := tx.UpdateSalesOrder(o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ConfirmOrder checks the customer's credit, reserves stock for every product line
// and moves the order to Confirmed. Reservations taken by a failed confirmation are
// released before returning.
func (e *Engine) ConfirmOrder(ctx context.Context, ref models.DocumentRef) (*models.SalesOrder, error) {
	keys := []models.LockKey{orderKey(ref.ID)}
	accrueOnConfirm := e.settings.CommissionTrigger == config.CommissionOnOrderConfirmed
	if accrueOnConfirm {
		keys = append(keys, orderSource(ref.ID).LockKey())
	}

	var (
		order    *models.SalesOrder
		reserved []string
	)
	err := e.transition(ctx, "ConfirmOrder", keys, func(ctx context.Context, tx models.Tx) error {
		o, err := e.loadOrder(tx, ref)
		if err != nil {
			return err
		}
		next, err := models.SalesOrderStateMachine.Next(o.Status, models.SalesOrderActionConfirm)
		if err != nil {
			return err
		}
		if len(o.Lines) == 0 {
			return fmt.Errorf("%w: order %s has no lines", models.ErrIllegalTransition, o.ID)
		}
		if err := e.checkCredit(tx, o); err != nil {
			return err
		}
		if e.inventory != nil {
			for i := range o.Lines {
				l := &o.Lines[i]
				if l.ProductID == "" {
					continue
				}
				id, err := e.inventory.Reserve(ctx, l.ProductID, l.Quantity, o.ID)
				if err != nil {
					return models.InventoryError("reserve "+l.ProductID, err)
				}
				reserved = append(reserved, id)
				l.ReservationID = id
			}
		}

		now := e.now()
		o.Status = next
		o.ConfirmedAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateSalesOrder(o); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventOrderConfirmed, models.DocumentTypeSalesOrder, o.ID, string(o.Status), totalsSnapshot(o.Totals))
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		if accrueOnConfirm {
			if _, err := e.syncCommission(ctx, tx, orderBasis(o), true); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		e.releaseReservations(ctx, ref.ID, reserved)
		return nil, err
	}
	return order, nil
}

// RecordShipment adds shipped quantities to order lines. The order becomes
// Fulfilled once every line has shipped in full.
func (e *Engine) RecordShipment(ctx context.Context, ref models.DocumentRef, shipments []models.ShipmentLine) (*models.SalesOrder, error) {
	if len(shipments) == 0 {
		return nil, fmt.Errorf("%w: shipment has no lines", models.ErrInvalidInput)
	}
	for _, s := range shipments {
		if err := utils.ValidateStruct(s); err != nil {
			return nil, err
		}
	}
	var order *models.SalesOrder
	err := e.transition(ctx, "RecordShipment", []models.LockKey{orderKey(ref.ID)}, func(ctx context.Context, tx models.Tx) error {
		o, err := e.loadOrder(tx, ref)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(shipments))
		for _, s := range shipments {
			l := o.Line(s.OrderLineID)
			if l == nil {
				return fmt.Errorf("%w: order %s has no line %s", models.ErrInvalidInput, o.ID, s.OrderLineID)
			}
			if seen[l.ID] {
				return fmt.Errorf("%w: order line %s shipped twice", models.ErrInvalidInput, l.ID)
			}
			seen[l.ID] = true
			if !s.Quantity.IsPositive() {
				return fmt.Errorf("%w: quantity %s must be > 0", models.ErrInvalidQuantity, s.Quantity)
			}
			if remaining := l.RemainingToShip(); s.Quantity.GreaterThan(remaining) {
				return fmt.Errorf("%w: line %s shipping %s, %s remaining", models.ErrOverShipment, l.ID, s.Quantity, remaining)
			}
			l.ShippedQty = l.ShippedQty.Add(s.Quantity)
		}
		action := models.SalesOrderActionShipPartial
		if o.FullyShipped() {
			action = models.SalesOrderActionShipComplete
		}
		next, err := models.SalesOrderStateMachine.Next(o.Status, action)
		if err != nil {
			return err
		}
		o.Status = next
		o.UpdatedAt = e.now()
		if err := tx.UpdateSalesOrder(o); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventOrderShipped, models.DocumentTypeSalesOrder, o.ID, string(o.Status), totalsSnapshot(o.Totals)).
			With("shipments", shipments)
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder reverses any commission accrued on the order and, once the
// cancellation has committed, releases its stock reservations.
func (e *Engine) CancelOrder(ctx context.Context, ref models.DocumentRef) (*models.SalesOrder, error) {
	keys := []models.LockKey{orderKey(ref.ID), orderSource(ref.ID).LockKey()}
	var (
		order    *models.SalesOrder
		reserved []string
	)
	err := e.transition(ctx, "CancelOrder", keys, func(ctx context.Context, tx models.Tx) error {
		reserved = reserved[:0]
		o, err := e.loadOrder(tx, ref)
		if err != nil {
			return err
		}
		next, err := models.SalesOrderStateMachine.Next(o.Status, models.SalesOrderActionCancel)
		if err != nil {
			return err
		}
		for i := range o.Lines {
			l := &o.Lines[i]
			if l.ReservationID == "" {
				continue
			}
			reserved = append(reserved, l.ReservationID)
			l.ReservationID = ""
		}
		now := e.now()
		o.Status = next
		o.CancelledAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateSalesOrder(o); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventOrderCancelled, models.DocumentTypeSalesOrder, o.ID, string(o.Status), totalsSnapshot(o.Totals))
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		if _, err := e.syncCommission(ctx, tx, orderBasis(o), false); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.releaseReservations(ctx, order.ID, reserved)
	return order, nil
}

func (e *Engine) GetSalesOrder(ctx context.Context, id string) (*models.SalesOrder, error) {
	var order *models.SalesOrder
	err := e.view(ctx, func(tx models.Tx) error {
		o, err := tx.GetSalesOrder(id)
		order = o
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (e *Engine) loadOrder(tx models.Tx, ref models.DocumentRef) (*models.SalesOrder, error) {
	o, err := tx.GetSalesOrder(ref.ID)
	if err != nil {
		return nil, err
	}
	if err := ref.CheckVersion(models.DocumentTypeSalesOrder, o.Version); err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Engine) releaseReservations(ctx context.Context, orderID string, ids []string) {
	if e.inventory == nil {
		return
	}
	for _, id := range ids {
		if err := e.inventory.Release(context.WithoutCancel(ctx), id); err != nil {
			config.LogError(e.logger, "salesOrderWorkflow.go", "releaseReservations", "Release", map[string]string{"order_id": orderID, "reservation_id": id}, err)
		}
	}
}
