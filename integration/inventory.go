package integration

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/shopspring/decimal"
)

type reservation struct {
	productID string
	orderID   string
	qty       decimal.Decimal
}

// StockLedger is an in-process inventory: on-hand quantities per product and the
// reservations held against them. Products never stocked are treated as unmanaged
// and always reservable.
type StockLedger struct {
	mu           sync.Mutex
	onHand       map[string]decimal.Decimal
	reservations map[string]reservation
}

func NewStockLedger() *StockLedger {
	return &StockLedger{
		onHand:       map[string]decimal.Decimal{},
		reservations: map[string]reservation{},
	}
}

func (l *StockLedger) SetOnHand(productID string, qty decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onHand[productID] = qty
}

// Available is on hand minus active reservations.
func (l *StockLedger) Available(productID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(productID)
}

func (l *StockLedger) availableLocked(productID string) decimal.Decimal {
	avail := l.onHand[productID]
	for _, r := range l.reservations {
		if r.productID == productID {
			avail = avail.Sub(r.qty)
		}
	}
	return avail
}

func (l *StockLedger) Reserve(ctx context.Context, productID string, qty decimal.Decimal, orderID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, managed := l.onHand[productID]; managed {
		if avail := l.availableLocked(productID); avail.LessThan(qty) {
			return "", fmt.Errorf("%w: product %s has %s available, %s requested", models.ErrInsufficientStock, productID, avail, qty)
		}
	}
	id := uuid.NewString()
	l.reservations[id] = reservation{productID: productID, orderID: orderID, qty: qty}
	return id, nil
}

// Release is idempotent; unknown reservations are ignored.
func (l *StockLedger) Release(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reservations, reservationID)
	return nil
}

// Reservations lists the reservation ids held for orderID.
func (l *StockLedger) Reservations(orderID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for id, r := range l.reservations {
		if r.orderID == orderID {
			ids = append(ids, id)
		}
	}
	return ids
}
