package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
)

func (e *Engine) CreateQuote(ctx context.Context, input models.NewQuote) (*models.Quote, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	var quote *models.Quote
	err := e.transition(ctx, "CreateQuote", nil, func(ctx context.Context, tx models.Tx) error {
		q, err := e.createQuote(ctx, tx, uuid.NewString(), input)
		quote = q
		return err
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (e *Engine) createQuote(ctx context.Context, tx models.Tx, id string, input models.NewQuote) (*models.Quote, error) {
	customer, err := tx.GetCustomer(input.CustomerID)
	if err != nil {
		return nil, err
	}
	currency, rate, err := resolveCurrency(customer, input.Currency, input.ExchangeRate)
	if err != nil {
		return nil, err
	}
	lines := newQuoteLines(id, input.Lines)
	totals, err := models.ComputeTotals(currency, itemsOf(lines))
	if err != nil {
		return nil, err
	}
	number, err := e.nextNumber(ctx, tx, string(models.DocumentTypeQuote), e.settings.QuotePrefix)
	if err != nil {
		return nil, err
	}
	now := e.now()
	q := &models.Quote{
		ID:            id,
		QuoteNumber:   number,
		CustomerID:    customer.ID,
		Currency:      currency,
		Status:        models.QuoteStatusDraft,
		ExchangeRate:  rate,
		ValidUntil:    now.AddDate(0, 0, e.settings.QuoteValidityDays),
		SalesRepID:    input.SalesRepID,
		OpportunityID: input.OpportunityID,
		Notes:         input.Notes,
		Totals:        totals,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		Lines:         lines,
	}
	if err := tx.CreateQuote(q); err != nil {
		return nil, err
	}
	ev := e.event(ctx, models.EventQuoteCreated, models.DocumentTypeQuote, q.ID, string(q.Status), totalsSnapshot(q.Totals)).
		With("quote_number", q.QuoteNumber).
		With("customer_id", q.CustomerID)
	if q.OpportunityID != "" {
		ev = ev.With("opportunity_id", q.OpportunityID)
	}
	if err := tx.Enqueue(ev); err != nil {
		return nil, err
	}
	return q, nil
}

// ReviseQuote replaces the lines of a Draft quote and recomputes its totals.
func (e *Engine) ReviseQuote(ctx context.Context, ref models.DocumentRef, lines []models.LineItem) (*models.Quote, error) {
	return e.changeQuote(ctx, "ReviseQuote", ref, models.QuoteActionRevise, "", func(q *models.Quote) error {
		q.Lines = newQuoteLines(q.ID, lines)
		totals, err := models.ComputeTotals(q.Currency, q.Items())
		if err != nil {
			return err
		}
		q.Totals = totals
		return nil
	})
}

func (e *Engine) SendQuote(ctx context.Context, ref models.DocumentRef) (*models.Quote, error) {
	return e.changeQuote(ctx, "SendQuote", ref, models.QuoteActionSend, models.EventQuoteSent, func(q *models.Quote) error {
		if len(q.Lines) == 0 {
			return fmt.Errorf("%w: quote %s has no lines", models.ErrIllegalTransition, q.ID)
		}
		totals, err := models.ComputeTotals(q.Currency, q.Items())
		if err != nil {
			return err
		}
		q.Totals = totals
		return nil
	})
}

func (e *Engine) AcceptQuote(ctx context.Context, ref models.DocumentRef) (*models.Quote, error) {
	return e.changeQuote(ctx, "AcceptQuote", ref, models.QuoteActionAccept, models.EventQuoteAccepted, nil)
}

func (e *Engine) RejectQuote(ctx context.Context, ref models.DocumentRef) (*models.Quote, error) {
	return e.changeQuote(ctx, "RejectQuote", ref, models.QuoteActionReject, models.EventQuoteRejected, nil)
}

// changeQuote applies action to the quote's effective status, so a lapsed Sent
// quote is treated as Expired and rejects accept and reject.
func (e *Engine) changeQuote(ctx context.Context, op string, ref models.DocumentRef, action models.QuoteAction, eventType models.EventType, mutate func(q *models.Quote) error) (*models.Quote, error) {
	var quote *models.Quote
	err := e.transition(ctx, op, []models.LockKey{quoteKey(ref.ID)}, func(ctx context.Context, tx models.Tx) error {
		q, err := tx.GetQuote(ref.ID)
		if err != nil {
			return err
		}
		if err := ref.CheckVersion(models.DocumentTypeQuote, q.Version); err != nil {
			return err
		}
		next, err := models.QuoteStateMachine.Next(q.EffectiveStatus(e.now()), action)
		if err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(q); err != nil {
				return err
			}
		}
		q.Status = next
		q.UpdatedAt = e.now()
		if err := tx.UpdateQuote(q); err != nil {
			return err
		}
		if eventType != "" {
			ev := e.event(ctx, eventType, models.DocumentTypeQuote, q.ID, string(q.Status), totalsSnapshot(q.Totals))
			if err := tx.Enqueue(ev); err != nil {
				return err
			}
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// GetQuote returns the quote with its effective status at the engine's clock.
func (e *Engine) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	var quote *models.Quote
	err := e.view(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote(id)
		if err != nil {
			return err
		}
		q.Status = q.EffectiveStatus(e.now())
		quote = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func itemsOf(lines []models.QuoteLine) []models.LineItem {
	items := make([]models.LineItem, len(lines))
	for i, l := range lines {
		items[i] = l.LineItem
	}
	return items
}
