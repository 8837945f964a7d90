package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/utils"
)

// HandleOpportunityWon opens a Draft quote for a won CRM opportunity. Redelivery
// of the same opportunity returns the quote created the first time with created=false.
func (e *Engine) HandleOpportunityWon(ctx context.Context, msg integration.OpportunityWon) (quote *models.Quote, created bool, err error) {
	if err := utils.ValidateStruct(msg); err != nil {
		return nil, false, err
	}
	if msg.CorrelationID != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationID)
	}
	ctx = utils.SetSourceInContext(ctx, integration.EventOpportunityWon)

	input := models.NewQuote{
		CustomerID:    msg.CustomerID,
		Currency:      msg.Currency,
		SalesRepID:    msg.SalesRepID,
		OpportunityID: msg.OpportunityID,
		Lines:         msg.LineItems,
	}
	err = e.transition(ctx, "HandleOpportunityWon", nil, func(ctx context.Context, tx models.Tx) error {
		quoteID := uuid.NewString()
		existing, claimed, err := tx.ClaimIdempotencyKey(integration.EventOpportunityWon, msg.OpportunityID, quoteID)
		if err != nil {
			return err
		}
		if !claimed {
			q, err := tx.GetQuote(existing)
			if err != nil {
				return err
			}
			quote = q
			return nil
		}
		q, err := e.createQuote(ctx, tx, quoteID, input)
		if err != nil {
			return err
		}
		quote, created = q, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !created && e.logger != nil {
		e.logger.WithField("opportunity_id", msg.OpportunityID).Info("opportunity already converted to quote " + quote.QuoteNumber)
	}
	return quote, created, nil
}
