package workflow_test

import (
	"testing"

	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOpportunityWon_RedeliveryReturnsSameQuote(t *testing.T) {
	f := newFixture(t)
	msg := integration.OpportunityWon{
		OpportunityID: "opp-42",
		CustomerID:    f.customer.ID,
		SalesRepID:    "rep-5",
		LineItems:     quoteLines(),
		CorrelationID: "corr-crm",
	}

	q, created, err := f.engine.HandleOpportunityWon(f.ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.QuoteStatusDraft, q.Status)
	assert.Equal(t, "opp-42", q.OpportunityID)
	assert.Equal(t, "rep-5", q.SalesRepID)
	assert.Equal(t, int64(8300), q.Totals.GrandTotal)

	again, created, err := f.engine.HandleOpportunityWon(f.ctx, msg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, q.ID, again.ID)

	events := f.eventsOf(models.EventQuoteCreated)
	require.Len(t, events, 1)
	assert.Equal(t, "corr-crm", events[0].CorrelationID)
	assert.Equal(t, "opp-42", events[0].Data["opportunity_id"])
	assert.Equal(t, integration.EventOpportunityWon, events[0].Data["source"])
}

func TestHandleOpportunityWon_FailureDoesNotClaimKey(t *testing.T) {
	f := newFixture(t)
	msg := integration.OpportunityWon{OpportunityID: "opp-1", CustomerID: "unknown", LineItems: quoteLines()}

	_, _, err := f.engine.HandleOpportunityWon(f.ctx, msg)
	assert.ErrorIs(t, err, models.ErrNotFound)

	msg.CustomerID = f.customer.ID
	_, created, err := f.engine.HandleOpportunityWon(f.ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = f.engine.HandleOpportunityWon(f.ctx, integration.OpportunityWon{CustomerID: f.customer.ID})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
