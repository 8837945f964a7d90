package integration_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockLedger_ReserveAgainstOnHand(t *testing.T) {
	ledger := integration.NewStockLedger()
	ledger.SetOnHand("widget", decimal.NewFromInt(5))
	ctx := context.Background()

	first, err := ledger.Reserve(ctx, "widget", decimal.NewFromInt(3), "o1")
	require.NoError(t, err)
	assert.True(t, ledger.Available("widget").Equal(decimal.NewFromInt(2)))

	_, err = ledger.Reserve(ctx, "widget", decimal.NewFromInt(3), "o2")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	require.NoError(t, ledger.Release(ctx, first))
	require.NoError(t, ledger.Release(ctx, first))
	assert.True(t, ledger.Available("widget").Equal(decimal.NewFromInt(5)))
	assert.Empty(t, ledger.Reservations("o1"))

	// Products without stock records are not tracked.
	_, err = ledger.Reserve(ctx, "service-hours", decimal.NewFromInt(100), "o3")
	require.NoError(t, err)
	assert.Len(t, ledger.Reservations("o3"), 1)
}

func TestStaticRepDirectory_AssignedRep(t *testing.T) {
	dir := integration.NewStaticRepDirectory(map[string]string{"o1": "rep-7", "o2": ""})
	ctx := context.Background()

	rep, ok, err := dir.AssignedRep(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "rep-7", rep)

	_, ok, err = dir.AssignedRep(ctx, "o2")
	require.NoError(t, err)
	assert.False(t, ok)

	dir.Assign("o3", "rep-9")
	rep, ok, _ = dir.AssignedRep(ctx, "o3")
	assert.True(t, ok)
	assert.Equal(t, "rep-9", rep)
}

func TestRecordingPublisher_FailNext(t *testing.T) {
	p := &integration.RecordingPublisher{}
	ctx := context.Background()
	ev := models.NewEvent(models.EventQuoteSent, models.DocumentTypeQuote, "q1", "Sent", nil, time.Now())

	p.FailNext(1)
	_, err := p.Publish(ctx, ev)
	require.Error(t, err)

	id, err := p.Publish(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Len(t, p.Events(), 1)
}

func pushBody(t *testing.T, attrs map[string]string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":       data,
			"attributes": attrs,
			"messageId":  "m-1",
		},
		"subscription": "projects/p/subscriptions/sales-crm",
	})
	require.NoError(t, err)
	return body
}

func TestDecodeOpportunityWon(t *testing.T) {
	body := pushBody(t, map[string]string{
		"event_type":     integration.EventOpportunityWon,
		"correlation_id": "corr-1",
	}, map[string]any{
		"opportunityId": "opp-1",
		"customerId":    "c1",
		"currency":      "USD",
		"lineItems": []map[string]any{
			{"description": "Widget", "quantity": "3", "unit_price": map[string]any{"amount": 1000, "currency": "USD"}, "tax_rate": "10"},
		},
	})

	msg, messageID, ok, err := integration.DecodeOpportunityWon(body)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m-1", messageID)
	assert.Equal(t, "opp-1", msg.OpportunityID)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	require.Len(t, msg.LineItems, 1)
	assert.True(t, msg.LineItems[0].Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, int64(1000), msg.LineItems[0].UnitPrice.Amount)
}

func TestDecodeOpportunityWon_OtherEventsAreSkipped(t *testing.T) {
	body := pushBody(t, map[string]string{"event_type": "crm.opportunity.lost"}, map[string]any{"opportunityId": "opp-1"})
	_, _, ok, err := integration.DecodeOpportunityWon(body)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = integration.DecodeOpportunityWon([]byte("{not json"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
