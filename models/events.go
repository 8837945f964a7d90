package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventQuoteCreated   EventType = "sales.quote.created"
	EventQuoteSent      EventType = "sales.quote.sent"
	EventQuoteAccepted  EventType = "sales.quote.accepted"
	EventQuoteRejected  EventType = "sales.quote.rejected"
	EventQuoteConverted EventType = "sales.quote.converted"

	EventOrderCreated   EventType = "sales.order.created"
	EventOrderConfirmed EventType = "sales.order.confirmed"
	EventOrderShipped   EventType = "sales.order.shipped"
	EventOrderCancelled EventType = "sales.order.cancelled"

	EventInvoiceCreated EventType = "sales.invoice.created"
	EventInvoiceSent    EventType = "sales.invoice.sent"
	EventInvoicePaid    EventType = "sales.invoice.paid"
	EventInvoiceVoided  EventType = "sales.invoice.voided"

	EventPaymentReceived EventType = "sales.payment.received"
	EventPaymentRefunded EventType = "sales.payment.refunded"

	EventCommissionCalculated EventType = "sales.commission.calculated"
	EventCommissionPaid       EventType = "sales.commission.paid"
)

// Event is the outbound payload: entity id, resulting status, totals snapshot
// plus type specific fields in Data.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	EntityType    DocumentType   `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Status        string         `json:"status"`
	Totals        *Totals        `json:"totals,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func NewEvent(eventType EventType, entityType DocumentType, entityID string, status string, totals *Totals, occurredAt time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     status,
		Totals:     totals,
		OccurredAt: occurredAt.UTC(),
	}
}

func (e Event) With(key string, value any) Event {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// NewOutboxRecord serializes e into a PENDING outbox row.
func NewOutboxRecord(e Event) (OutboxRecord, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxRecord{}, err
	}
	return OutboxRecord{
		EventID:       e.ID,
		EventType:     string(e.Type),
		EntityID:      e.EntityID,
		Payload:       string(payload),
		CorrelationID: e.CorrelationID,
		PublishStatus: OutboxPublishStatusPending,
		CreatedAt:     e.OccurredAt,
	}, nil
}
