package integration

import (
	"encoding/json"
	"fmt"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
)

const EventOpportunityWon = "crm.opportunity.won"

// OpportunityWon is the CRM event that opens a Draft quote.
type OpportunityWon struct {
	OpportunityID string            `json:"opportunityId" validate:"required,max=64"`
	CustomerID    string            `json:"customerId" validate:"required"`
	Currency      string            `json:"currency" validate:"omitempty,currency_code"`
	SalesRepID    string            `json:"salesRepId" validate:"max=64"`
	LineItems     []models.LineItem `json:"lineItems" validate:"dive"`
	CorrelationID string            `json:"correlationId"`
}

// DecodeOpportunityWon unwraps a Pub/Sub push body. Messages of other types are
// reported with ok=false so the push endpoint can ack and drop them.
func DecodeOpportunityWon(body []byte) (msg OpportunityWon, messageID string, ok bool, err error) {
	var env config.PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return OpportunityWon{}, "", false, fmt.Errorf("%w: push envelope: %v", models.ErrInvalidInput, err)
	}
	if t := env.Message.Attributes["event_type"]; t != "" && t != EventOpportunityWon {
		return OpportunityWon{}, env.Message.ID, false, nil
	}
	if err := json.Unmarshal(env.Message.Data, &msg); err != nil {
		return OpportunityWon{}, env.Message.ID, false, fmt.Errorf("%w: %s payload: %v", models.ErrInvalidInput, EventOpportunityWon, err)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = env.Message.Attributes["correlation_id"]
	}
	return msg, env.Message.ID, true, nil
}
