package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mmdatafocus/sales_backend/config"
	"github.com/mmdatafocus/sales_backend/models"
)

// PubSubEventPublisher sends outbox events to a Google Pub/Sub topic, ordered per entity.
type PubSubEventPublisher struct {
	Topic string
}

func NewPubSubEventPublisher(topic string) *PubSubEventPublisher {
	return &PubSubEventPublisher{Topic: topic}
}

func (p *PubSubEventPublisher) Publish(ctx context.Context, e models.Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	attrs := map[string]string{
		"event_type":  string(e.Type),
		"entity_type": string(e.EntityType),
		"entity_id":   e.EntityID,
	}
	if e.CorrelationID != "" {
		attrs["correlation_id"] = e.CorrelationID
	}
	return config.PublishSalesEventWithResult(ctx, p.Topic, e.EntityID, data, attrs)
}

// RecordingPublisher keeps published events in memory. FailNext makes the next
// n publishes fail.
type RecordingPublisher struct {
	mu       sync.Mutex
	events   []models.Event
	failures int
}

func (p *RecordingPublisher) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

func (p *RecordingPublisher) Publish(ctx context.Context, e models.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return "", fmt.Errorf("publish %s: transport unavailable", e.Type)
	}
	p.events = append(p.events, e)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func (p *RecordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}
