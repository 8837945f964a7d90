package models

import (
	"context"
	"encoding/json"
	"time"
)

// Outbox publish statuses for OutboxRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// OutboxRecord is written in the same transaction as the document change and
// published after commit by the dispatcher.
type OutboxRecord struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID          string     `gorm:"size:36;uniqueIndex;not null" json:"event_id"`
	EventType        string     `gorm:"size:64;index;not null" json:"event_type"`
	EntityID         string     `gorm:"size:64;index" json:"entity_id"`
	Payload          string     `gorm:"type:text;not null" json:"payload"`
	CorrelationID    string     `gorm:"size:64" json:"correlation_id"`
	PublishStatus    string     `gorm:"size:20;not null;index" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageID  *string    `gorm:"size:128" json:"pub_sub_message_id"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (r OutboxRecord) Event() (Event, error) {
	var e Event
	err := json.Unmarshal([]byte(r.Payload), &e)
	return e, err
}

// ClaimRequest selects publishable records: PENDING/FAILED whose retry time has come,
// and PROCESSING records whose lock went stale.
type ClaimRequest struct {
	DispatcherID string
	Limit        int
	Now          time.Time
	StaleBefore  time.Time
	MaxAttempts  int
}

// Outbox is the dispatcher's view of the outbox table.
type Outbox interface {
	// ClaimOutbox marks claimed records PROCESSING with attempts+1. Records already at
	// MaxAttempts are moved to DEAD and returned with that status so they can be skipped.
	ClaimOutbox(ctx context.Context, req ClaimRequest) ([]OutboxRecord, error)
	MarkOutboxSent(ctx context.Context, id int64, messageID string, at time.Time) error
	// MarkOutboxFailed records lastErr; dead moves the record to DEAD, otherwise it is retried at next.
	MarkOutboxFailed(ctx context.Context, id int64, lastErr string, next time.Time, dead bool) error
	// RequeueOutbox puts FAILED/DEAD records back to PENDING with a fresh attempt budget.
	RequeueOutbox(ctx context.Context, ids []int64) (int64, error)
}
