package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

// IdempotencyKey deduplicates inbound messages. It is inserted in the same
// transaction as the message's effects, so a stored row means the work committed.
// Unique constraint: (handler_name, message_id).
type IdempotencyKey struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	HandlerName string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	MessageId   string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"message_id"`
	ResultID    string            `gorm:"size:64" json:"result_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
