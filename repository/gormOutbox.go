package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/sales_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) ClaimOutbox(ctx context.Context, req models.ClaimRequest) ([]models.OutboxRecord, error) {
	var claimed []models.OutboxRecord
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch)
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, req.Now,
				models.OutboxPublishStatusProcessing, req.StaleBefore).
			Order("id ASC").
			Limit(req.Limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if req.MaxAttempts > 0 && claimed[i].PublishAttempts >= req.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", req.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				claimed[i].LastPublishError = &msg
				if err := tx.Model(&models.OutboxRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			now := req.Now
			by := req.DispatcherID
			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &by
			claimed[i].PublishAttempts++
			claimed[i].LastPublishError = nil
			if err := tx.Model(&models.OutboxRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &by,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *GormStore) MarkOutboxSent(ctx context.Context, id int64, messageID string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.OutboxRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &at,
			"pub_sub_message_id": &messageID,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (s *GormStore) MarkOutboxFailed(ctx context.Context, id int64, lastErr string, next time.Time, dead bool) error {
	updates := map[string]interface{}{
		"publish_status":     models.OutboxPublishStatusFailed,
		"last_publish_error": &lastErr,
		"next_attempt_at":    &next,
		"locked_at":          nil,
		"locked_by":          nil,
	}
	if dead {
		updates["publish_status"] = models.OutboxPublishStatusDead
		updates["next_attempt_at"] = nil
	}
	return s.DB.WithContext(ctx).Model(&models.OutboxRecord{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) RequeueOutbox(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.DB.WithContext(ctx).Model(&models.OutboxRecord{}).
		Where("id IN ?", ids).
		Where("publish_status IN ?", []string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed}).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"last_publish_error": nil,
		})
	return res.RowsAffected, res.Error
}
