package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/sirupsen/logrus"
)

// OutboxDispatcher publishes committed outbox events. Delivery is at least once;
// consumers dedupe on the event id.
type OutboxDispatcher struct {
	Outbox       models.Outbox
	Publisher    models.EventPublisher
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Now func() time.Time
}

func NewOutboxDispatcher(outbox models.Outbox, publisher models.EventPublisher, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		Outbox:         outbox,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		Now:            time.Now,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && d.Logger != nil && ctx.Err() == nil {
			d.Logger.WithField("dispatcher_id", d.DispatcherID).Error("outbox claim failed: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many events were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d.Outbox == nil || d.Publisher == nil {
		return 0, nil
	}
	now := d.now()
	claimed, err := d.Outbox.ClaimOutbox(ctx, models.ClaimRequest{
		DispatcherID: d.DispatcherID,
		Limit:        d.BatchSize,
		Now:          now,
		StaleBefore:  now.Add(-d.LockTimeout),
		MaxAttempts:  d.MaxAttempts,
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range claimed {
		// Rows past MaxAttempts come back already marked DEAD.
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		ev, err := rec.Event()
		if err != nil {
			d.markFailed(ctx, rec, fmt.Errorf("decode payload: %w", err), true)
			continue
		}
		msgID, err := d.Publisher.Publish(ctx, ev)
		if err != nil {
			d.markFailed(ctx, rec, err, d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts)
			continue
		}
		if err := d.Outbox.MarkOutboxSent(ctx, rec.ID, msgID, d.now()); err != nil {
			d.logRecord(rec, logrus.Fields{}).Error("outbox mark sent failed: " + err.Error())
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) markFailed(ctx context.Context, rec models.OutboxRecord, cause error, dead bool) {
	next := d.now().Add(d.backoff(rec.PublishAttempts))
	if err := d.Outbox.MarkOutboxFailed(ctx, rec.ID, cause.Error(), next, dead); err != nil {
		d.logRecord(rec, logrus.Fields{}).Error("outbox mark failed: " + err.Error())
		return
	}
	if dead {
		d.logRecord(rec, logrus.Fields{}).Error("outbox publish moved to DEAD: " + cause.Error())
		return
	}
	d.logRecord(rec, logrus.Fields{"next_attempt_at": next.Format(time.RFC3339Nano)}).Warn("outbox publish failed: " + cause.Error())
}

// backoff doubles from InitialBackoff per attempt, capped at MaxBackoff.
func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	limit := d.MaxBackoff
	if limit <= 0 {
		limit = 10 * time.Minute
	}
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= limit {
			return limit
		}
	}
	return backoff
}

func (d *OutboxDispatcher) logRecord(rec models.OutboxRecord, fields logrus.Fields) *logrus.Entry {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fields["field"] = "OutboxDispatcher"
	fields["record_id"] = rec.ID
	fields["event_type"] = rec.EventType
	fields["entity_id"] = rec.EntityID
	fields["attempt"] = rec.PublishAttempts
	return logger.WithFields(fields)
}

func (d *OutboxDispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
