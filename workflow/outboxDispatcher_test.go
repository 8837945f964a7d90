package workflow_test

import (
	"testing"
	"time"

	"github.com/mmdatafocus/sales_backend/integration"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) dispatcher(pub models.EventPublisher) *workflow.OutboxDispatcher {
	d := workflow.NewOutboxDispatcher(f.store, pub, f.logger)
	d.Now = func() time.Time { return f.now }
	return d
}

func (f *fixture) lastRecord() models.OutboxRecord {
	f.t.Helper()
	recs := f.store.OutboxRecords()
	require.NotEmpty(f.t, recs)
	return recs[len(recs)-1]
}

func TestOutboxDispatcher_PublishesCommittedEvents(t *testing.T) {
	f := newFixture(t)
	pub := &integration.RecordingPublisher{}
	d := f.dispatcher(pub)
	q := f.draftQuote()

	sent, err := d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	published := pub.Events()
	require.Len(t, published, 1)
	assert.Equal(t, models.EventQuoteCreated, published[0].Type)
	assert.Equal(t, q.ID, published[0].EntityID)

	rec := f.lastRecord()
	assert.Equal(t, models.OutboxPublishStatusSent, rec.PublishStatus)
	require.NotNil(t, rec.PubSubMessageID)
	assert.Equal(t, "msg-1", *rec.PubSubMessageID)

	sent, err = d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestOutboxDispatcher_RetriesWithBackoff(t *testing.T) {
	f := newFixture(t)
	pub := &integration.RecordingPublisher{}
	d := f.dispatcher(pub)
	f.draftQuote()

	pub.FailNext(1)
	sent, err := d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	rec := f.lastRecord()
	assert.Equal(t, models.OutboxPublishStatusFailed, rec.PublishStatus)
	assert.Equal(t, 1, rec.PublishAttempts)
	require.NotNil(t, rec.NextAttemptAt)
	assert.Equal(t, f.now.Add(5*time.Second), *rec.NextAttemptAt)

	sent, err = d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	f.advance(5 * time.Second)
	sent, err = d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, models.OutboxPublishStatusSent, f.lastRecord().PublishStatus)
	assert.Len(t, pub.Events(), 1)
}

func TestOutboxDispatcher_DeadAfterMaxAttemptsThenRequeue(t *testing.T) {
	f := newFixture(t)
	pub := &integration.RecordingPublisher{}
	d := f.dispatcher(pub)
	d.MaxAttempts = 1
	f.draftQuote()

	pub.FailNext(1)
	_, err := d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	rec := f.lastRecord()
	assert.Equal(t, models.OutboxPublishStatusDead, rec.PublishStatus)
	require.NotNil(t, rec.LastPublishError)

	f.advance(time.Hour)
	sent, err := d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	n, err := f.store.RequeueOutbox(f.ctx, []int64{rec.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sent, err = d.DispatchOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, models.OutboxPublishStatusSent, f.lastRecord().PublishStatus)
}
