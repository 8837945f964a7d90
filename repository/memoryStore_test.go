package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/sales_backend/models"
	"github.com/mmdatafocus/sales_backend/repository"
	"github.com/mmdatafocus/sales_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedQuote(t *testing.T, s *repository.MemoryStore) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx models.Tx) error {
		return tx.CreateQuote(&models.Quote{ID: "q1", CustomerID: "c1", Currency: "USD", Status: models.QuoteStatusDraft})
	})
	require.NoError(t, err)
}

func TestMemoryStore_UpdateComparesVersion(t *testing.T) {
	s := repository.NewMemoryStore()
	seedQuote(t, s)
	ctx := context.Background()

	var stale *models.Quote
	require.NoError(t, s.View(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		stale = q
		return err
	}))
	assert.Equal(t, 1, stale.Version)

	require.NoError(t, s.InTx(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		if err != nil {
			return err
		}
		q.Status = models.QuoteStatusSent
		if err := tx.UpdateQuote(q); err != nil {
			return err
		}
		assert.Equal(t, 2, q.Version)
		return nil
	}))

	err := s.InTx(ctx, func(tx models.Tx) error {
		stale.Status = models.QuoteStatusRejected
		return tx.UpdateQuote(stale)
	})
	assert.ErrorIs(t, err, models.ErrConcurrentModification)
}

func TestMemoryStore_FailedUnitOfWorkLeavesNothing(t *testing.T) {
	s := repository.NewMemoryStore()
	seedQuote(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		if err != nil {
			return err
		}
		q.Status = models.QuoteStatusSent
		if err := tx.UpdateQuote(q); err != nil {
			return err
		}
		if _, err := tx.NextSequence("quote"); err != nil {
			return err
		}
		if err := tx.Enqueue(models.NewEvent(models.EventQuoteSent, models.DocumentTypeQuote, "q1", "Sent", nil, time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		require.NoError(t, err)
		assert.Equal(t, models.QuoteStatusDraft, q.Status)
		assert.Equal(t, 1, q.Version)
		return nil
	}))
	assert.Empty(t, s.OutboxRecords())

	require.NoError(t, s.InTx(ctx, func(tx models.Tx) error {
		n, err := tx.NextSequence("quote")
		assert.Equal(t, int64(1), n)
		return err
	}))
}

func TestMemoryStore_ViewIsReadOnly(t *testing.T) {
	s := repository.NewMemoryStore()
	err := s.View(context.Background(), func(tx models.Tx) error {
		return tx.CreateCustomer(&models.Customer{ID: "c1", Currency: "USD"})
	})
	assert.Error(t, err)
}

func TestMemoryStore_ReturnedDocumentsAreCopies(t *testing.T) {
	s := repository.NewMemoryStore()
	seedQuote(t, s)
	ctx := context.Background()

	require.NoError(t, s.View(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		q.Status = models.QuoteStatusAccepted
		return err
	}))
	require.NoError(t, s.View(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		assert.Equal(t, models.QuoteStatusDraft, q.Status)
		return err
	}))
}

func TestMemoryStore_DuplicatePaymentID(t *testing.T) {
	s := repository.NewMemoryStore()
	ctx := context.Background()
	payment := func() *models.CustomerPayment {
		return &models.CustomerPayment{ID: "pay-1", CustomerID: "c1", Amount: utils.NewMoney(100, "USD"), Status: models.PaymentStatusRecorded}
	}
	require.NoError(t, s.InTx(ctx, func(tx models.Tx) error { return tx.CreatePayment(payment()) }))

	err := s.InTx(ctx, func(tx models.Tx) error { return tx.CreatePayment(payment()) })
	assert.ErrorIs(t, err, models.ErrDuplicatePayment)
}

func TestMemoryStore_IdempotencyKeyClaimedOnce(t *testing.T) {
	s := repository.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx models.Tx) error {
		got, claimed, err := tx.ClaimIdempotencyKey("crm.opportunity.won", "opp-1", "q1")
		assert.True(t, claimed)
		assert.Equal(t, "q1", got)
		return err
	}))
	require.NoError(t, s.InTx(ctx, func(tx models.Tx) error {
		got, claimed, err := tx.ClaimIdempotencyKey("crm.opportunity.won", "opp-1", "q2")
		assert.False(t, claimed)
		assert.Equal(t, "q1", got)
		return err
	}))
}

func TestMemoryStore_CommissionUniquePerSource(t *testing.T) {
	s := repository.NewMemoryStore()
	ctx := context.Background()
	src := models.CommissionSource{Type: models.DocumentTypeInvoice, ID: "i1"}
	commission := func(id string) *models.SalesCommission {
		return &models.SalesCommission{ID: id, SourceType: src.Type, SourceID: src.ID, RepID: "rep-1", Currency: "USD"}
	}
	require.NoError(t, s.InTx(ctx, func(tx models.Tx) error { return tx.CreateCommission(commission("k1")) }))

	err := s.InTx(ctx, func(tx models.Tx) error { return tx.CreateCommission(commission("k2")) })
	require.Error(t, err)

	require.NoError(t, s.View(ctx, func(tx models.Tx) error {
		c, err := tx.GetCommissionBySource(src)
		if err != nil {
			return err
		}
		assert.Equal(t, "k1", c.ID)
		return nil
	}))
}

func TestMemoryStore_OutboxClaimRetryAndDead(t *testing.T) {
	s := repository.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InTx(ctx, func(tx models.Tx) error {
		return tx.Enqueue(models.NewEvent(models.EventOrderConfirmed, models.DocumentTypeSalesOrder, "o1", "Confirmed", nil, now))
	}))
	req := models.ClaimRequest{DispatcherID: "d1", Limit: 10, Now: now, StaleBefore: now.Add(-time.Minute), MaxAttempts: 2}

	claimed, err := s.ClaimOutbox(ctx, req)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	id := claimed[0].ID
	assert.Equal(t, models.OutboxPublishStatusProcessing, claimed[0].PublishStatus)
	assert.Equal(t, 1, claimed[0].PublishAttempts)

	// A PROCESSING row with a fresh lock is not claimable.
	again, err := s.ClaimOutbox(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.MarkOutboxFailed(ctx, id, "unavailable", now.Add(time.Minute), false))
	early, err := s.ClaimOutbox(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, early)

	req.Now = now.Add(2 * time.Minute)
	claimed, err = s.ClaimOutbox(ctx, req)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].PublishAttempts)
	require.NoError(t, s.MarkOutboxFailed(ctx, id, "unavailable", req.Now, false))

	req.Now = now.Add(3 * time.Minute)
	claimed, err = s.ClaimOutbox(ctx, req)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, models.OutboxPublishStatusDead, claimed[0].PublishStatus)

	n, err := s.RequeueOutbox(ctx, []int64{id, 999})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	rec := s.OutboxRecords()[0]
	assert.Equal(t, models.OutboxPublishStatusPending, rec.PublishStatus)
	assert.Zero(t, rec.PublishAttempts)

	claimed, err = s.ClaimOutbox(ctx, req)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, s.MarkOutboxSent(ctx, id, "msg-1", req.Now))
	rec = s.OutboxRecords()[0]
	assert.Equal(t, models.OutboxPublishStatusSent, rec.PublishStatus)
	require.NotNil(t, rec.PubSubMessageID)
	assert.Equal(t, "msg-1", *rec.PubSubMessageID)
}

func TestMemoryStore_UnencodableEventFailsTheUnitOfWork(t *testing.T) {
	s := repository.NewMemoryStore()
	seedQuote(t, s)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		if err != nil {
			return err
		}
		q.Status = models.QuoteStatusSent
		if err := tx.UpdateQuote(q); err != nil {
			return err
		}
		ev := models.NewEvent(models.EventQuoteSent, models.DocumentTypeQuote, "q1", "Sent", nil, time.Now()).
			With("callback", func() {})
		return tx.Enqueue(ev)
	})
	require.Error(t, err)

	assert.Empty(t, s.OutboxRecords())
	require.NoError(t, s.View(ctx, func(tx models.Tx) error {
		q, err := tx.GetQuote("q1")
		if err != nil {
			return err
		}
		assert.Equal(t, models.QuoteStatusDraft, q.Status)
		assert.Equal(t, 1, q.Version)
		return nil
	}))
}
