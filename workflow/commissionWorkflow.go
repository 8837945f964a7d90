package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sales_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// commissionBasis is what a commission is computed from: the source document's
// totals and how much of its grand total has been earned so far.
type commissionBasis struct {
	source    models.CommissionSource
	repID     string
	totals    models.Totals
	earned    int64
	qualifies bool
	// closed marks a cancelled order or a voided invoice.
	closed bool
}

func orderSource(id string) models.CommissionSource {
	return models.CommissionSource{Type: models.DocumentTypeSalesOrder, ID: id}
}

func invoiceSource(id string) models.CommissionSource {
	return models.CommissionSource{Type: models.DocumentTypeInvoice, ID: id}
}

func orderBasis(o *models.SalesOrder) commissionBasis {
	b := commissionBasis{source: orderSource(o.ID), repID: o.SalesRepID, totals: o.Totals}
	switch o.Status {
	case models.SalesOrderStatusConfirmed, models.SalesOrderStatusPartiallyFulfilled, models.SalesOrderStatusFulfilled:
		b.earned = o.Totals.GrandTotal
		b.qualifies = true
	case models.SalesOrderStatusDraft:
		b.earned = o.Totals.GrandTotal
	case models.SalesOrderStatusCancelled:
		b.closed = true
	}
	return b
}

func invoiceBasis(inv *models.SalesInvoice) commissionBasis {
	b := commissionBasis{source: invoiceSource(inv.ID), repID: inv.SalesRepID, totals: inv.Totals}
	if inv.Voided {
		b.closed = true
		return b
	}
	b.earned = inv.AmountPaid.Amount
	b.qualifies = inv.BaseStatus() == models.SalesInvoiceStatusPaid
	return b
}

func loadBasis(tx models.Tx, src models.CommissionSource) (commissionBasis, error) {
	switch src.Type {
	case models.DocumentTypeSalesOrder:
		o, err := tx.GetSalesOrder(src.ID)
		if err != nil {
			return commissionBasis{}, err
		}
		return orderBasis(o), nil
	case models.DocumentTypeInvoice:
		inv, err := tx.GetSalesInvoice(src.ID)
		if err != nil {
			return commissionBasis{}, err
		}
		return invoiceBasis(inv), nil
	}
	return commissionBasis{}, src.Validate()
}

func sourceDocKey(src models.CommissionSource) models.LockKey {
	return docKey(src.Type, src.ID)
}

// ComputeCommission accrues base * rate on an order or invoice, where base is the
// pre-tax total, and replaces any earlier computation for the same document. The
// rep comes from the input, then the document, then the HR directory. A Paid
// commission is final and cannot be recomputed.
func (e *Engine) ComputeCommission(ctx context.Context, input models.ComputeCommissionInput) (*models.SalesCommission, error) {
	if err := input.Source.Validate(); err != nil {
		return nil, err
	}
	if input.Rate.Valid {
		if err := validateRate(input.Rate.Decimal); err != nil {
			return nil, err
		}
	}
	keys := []models.LockKey{sourceDocKey(input.Source), input.Source.LockKey()}
	var commission *models.SalesCommission
	err := e.transition(ctx, "ComputeCommission", keys, func(ctx context.Context, tx models.Tx) error {
		basis, err := loadBasis(tx, input.Source)
		if err != nil {
			return err
		}
		if basis.closed {
			return fmt.Errorf("%w: %s %s is closed", models.ErrInvalidSourceStatus, input.Source.Type, input.Source.ID)
		}
		// Later refunds and cancellations rescale this from the full amount.
		basis.earned = basis.totals.GrandTotal
		basis.qualifies = true
		existing, err := findCommission(tx, input.Source)
		if err != nil {
			return err
		}
		repID := input.RepID
		if repID == "" {
			if repID, err = e.resolveRep(ctx, basis); err != nil {
				return err
			}
		}
		if repID == "" {
			return fmt.Errorf("%w: %s %s", models.ErrNoRepAssigned, input.Source.Type, input.Source.ID)
		}
		rate := e.settings.DefaultCommissionRate
		switch {
		case input.Rate.Valid:
			rate = input.Rate.Decimal
		case existing != nil:
			rate = existing.Rate
		}
		c, err := e.upsertCommission(ctx, tx, basis, existing, repID, rate)
		commission = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return commission, nil
}

// syncCommission keeps the commission on a source document in step after a
// lifecycle change. With create=false only an existing commission is touched.
// Paid commissions are left as they are.
func (e *Engine) syncCommission(ctx context.Context, tx models.Tx, basis commissionBasis, create bool) (*models.SalesCommission, error) {
	existing, err := findCommission(tx, basis.source)
	if err != nil {
		return nil, err
	}
	if existing == nil && !create {
		return nil, nil
	}
	if existing != nil && existing.Status == models.CommissionStatusPaid {
		e.logger.WithFields(logrus.Fields{
			"module":        "workflow",
			"commission_id": existing.ID,
			"source":        basis.source.LockKey().ID,
		}).Debug("commission already paid, not recomputed")
		return existing, nil
	}

	var repID string
	rate := e.settings.DefaultCommissionRate
	if existing != nil {
		repID, rate = existing.RepID, existing.Rate
	} else if repID, err = e.resolveRep(ctx, basis); err != nil {
		return nil, err
	}
	if repID == "" {
		e.logger.WithFields(logrus.Fields{
			"module": "workflow",
			"source": basis.source.LockKey().ID,
		}).Warn("no sales rep assigned, commission skipped")
		return nil, nil
	}
	return e.upsertCommission(ctx, tx, basis, existing, repID, rate)
}

func (e *Engine) resolveRep(ctx context.Context, basis commissionBasis) (string, error) {
	if basis.repID != "" {
		return basis.repID, nil
	}
	if e.reps == nil {
		return "", nil
	}
	rep, ok, err := e.reps.AssignedRep(ctx, basis.source.ID)
	if err != nil {
		return "", models.HRError("assigned rep", err)
	}
	if !ok {
		return "", nil
	}
	return rep, nil
}

func (e *Engine) upsertCommission(ctx context.Context, tx models.Tx, basis commissionBasis, existing *models.SalesCommission, repID string, rate decimal.Decimal) (*models.SalesCommission, error) {
	base := basis.totals.GrandTotal - basis.totals.TaxTotal
	amount := models.CommissionAmount(base, rate, basis.earned, basis.totals.GrandTotal)
	action := models.CommissionActionDefer
	if basis.qualifies {
		action = models.CommissionActionAccrue
	}
	from := models.CommissionStatusPending
	if existing != nil {
		from = existing.Status
	}
	next, err := models.CommissionStateMachine.Next(from, action)
	if err != nil {
		return nil, err
	}

	now := e.now()
	c := existing
	if c == nil {
		c = &models.SalesCommission{
			ID:         uuid.NewString(),
			SourceType: basis.source.Type,
			SourceID:   basis.source.ID,
			Version:    1,
			CreatedAt:  now,
		}
	}
	c.RepID = repID
	c.Currency = basis.totals.Currency
	c.Rate = rate
	c.BaseAmount = base
	c.Amount = amount
	c.Status = next
	c.UpdatedAt = now
	if existing == nil {
		err = tx.CreateCommission(c)
	} else {
		err = tx.UpdateCommission(c)
	}
	if err != nil {
		return nil, err
	}
	ev := e.event(ctx, models.EventCommissionCalculated, models.DocumentTypeCommission, c.ID, string(c.Status), nil).
		With("rep_id", c.RepID).
		With("source_type", c.SourceType).
		With("source_id", c.SourceID).
		With("currency", c.Currency).
		With("rate", c.Rate.String()).
		With("base_amount", c.BaseAmount).
		With("amount", c.Amount)
	if err := tx.Enqueue(ev); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkCommissionPaid settles an Accrued commission. Paid is final.
func (e *Engine) MarkCommissionPaid(ctx context.Context, ref models.DocumentRef) (*models.SalesCommission, error) {
	current, err := e.GetCommission(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	var commission *models.SalesCommission
	err = e.transition(ctx, "MarkCommissionPaid", []models.LockKey{current.Source().LockKey()}, func(ctx context.Context, tx models.Tx) error {
		c, err := tx.GetCommission(ref.ID)
		if err != nil {
			return err
		}
		if err := ref.CheckVersion(models.DocumentTypeCommission, c.Version); err != nil {
			return err
		}
		next, err := models.CommissionStateMachine.Next(c.Status, models.CommissionActionPay)
		if err != nil {
			return err
		}
		now := e.now()
		c.Status = next
		c.PaidAt = &now
		c.UpdatedAt = now
		if err := tx.UpdateCommission(c); err != nil {
			return err
		}
		ev := e.event(ctx, models.EventCommissionPaid, models.DocumentTypeCommission, c.ID, string(c.Status), nil).
			With("rep_id", c.RepID).
			With("currency", c.Currency).
			With("amount", c.Amount)
		if err := tx.Enqueue(ev); err != nil {
			return err
		}
		commission = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commission, nil
}

func (e *Engine) GetCommission(ctx context.Context, id string) (*models.SalesCommission, error) {
	var commission *models.SalesCommission
	err := e.view(ctx, func(tx models.Tx) error {
		c, err := tx.GetCommission(id)
		commission = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return commission, nil
}

func (e *Engine) GetCommissionBySource(ctx context.Context, src models.CommissionSource) (*models.SalesCommission, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	var commission *models.SalesCommission
	err := e.view(ctx, func(tx models.Tx) error {
		c, err := tx.GetCommissionBySource(src)
		commission = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return commission, nil
}

func findCommission(tx models.Tx, src models.CommissionSource) (*models.SalesCommission, error) {
	c, err := tx.GetCommissionBySource(src)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: commission rate %s must be within [0, 1]", models.ErrInvalidInput, rate)
	}
	return nil
}
