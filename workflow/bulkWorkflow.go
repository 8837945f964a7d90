package workflow

import (
	"context"

	"github.com/mmdatafocus/sales_backend/models"
	"golang.org/x/sync/errgroup"
)

// BulkItemResult reports one item of a bulk run. Items fail independently.
type BulkItemResult struct {
	Index    int    `json:"index"`
	SourceID string `json:"source_id"`
	ResultID string `json:"result_id,omitempty"`
	Err      error  `json:"-"`
}

func (r BulkItemResult) OK() bool { return r.Err == nil }

// PaymentRequest is one payment of a bulk settlement run.
type PaymentRequest struct {
	Payment     models.NewCustomerPayment  `json:"payment"`
	Allocations []models.PaymentAllocation `json:"allocations"`
}

// BulkConvertQuotes converts each accepted quote into an order, running up to
// BulkParallelism conversions at once.
func (e *Engine) BulkConvertQuotes(ctx context.Context, refs []models.DocumentRef) []BulkItemResult {
	return e.runBulk(ctx, len(refs), func(ctx context.Context, i int) (string, string, error) {
		o, err := e.ConvertQuoteToOrder(ctx, refs[i])
		if err != nil {
			return refs[i].ID, "", err
		}
		return refs[i].ID, o.ID, nil
	})
}

// BulkReceivePayments records and applies each payment. A payment that fails
// leaves the others untouched.
func (e *Engine) BulkReceivePayments(ctx context.Context, reqs []PaymentRequest) []BulkItemResult {
	return e.runBulk(ctx, len(reqs), func(ctx context.Context, i int) (string, string, error) {
		p, err := e.ReceivePayment(ctx, reqs[i].Payment, reqs[i].Allocations)
		if err != nil {
			return reqs[i].Payment.ID, "", err
		}
		return reqs[i].Payment.ID, p.ID, nil
	})
}

func (e *Engine) runBulk(ctx context.Context, n int, fn func(ctx context.Context, i int) (string, string, error)) []BulkItemResult {
	results := make([]BulkItemResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.settings.BulkParallelism, 1))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i].Index = i
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].SourceID, results[i].ResultID, results[i].Err = fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
