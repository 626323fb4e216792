package reconcile

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/maralempay/maralempay-backend/pkg/enums"
)

// SweepResult summarizes one pass of the background reconciliation sweep.
type SweepResult struct {
	VerifiedStale  int `json:"verified_stale"`
	RetriedRefunds int `json:"retried_refunds"`
}

// SweepStale re-drives transactions the normal flow lost track of: charges
// stuck in initialized beyond the staleness window are re-verified, and
// refund_pending rows get another refund attempt. Individual failures are
// collected, not fatal; the next sweep picks the survivors up again.
func (e *Engine) SweepStale(ctx context.Context) (*SweepResult, error) {
	cutoff := time.Now().UTC().Add(-e.stalenessWindow)
	result := &SweepResult{}
	var errs error

	stale, err := e.repo.ListStaleByStatus(ctx, enums.TransactionStatusInitialized, cutoff, e.sweepBatchSize)
	if err != nil {
		return result, err
	}
	for _, txn := range stale {
		if _, verr := e.Verify(ctx, txn.Reference); verr != nil {
			errs = multierr.Append(errs, verr)
			continue
		}
		result.VerifiedStale++
	}

	pending, err := e.repo.ListStaleByStatus(ctx, enums.TransactionStatusRefundPending, time.Now().UTC(), e.sweepBatchSize)
	if err != nil {
		return result, multierr.Append(errs, err)
	}
	for _, txn := range pending {
		if _, rerr := e.RetryRefund(ctx, txn.Reference); rerr != nil {
			errs = multierr.Append(errs, rerr)
			continue
		}
		result.RetriedRefunds++
	}

	return result, errs
}
