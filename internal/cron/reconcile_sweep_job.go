package cron

import (
	"context"
	"fmt"

	"github.com/maralempay/maralempay-backend/internal/reconcile"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

type sweeper interface {
	SweepStale(ctx context.Context) (*reconcile.SweepResult, error)
}

// ReconcileSweepJobParams configure the reconciliation sweep job.
type ReconcileSweepJobParams struct {
	Logger *logger.Logger
	Engine sweeper
}

// NewReconcileSweepJob builds the job that re-verifies stale charges and
// retries parked refunds.
func NewReconcileSweepJob(params ReconcileSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	return &reconcileSweepJob{
		logg:   params.Logger,
		engine: params.Engine,
	}, nil
}

type reconcileSweepJob struct {
	logg   *logger.Logger
	engine sweeper
}

func (j *reconcileSweepJob) Name() string { return "reconcile-sweep" }

func (j *reconcileSweepJob) Run(ctx context.Context) error {
	result, err := j.engine.SweepStale(ctx)
	if result != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"verified_stale":  result.VerifiedStale,
			"retried_refunds": result.RetriedRefunds,
		})
		j.logg.Info(logCtx, "reconcile sweep pass complete")
	}
	if err != nil {
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	return nil
}
