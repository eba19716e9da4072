package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/workshop-backend/internal/stock"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
)

const defaultAuditBatch = 500

type driftLister interface {
	ListDrift(ctx context.Context, limit int) ([]stock.Drift, error)
}

type driftGauge interface {
	SetLedgerDrift(n int)
}

// LedgerAuditJobParams configure the ledger audit.
type LedgerAuditJobParams struct {
	Logger     *logger.Logger
	Repository driftLister
	Metrics    driftGauge
	Batch      int
}

// NewLedgerAuditJob compares every product's cached stock with its ledger sum.
// It only reports; it never rewrites stock.
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultAuditBatch
	}
	return &ledgerAuditJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
		batch:   batch,
	}, nil
}

type ledgerAuditJob struct {
	logg    *logger.Logger
	repo    driftLister
	metrics driftGauge
	batch   int
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	drift, err := j.repo.ListDrift(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("ledger audit: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetLedgerDrift(len(drift))
	}

	for _, d := range drift {
		logCtx := j.logg.WithProductID(ctx, d.ProductID.String())
		logCtx = j.logg.WithFields(logCtx, map[string]any{
			"sku":           d.SKU,
			"current_stock": d.CurrentStock,
			"ledger_sum":    d.LedgerSum,
		})
		j.logg.Warn(logCtx, "stock ledger drift detected")
	}

	logCtx := j.logg.WithField(ctx, "drifted_products", len(drift))
	if len(drift) >= j.batch {
		logCtx = j.logg.WithField(logCtx, "truncated", true)
	}
	j.logg.Info(logCtx, "ledger audit complete")
	return nil
}
