package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/workshop-backend/pkg/logger"
)

type lowStockSweeper interface {
	Sweep(ctx context.Context) (int, error)
	Threshold() int
}

// LowStockJobParams configure the low-stock sweep.
type LowStockJobParams struct {
	Logger   *logger.Logger
	Notifier lowStockSweeper
}

// NewLowStockJob re-alerts every product at or under the low-stock threshold.
func NewLowStockJob(params LowStockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("low stock notifier required")
	}
	return &lowStockJob{logg: params.Logger, notifier: params.Notifier}, nil
}

type lowStockJob struct {
	logg     *logger.Logger
	notifier lowStockSweeper
}

func (j *lowStockJob) Name() string { return "low-stock-sweep" }

func (j *lowStockJob) Run(ctx context.Context) error {
	published, err := j.notifier.Sweep(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"threshold": j.notifier.Threshold(),
		"published": published,
	})
	if err != nil {
		return fmt.Errorf("low stock sweep: %w", err)
	}
	j.logg.Info(logCtx, "low stock sweep complete")
	return nil
}
