package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lodestar-erp/lodestar-erp/internal/billing"
	jobmetrics "github.com/lodestar-erp/lodestar-erp/internal/jobs"
)

// OverdueSweepJob recomputes pending vendor bills past their due date to
// overdue. The sweep is idempotent, so overlapping runs are harmless.
type OverdueSweepJob struct {
	Service *billing.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueSweepJob initialises the sweep handler. Metrics may be nil.
func NewOverdueSweepJob(service *billing.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueSweepJob {
	return &OverdueSweepJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *OverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("overdue sweep: handler not configured")
	}
	tracker := j.Metrics.Track("overdue_sweep")
	asOf := j.clock()
	flipped, err := j.Service.SweepOverdue(ctx, asOf)
	if err != nil {
		j.Logger.Error("overdue sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddBillsFlipped(flipped)
	j.Logger.Info("overdue sweep completed",
		slog.Int64("bills_flipped", flipped),
		slog.Time("as_of", asOf),
	)
	return tracker.End(nil)
}
