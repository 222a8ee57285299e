package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/retry"
)

// ReservationSweepJobName is the name the sweep registers under.
const ReservationSweepJobName = "reservation-sweep"

type expiredSubOrderReader interface {
	FindExpiredPendingSubOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.SubOrder, error)
}

type reservationReleaser interface {
	Release(ctx context.Context, orderID, subOrderID uuid.UUID) (int, error)
}

// ReservationSweepJobParams configure the sweep of expired reservations.
type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Orders    expiredSubOrderReader
	Releaser  reservationReleaser
	Timeout   time.Duration
	BatchSize int
	Retry     retry.Policy
}

// NewReservationSweepJob builds the job that releases reservations of
// sub-orders still awaiting payment after Timeout.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Releaser == nil {
		return nil, fmt.Errorf("reservation releaser required")
	}
	if params.Timeout <= 0 {
		return nil, fmt.Errorf("reservation timeout must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &reservationSweepJob{
		logg:     params.Logger,
		orders:   params.Orders,
		releaser: params.Releaser,
		timeout:  params.Timeout,
		batch:    batch,
		retry:    params.Retry,
		now:      time.Now,
	}, nil
}

type reservationSweepJob struct {
	logg     *logger.Logger
	orders   expiredSubOrderReader
	releaser reservationReleaser
	timeout  time.Duration
	batch    int
	retry    retry.Policy
	now      func() time.Time
}

func (j *reservationSweepJob) Name() string { return ReservationSweepJobName }

// Run releases one batch of expired sub-orders, oldest first. A sub-order
// that still fails after its retries is logged and skipped; the combined
// failures are returned once the batch is done.
func (j *reservationSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.timeout)
	subs, err := j.orders.FindExpiredPendingSubOrders(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query expired sub-orders: %w", err)
	}

	var (
		errs     error
		swept    int
		lines    int
		failures int
	)
	for _, sub := range subs {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		subCtx := j.logg.WithOrder(ctx, sub.OrderID.String(), sub.ID.String())
		var released int
		err := j.retry.Do(subCtx, func(ctx context.Context) error {
			n, err := j.releaser.Release(ctx, sub.OrderID, sub.ID)
			released = n
			return err
		})
		if err != nil {
			failures++
			j.logg.Error(subCtx, "expired reservation release failed", err)
			errs = multierr.Append(errs, fmt.Errorf("release sub-order %s: %w", sub.ID, err))
			continue
		}
		swept++
		lines += released
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"candidates":     len(subs),
		"released":       swept,
		"released_lines": lines,
		"failed":         failures,
	})
	j.logg.Info(logCtx, "reservation sweep complete")
	return errs
}
