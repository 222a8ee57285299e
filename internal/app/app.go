// Package app assembles the stock services shared by the binaries.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/shopcore-backend/internal/cron"
	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/internal/orders"
	"github.com/angelmondragon/shopcore-backend/internal/reservation"
	"github.com/angelmondragon/shopcore-backend/internal/stockcache"
	"github.com/angelmondragon/shopcore-backend/pkg/config"
	"github.com/angelmondragon/shopcore-backend/pkg/db"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
	"github.com/angelmondragon/shopcore-backend/pkg/outbox"
	"github.com/angelmondragon/shopcore-backend/pkg/retry"
)

// Params are the handles each binary constructs itself.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Cache      stockcache.Store
	Registerer prometheus.Registerer
}

// Components is the wired service graph.
type Components struct {
	Orders     orders.Repository
	Records    inventory.Repository
	Ledger     inventory.LedgerRepository
	OutboxRepo *outbox.Repository
	Mirror     *stockcache.Mirror
	Inventory  *inventory.Service
	Auditor    *inventory.Auditor
	Engine     *reservation.Engine

	cfg    *config.Config
	logg   *logger.Logger
	dbc    *db.Client
	cronMx *metrics.CronJobMetrics
}

// Build wires repositories, the cache mirror, the stock administration
// service and the reservation engine over one database and cache.
func Build(params Params) (*Components, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("cache store required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	conn := params.DB.DB()
	orderRepo := orders.NewRepository(conn)
	records := inventory.NewRepository(conn)
	ledger := inventory.NewLedgerRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	mirror, err := stockcache.NewMirror(stockcache.Params{
		Store:   params.Cache,
		Reader:  records,
		TTL:     params.Config.Cache.StockTTL,
		Metrics: metrics.NewCacheMetrics(params.Registerer),
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("stock cache: %w", err)
	}

	invSvc, err := inventory.NewService(inventory.ServiceParams{
		DB:      params.DB,
		Records: records,
		Ledger:  ledger,
		Outbox:  outboxSvc,
		Cache:   mirror,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	auditor, err := inventory.NewAuditor(records, ledger, logg)
	if err != nil {
		return nil, fmt.Errorf("auditor: %w", err)
	}

	engine, err := reservation.NewEngine(reservation.Params{
		DB:      params.DB,
		Orders:  orderRepo,
		Records: records,
		Ledger:  ledger,
		Outbox:  outboxSvc,
		Cache:   mirror,
		Metrics: metrics.NewReservationMetrics(params.Registerer),
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("reservation engine: %w", err)
	}

	return &Components{
		Orders:     orderRepo,
		Records:    records,
		Ledger:     ledger,
		OutboxRepo: outboxRepo,
		Mirror:     mirror,
		Inventory:  invSvc,
		Auditor:    auditor,
		Engine:     engine,
		cfg:        params.Config,
		logg:       logg,
		dbc:        params.DB,
		cronMx:     metrics.NewCronJobMetrics(params.Registerer),
	}, nil
}

// CronMetrics returns the job metrics registered by Build.
func (c *Components) CronMetrics() *metrics.CronJobMetrics {
	return c.cronMx
}

// SweepJob builds the reservation sweep from the reservation config.
func (c *Components) SweepJob() (cron.Job, error) {
	return cron.NewReservationSweepJob(cron.ReservationSweepJobParams{
		Logger:    c.logg,
		Orders:    c.Orders,
		Releaser:  c.Engine,
		Timeout:   c.cfg.Reservation.Timeout,
		BatchSize: c.cfg.Reservation.SweepBatchSize,
		Retry:     retry.FromConfig(c.cfg.Reservation),
	})
}

// CronRegistry returns the jobs run by the cron worker: the reservation
// sweep first, then outbox retention.
func (c *Components) CronRegistry() (*cron.Registry, error) {
	sweep, err := c.SweepJob()
	if err != nil {
		return nil, fmt.Errorf("reservation sweep job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           c.logg,
		DB:               c.dbc,
		Repository:       c.OutboxRepo,
		RetentionDays:    c.cfg.Outbox.RetentionDays,
		TerminalAttempts: c.cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	return cron.NewRegistry(sweep, retention), nil
}
