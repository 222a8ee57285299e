package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/internal/orders"
	"github.com/angelmondragon/shopcore-backend/pkg/db"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
	"github.com/angelmondragon/shopcore-backend/pkg/outbox"
	"github.com/angelmondragon/shopcore-backend/pkg/outbox/payloads"
)

const tracerName = "github.com/angelmondragon/shopcore-backend/internal/reservation"

const (
	opReserve = "reserve"
	opRelease = "release"
	opCommit  = "commit"
)

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Params wires the reservation engine.
type Params struct {
	DB      db.TxRunner
	Orders  orders.Repository
	Records inventory.Repository
	Ledger  inventory.LedgerRepository
	Outbox  outboxEmitter
	Cache   inventory.CacheEvictor
	Metrics *metrics.ReservationMetrics
	Tracer  trace.Tracer
	Logger  *logger.Logger
}

// Engine reserves, releases and commits stock for sub-orders. Each call
// runs in one transaction holding the sub-order row lock and the row locks
// of every inventory record it touches.
type Engine struct {
	db      db.TxRunner
	orders  orders.Repository
	records inventory.Repository
	ledger  inventory.LedgerRepository
	outbox  outboxEmitter
	cache   inventory.CacheEvictor
	metrics *metrics.ReservationMetrics
	tracer  trace.Tracer
	logg    *logger.Logger
	now     func() time.Time
}

// NewEngine validates params and returns an Engine.
func NewEngine(params Params) (*Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("cache evictor required")
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{
		db:      params.DB,
		orders:  params.Orders,
		records: params.Records,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		cache:   params.Cache,
		metrics: params.Metrics,
		tracer:  tracer,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (e *Engine) start(ctx context.Context, op string, orderID, subOrderID uuid.UUID) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "reservation."+op, trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("sub_order.id", subOrderID.String()),
	))
	return e.logg.WithOrder(ctx, orderID.String(), subOrderID.String()), span
}

func (e *Engine) finish(ctx context.Context, span trace.Span, op, outcome string, err error) {
	defer span.End()
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock):
			outcome = metrics.OutcomeOutOfStock
		default:
			outcome = metrics.OutcomeError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(pkgerrors.As(err).Code()))
		if !pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock) && !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			e.logg.Error(e.logg.WithField(ctx, "operation", op), "reservation operation failed", err)
		}
	}
	span.SetAttributes(attribute.String("reservation.outcome", outcome))
	e.metrics.Observe(op, outcome)
}

// lockSubOrder row-locks the sub-order and checks it belongs to orderID.
func (e *Engine) lockSubOrder(ctx context.Context, repo orders.Repository, orderID, subOrderID uuid.UUID) (*models.SubOrder, error) {
	sub, err := repo.FindSubOrderForUpdate(ctx, subOrderID)
	if err != nil {
		return nil, storeError(err, "sub-order not found", "lock sub-order")
	}
	if sub.OrderID != orderID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found").
			WithDetails(map[string]any{"order_id": orderID, "sub_order_id": subOrderID})
	}
	return sub, nil
}

// lockRecords row-locks the records of lines in sorted key order.
func (e *Engine) lockRecords(ctx context.Context, repo inventory.Repository, lines []inventory.LineKey) (map[string]*models.InventoryRecord, error) {
	seen := map[string]struct{}{}
	var keys []inventory.Key
	for _, line := range lines {
		if _, ok := seen[line.Record.String()]; ok {
			continue
		}
		seen[line.Record.String()] = struct{}{}
		keys = append(keys, line.Record)
	}
	inventory.SortKeys(keys)

	locked := make(map[string]*models.InventoryRecord, len(keys))
	for _, key := range keys {
		rec, err := repo.FindForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "inventory record not found").
					WithDetails(map[string]any{"product_id": key.ProductID, "variant_id": key.VariantID})
			}
			return nil, storeError(err, "inventory record not found", "lock inventory record")
		}
		locked[key.String()] = rec
	}
	return locked, nil
}

func (e *Engine) saveRecords(ctx context.Context, repo inventory.Repository, locked map[string]*models.InventoryRecord) error {
	for _, rec := range locked {
		if err := repo.Save(ctx, rec); err != nil {
			return storeError(err, "inventory record not found", "save inventory record")
		}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, sub *models.SubOrder, requestID, reason string, lines []Line) error {
	data := payloads.StockMovementEvent{
		OrderID:    sub.OrderID,
		SubOrderID: sub.ID,
		RequestID:  requestID,
		Reason:     reason,
		Lines:      make([]payloads.StockLine, 0, len(lines)),
	}
	for _, line := range lines {
		data.Lines = append(data.Lines, payloads.StockLine{
			ProductID: line.Key.Record.ProductID,
			SellerID:  line.Key.Record.SellerID,
			VariantID: line.Key.Record.VariantID,
			Size:      line.Key.Size,
			Quantity:  line.Quantity,
		})
	}
	err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		OccurredAt:    e.now().UTC(),
		Data:          data,
	})
	if err != nil {
		return storeError(err, "", "emit "+string(eventType))
	}
	return nil
}

// evict drops the cache entries of every touched line and its record
// total. It runs after commit and only logs failures.
func (e *Engine) evict(ctx context.Context, lines []Line) {
	if len(lines) == 0 {
		return
	}
	keys := make([]inventory.LineKey, 0, len(lines)*2)
	for _, line := range lines {
		keys = append(keys, line.Key)
		if line.Key.Size != nil {
			keys = append(keys, line.Key.Total())
		}
	}
	if err := e.cache.Evict(ctx, keys...); err != nil {
		e.logg.Error(ctx, "stock cache eviction failed", err)
	}
}

func ledgerRows(sub *models.SubOrder, action enums.StockAction, requestID string, lines []Line) []models.StockTransaction {
	rows := make([]models.StockTransaction, 0, len(lines))
	for _, line := range lines {
		orderID, subOrderID := sub.OrderID, sub.ID
		rows = append(rows, models.StockTransaction{
			OrderID:    &orderID,
			SubOrderID: &subOrderID,
			ProductID:  line.Key.Record.ProductID,
			SellerID:   line.Key.Record.SellerID,
			VariantID:  line.Key.Record.VariantID,
			Size:       line.Key.Size,
			Quantity:   line.Quantity,
			Action:     action,
			RequestID:  requestID,
		})
	}
	return rows
}

func sumLines(lines []Line) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}

// storeError keeps coded errors, maps missing rows to NOT_FOUND, transient
// store failures to DEPENDENCY_ERROR and everything else to INTERNAL_ERROR.
func storeError(err error, notFound, op string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if notFound != "" && errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, notFound)
	}
	if db.IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op)
}
