package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/internal/orders"
	"github.com/angelmondragon/shopcore-backend/pkg/db"
	"github.com/angelmondragon/shopcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
	"github.com/angelmondragon/shopcore-backend/pkg/outbox"
)

type recordingEvictor struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingEvictor) Evict(_ context.Context, lines ...inventory.LineKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range lines {
		r.lines = append(r.lines, line.String())
	}
	return nil
}

func (r *recordingEvictor) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}

func (r *recordingEvictor) evicted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

type harness struct {
	client   *db.Client
	engine   *Engine
	stock    *inventory.Service
	orders   orders.Repository
	records  inventory.Repository
	ledger   inventory.LedgerRepository
	outbox   *outbox.Repository
	evictor  *recordingEvictor
	registry *prometheus.Registry
	seller   uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	records := inventory.NewRepository(client.DB())
	ledger := inventory.NewLedgerRepository(client.DB())
	orderRepo := orders.NewRepository(client.DB())
	outboxRepo := outbox.NewRepository(client.DB())
	outboxSvc := outbox.NewService(outboxRepo, logger.Nop())
	evictor := &recordingEvictor{}
	registry := prometheus.NewRegistry()

	stock, err := inventory.NewService(inventory.ServiceParams{
		DB:      client,
		Records: records,
		Ledger:  ledger,
		Outbox:  outboxSvc,
		Cache:   evictor,
	})
	require.NoError(t, err)

	engine, err := NewEngine(Params{
		DB:      client,
		Orders:  orderRepo,
		Records: records,
		Ledger:  ledger,
		Outbox:  outboxSvc,
		Cache:   evictor,
		Metrics: metrics.NewReservationMetrics(registry),
	})
	require.NoError(t, err)

	return &harness{
		client:   client,
		engine:   engine,
		stock:    stock,
		orders:   orderRepo,
		records:  records,
		ledger:   ledger,
		outbox:   outboxRepo,
		evictor:  evictor,
		registry: registry,
		seller:   uuid.New(),
	}
}

func (h *harness) sizedRecord(t *testing.T, sizes map[string]int) *models.InventoryRecord {
	t.Helper()
	rec, err := h.stock.Create(context.Background(), inventory.CreateInput{
		ProductID: uuid.New(),
		SellerID:  h.seller,
		SizeStock: sizes,
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) plainRecord(t *testing.T, stock int) *models.InventoryRecord {
	t.Helper()
	rec, err := h.stock.Create(context.Background(), inventory.CreateInput{
		ProductID: uuid.New(),
		SellerID:  h.seller,
		Stock:     stock,
	})
	require.NoError(t, err)
	return rec
}

// order creates an order with one pending sub-order per item group.
func (h *harness) order(t *testing.T, createdAt time.Time, groups ...[]models.OrderItem) *models.Order {
	t.Helper()
	order := &models.Order{CustomerID: uuid.New(), Status: enums.OrderStatusPendingPayment, CreatedAt: createdAt}
	for _, items := range groups {
		order.SubOrders = append(order.SubOrders, models.SubOrder{
			SellerID:  h.seller,
			Status:    enums.OrderStatusPendingPayment,
			CreatedAt: createdAt,
			Items:     items,
		})
	}
	require.NoError(t, h.orders.CreateOrder(context.Background(), order))
	return order
}

func (h *harness) reload(t *testing.T, rec *models.InventoryRecord) *models.InventoryRecord {
	t.Helper()
	fresh, err := h.records.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	return fresh
}

func (h *harness) subOrder(t *testing.T, id uuid.UUID) *models.SubOrder {
	t.Helper()
	sub, err := h.orders.FindSubOrder(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (h *harness) events(t *testing.T, subOrderID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	rows, err := h.outbox.ListByAggregate(nil, subOrderID)
	require.NoError(t, err)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func (h *harness) counter(t *testing.T, name string, want map[string]string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metricLoop
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func (h *harness) operations(t *testing.T, operation, outcome string) float64 {
	return h.counter(t, "shopcore_reservation_operations_total", map[string]string{"operation": operation, "outcome": outcome})
}

func item(rec *models.InventoryRecord, size string, qty int) models.OrderItem {
	out := models.OrderItem{ProductID: rec.ProductID, VariantID: rec.VariantID, Quantity: qty}
	if size != "" {
		s := size
		out.Size = &s
	}
	return out
}

func ptr(s string) *string {
	return &s
}
