package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
)

func TestReserveDecrementsSizeAndTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.sizedRecord(t, map[string]int{"M": 5, "L": 2})
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "M", 3)})
	sub := order.SubOrders[0]
	h.evictor.reset()

	res, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "checkout-1"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, 3, res.Lines[0].Quantity)

	fresh := h.reload(t, rec)
	assert.Equal(t, 2, fresh.SizeStock["M"])
	assert.Equal(t, 2, fresh.SizeStock["L"])
	assert.Equal(t, 4, fresh.Stock)
	assert.Equal(t, 3, fresh.ReservedQuantity)

	key := inventory.KeyOf(rec)
	assert.ElementsMatch(t, []string{key.Line(ptr("M")).String(), key.Line(nil).String()}, h.evictor.evicted())
	assert.Equal(t, []enums.OutboxEventType{enums.EventInventoryReserved}, h.events(t, sub.ID))
	assert.Equal(t, float64(1), h.operations(t, opReserve, metrics.OutcomeOK))
}

func TestReserveExplicitItemsOnPlainRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 10)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 4)})
	sub := order.SubOrders[0]

	_, err := h.engine.Reserve(ctx, ReserveInput{
		OrderID:    order.ID,
		SubOrderID: sub.ID,
		RequestID:  "checkout-plain",
		Items: []Item{
			{ProductID: rec.ProductID, Quantity: 1},
			{ProductID: rec.ProductID, Quantity: 3},
		},
	})
	require.NoError(t, err)

	fresh := h.reload(t, rec)
	assert.Equal(t, 6, fresh.Stock)
	assert.Equal(t, 4, fresh.ReservedQuantity)
}

func TestReserveShortageAbortsWholeSubOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sized := h.sizedRecord(t, map[string]int{"M": 5, "L": 2})
	plain := h.plainRecord(t, 4)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{
		item(plain, "", 2),
		item(sized, "M", 3),
		item(sized, "L", 5),
	})
	sub := order.SubOrders[0]

	_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "checkout-short"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeOutOfStock, typed.Code())

	shortage, ok := typed.Details().(Shortage)
	require.True(t, ok)
	assert.Equal(t, sized.ProductID, shortage.ProductID)
	require.NotNil(t, shortage.Size)
	assert.Equal(t, "L", *shortage.Size)
	assert.Equal(t, 5, shortage.Requested)
	assert.Equal(t, 2, shortage.Available)

	freshSized := h.reload(t, sized)
	assert.Equal(t, 7, freshSized.Stock)
	assert.Equal(t, 5, freshSized.SizeStock["M"])
	assert.Equal(t, 0, freshSized.ReservedQuantity)
	assert.Equal(t, 4, h.reload(t, plain).Stock)

	rows, err := h.ledger.ListBySubOrder(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, h.events(t, sub.ID))
	assert.Equal(t, float64(1), h.operations(t, opReserve, metrics.OutcomeOutOfStock))
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.sizedRecord(t, map[string]int{"M": 5})
	first := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "M", 3)})
	second := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "M", 3)})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, order := range []*models.Order{first, second} {
		wg.Add(1)
		go func(i int, order *models.Order) {
			defer wg.Done()
			_, errs[i] = h.engine.Reserve(ctx, ReserveInput{
				OrderID:    order.ID,
				SubOrderID: order.SubOrders[0].ID,
				RequestID:  "concurrent-" + order.ID.String(),
			})
		}(i, order)
	}
	wg.Wait()

	succeeded, outOfStock := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, outOfStock)

	fresh := h.reload(t, rec)
	assert.Equal(t, 2, fresh.SizeStock["M"])
	assert.Equal(t, 2, fresh.Stock)
	assert.Equal(t, 3, fresh.ReservedQuantity)
}

func TestReserveIsIdempotentPerRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 5)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 2)})
	sub := order.SubOrders[0]
	input := ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "retry-me"}

	_, err := h.engine.Reserve(ctx, input)
	require.NoError(t, err)
	h.evictor.reset()

	again, err := h.engine.Reserve(ctx, input)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	require.Len(t, again.Lines, 1)
	assert.Equal(t, 2, again.Lines[0].Quantity)

	fresh := h.reload(t, rec)
	assert.Equal(t, 3, fresh.Stock)
	assert.Equal(t, 2, fresh.ReservedQuantity)
	assert.Empty(t, h.evictor.evicted())
	assert.Len(t, h.events(t, sub.ID), 1)
	assert.Equal(t, float64(1), h.operations(t, opReserve, metrics.OutcomeReplayed))

	_, err = h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "another-request"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestReserveRejectsRequestIDOfAnotherSubOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 5)
	first := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 1)})
	second := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 1)})

	_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: first.ID, SubOrderID: first.SubOrders[0].ID, RequestID: "shared"})
	require.NoError(t, err)
	_, err = h.engine.Reserve(ctx, ReserveInput{OrderID: second.ID, SubOrderID: second.SubOrders[0].ID, RequestID: "shared"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency))
	assert.Equal(t, 4, h.reload(t, rec).Stock)
}

func TestReserveValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sized := h.sizedRecord(t, map[string]int{"M": 5})
	plain := h.plainRecord(t, 5)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(plain, "", 1)})
	sub := order.SubOrders[0]

	cases := map[string]ReserveInput{
		"missing request id": {OrderID: order.ID, SubOrderID: sub.ID},
		"zero quantity": {OrderID: order.ID, SubOrderID: sub.ID, RequestID: "v1",
			Items: []Item{{ProductID: plain.ProductID, Quantity: 0}}},
		"size on plain record": {OrderID: order.ID, SubOrderID: sub.ID, RequestID: "v2",
			Items: []Item{{ProductID: plain.ProductID, Size: ptr("M"), Quantity: 1}}},
		"sized record without size": {OrderID: order.ID, SubOrderID: sub.ID, RequestID: "v3",
			Items: []Item{{ProductID: sized.ProductID, Quantity: 1}}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.engine.Reserve(ctx, input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
	assert.Equal(t, 5, h.reload(t, plain).Stock)
	assert.Equal(t, 5, h.reload(t, sized).Stock)
}

func TestReserveUnknownSubOrderOrRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 5)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 1)})
	other := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 1)})

	_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: uuid.New(), RequestID: "r"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: other.SubOrders[0].ID, RequestID: "r"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.engine.Reserve(ctx, ReserveInput{
		OrderID:    order.ID,
		SubOrderID: order.SubOrders[0].ID,
		RequestID:  "r",
		Items:      []Item{{ProductID: uuid.New(), Quantity: 1}},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReleaseRestoresStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.sizedRecord(t, map[string]int{"M": 5, "L": 2})
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "M", 3), item(rec, "L", 1)})
	sub := order.SubOrders[0]

	_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "round-trip"})
	require.NoError(t, err)
	h.evictor.reset()

	released, err := h.engine.Release(ctx, order.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	fresh := h.reload(t, rec)
	assert.Equal(t, 7, fresh.Stock)
	assert.Equal(t, 5, fresh.SizeStock["M"])
	assert.Equal(t, 2, fresh.SizeStock["L"])
	assert.Equal(t, 0, fresh.ReservedQuantity)

	assert.Equal(t, enums.OrderStatusFailed, h.subOrder(t, sub.ID).Status)
	stored, err := h.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFailed, stored.Status)

	key := inventory.KeyOf(rec)
	assert.ElementsMatch(t, []string{
		key.Line(ptr("M")).String(), key.Line(nil).String(),
		key.Line(ptr("L")).String(), key.Line(nil).String(),
	}, h.evictor.evicted())
	assert.Equal(t, []enums.OutboxEventType{enums.EventInventoryReserved, enums.EventInventoryReleased}, h.events(t, sub.ID))

	again, err := h.engine.Release(ctx, order.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
	assert.Equal(t, 7, h.reload(t, rec).Stock)
	assert.Equal(t, float64(1), h.operations(t, opRelease, metrics.OutcomeNoop))

	auditor, err := inventory.NewAuditor(h.records, h.ledger, logger.Nop())
	require.NoError(t, err)
	report, err := auditor.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "discrepancies: %v", report.Discrepancies)
}

func TestReleaseWithoutReservationOnlyFailsSubOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 5)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 2)})
	sub := order.SubOrders[0]

	released, err := h.engine.Release(ctx, order.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, released)
	assert.Equal(t, 5, h.reload(t, rec).Stock)
	assert.Equal(t, enums.OrderStatusFailed, h.subOrder(t, sub.ID).Status)
}

func TestReleaseClampsInconsistentReservedQuantity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 5)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 3)})
	sub := order.SubOrders[0]

	_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "drift"})
	require.NoError(t, err)
	require.NoError(t, h.client.DB().Model(&models.InventoryRecord{}).
		Where("id = ?", rec.ID).
		Update("reserved_quantity", 1).Error)

	released, err := h.engine.Release(ctx, order.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	fresh := h.reload(t, rec)
	assert.Equal(t, 0, fresh.ReservedQuantity)
	assert.Equal(t, 5, fresh.Stock)
	assert.Equal(t, float64(1), h.counter(t, "shopcore_reservation_inconsistencies_total", map[string]string{"operation": opRelease}))
}

func TestCommitKeepsStockAndSettlesReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.sizedRecord(t, map[string]int{"M": 5})
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "M", 3)})
	sub := order.SubOrders[0]

	_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "pay-me"})
	require.NoError(t, err)
	h.evictor.reset()

	require.NoError(t, h.engine.Commit(ctx, order.ID, sub.ID))
	fresh := h.reload(t, rec)
	assert.Equal(t, 2, fresh.Stock)
	assert.Equal(t, 2, fresh.SizeStock["M"])
	assert.Equal(t, 0, fresh.ReservedQuantity)
	assert.NotEmpty(t, h.evictor.evicted())

	assert.Equal(t, enums.OrderStatusPaid, h.subOrder(t, sub.ID).Status)
	stored, err := h.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)

	require.NoError(t, h.engine.Commit(ctx, order.ID, sub.ID))
	assert.Equal(t, float64(1), h.operations(t, opCommit, metrics.OutcomeNoop))

	released, err := h.engine.Release(ctx, order.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, released)
	assert.Equal(t, 2, h.reload(t, rec).Stock)

	assert.Equal(t, []enums.OutboxEventType{enums.EventInventoryReserved, enums.EventInventoryCommitted}, h.events(t, sub.ID))

	auditor, err := inventory.NewAuditor(h.records, h.ledger, nil)
	require.NoError(t, err)
	report, err := auditor.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "discrepancies: %v", report.Discrepancies)
}

func TestCommitAfterReleaseConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 5)
	order := h.order(t, time.Now().UTC(), []models.OrderItem{item(rec, "", 1)})
	sub := order.SubOrders[0]

	_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "late-pay"})
	require.NoError(t, err)
	_, err = h.engine.Release(ctx, order.ID, sub.ID)
	require.NoError(t, err)

	err = h.engine.Commit(ctx, order.ID, sub.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 5, h.reload(t, rec).Stock)

	_, err = h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "after-fail"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCommitMarksOrderPaidOnceAllSubOrdersPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.plainRecord(t, 10)
	order := h.order(t, time.Now().UTC(),
		[]models.OrderItem{item(rec, "", 1)},
		[]models.OrderItem{item(rec, "", 2)},
	)

	for i, sub := range order.SubOrders {
		_, err := h.engine.Reserve(ctx, ReserveInput{OrderID: order.ID, SubOrderID: sub.ID, RequestID: "multi-" + string(rune('a'+i))})
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.Commit(ctx, order.ID, order.SubOrders[0].ID))
	stored, err := h.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)

	require.NoError(t, h.engine.Commit(ctx, order.ID, order.SubOrders[1].ID))
	stored, err = h.orders.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)

	fresh := h.reload(t, rec)
	assert.Equal(t, 7, fresh.Stock)
	assert.Equal(t, 0, fresh.ReservedQuantity)
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(Params{})
	assert.Error(t, err)
}
