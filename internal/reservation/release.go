package reservation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
)

// settlement is the outcome of walking a sub-order's items against its
// live ledger reservations.
type settlement struct {
	sub   *models.SubOrder
	lines []Line
}

// liveLines pairs each stored item with what the ledger says the sub-order
// still holds for it. Items never reserved yield nothing.
func (e *Engine) liveLines(ctx context.Context, tx *gorm.DB, sub *models.SubOrder) ([]Line, error) {
	items, err := e.orders.WithTx(tx).ListItems(ctx, sub.ID)
	if err != nil {
		return nil, storeError(err, "", "load sub-order items")
	}
	live, err := e.ledger.WithTx(tx).LiveReservations(ctx, sub.ID)
	if err != nil {
		return nil, storeError(err, "", "load live reservations")
	}
	var lines []Line
	for _, item := range items {
		key := inventory.Key{ProductID: item.ProductID, SellerID: sub.SellerID, VariantID: item.VariantID}.Line(item.Size)
		qty := min(item.Quantity, live[key.String()])
		if qty <= 0 {
			continue
		}
		live[key.String()] -= qty
		lines = append(lines, Line{Key: key, Quantity: qty})
	}
	return lines, nil
}

// Release returns the stock held by a pending sub-order and marks the
// sub-order and its order failed. It returns the number of item lines
// released; a sub-order no longer awaiting payment releases nothing.
func (e *Engine) Release(ctx context.Context, orderID, subOrderID uuid.UUID) (released int, err error) {
	ctx, span := e.start(ctx, opRelease, orderID, subOrderID)
	outcome := metrics.OutcomeOK
	defer func() { e.finish(ctx, span, opRelease, outcome, err) }()

	var done *settlement
	requestID := "release:" + subOrderID.String()
	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := e.orders.WithTx(tx)
		sub, err := e.lockSubOrder(ctx, orderRepo, orderID, subOrderID)
		if err != nil {
			return err
		}
		if sub.Status != enums.OrderStatusPendingPayment {
			return nil
		}
		lines, err := e.liveLines(ctx, tx, sub)
		if err != nil {
			return err
		}

		recordRepo := e.records.WithTx(tx)
		if len(lines) > 0 {
			keys := make([]inventory.LineKey, 0, len(lines))
			for _, line := range lines {
				keys = append(keys, line.Key)
			}
			locked, err := e.lockRecords(ctx, recordRepo, keys)
			if err != nil {
				return err
			}
			for _, line := range lines {
				e.giveBack(ctx, locked[line.Key.Record.String()], line)
			}
			if err := e.saveRecords(ctx, recordRepo, locked); err != nil {
				return err
			}
			if err := e.ledger.WithTx(tx).Append(ctx, ledgerRows(sub, enums.StockActionReleased, requestID, lines)); err != nil {
				return storeError(err, "", "append released rows")
			}
		}

		if err := orderRepo.UpdateSubOrderStatus(ctx, sub.ID, enums.OrderStatusFailed); err != nil {
			return storeError(err, "sub-order not found", "mark sub-order failed")
		}
		if err := orderRepo.UpdateOrderStatus(ctx, sub.OrderID, enums.OrderStatusFailed); err != nil {
			return storeError(err, "order not found", "mark order failed")
		}
		if err := e.emit(ctx, tx, enums.EventInventoryReleased, sub, requestID, string(enums.OrderStatusFailed), lines); err != nil {
			return err
		}
		done = &settlement{sub: sub, lines: lines}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if done == nil {
		outcome = metrics.OutcomeNoop
		return 0, nil
	}

	e.evict(ctx, done.lines)
	units := sumLines(done.lines)
	e.metrics.AddUnits(opRelease, units)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{"lines": len(done.lines), "units": units}), "reservation released")
	return len(done.lines), nil
}

// giveBack restores line to rec's available stock and drops it from the
// reserved quantity, never below zero.
func (e *Engine) giveBack(ctx context.Context, rec *models.InventoryRecord, line Line) {
	e.unreserve(ctx, rec, line, opRelease)
	if line.Key.Size != nil && rec.SizeStock.Sized() {
		rec.SizeStock[*line.Key.Size] += line.Quantity
	}
	rec.Stock += line.Quantity
}

// unreserve lowers rec's reserved quantity by line. A shortfall means the
// record and the ledger disagree; it is logged and counted, and the
// quantity is clamped at zero.
func (e *Engine) unreserve(ctx context.Context, rec *models.InventoryRecord, line Line, op string) {
	if rec.ReservedQuantity < line.Quantity {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"inventory_id":      rec.ID.String(),
			"line":              line.Key.String(),
			"reserved_quantity": rec.ReservedQuantity,
			"ledger_quantity":   line.Quantity,
			"operation":         op,
		})
		e.logg.Warn(logCtx, "ReservationInconsistency: reserved quantity below ledger amount")
		e.metrics.IncInconsistency(op)
		rec.ReservedQuantity = 0
		return
	}
	rec.ReservedQuantity -= line.Quantity
}
