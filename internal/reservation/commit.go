package reservation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
)

// Commit turns a sub-order's reservation into a sale after payment: the
// reserved quantity drops and stock stays decremented. The sub-order is
// marked paid, and the order too once all its sub-orders are paid.
func (e *Engine) Commit(ctx context.Context, orderID, subOrderID uuid.UUID) (err error) {
	ctx, span := e.start(ctx, opCommit, orderID, subOrderID)
	outcome := metrics.OutcomeOK
	defer func() { e.finish(ctx, span, opCommit, outcome, err) }()

	var done *settlement
	requestID := "commit:" + subOrderID.String()
	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := e.orders.WithTx(tx)
		sub, err := e.lockSubOrder(ctx, orderRepo, orderID, subOrderID)
		if err != nil {
			return err
		}
		switch sub.Status {
		case enums.OrderStatusPaid:
			return nil
		case enums.OrderStatusPendingPayment:
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "sub-order reservation was already released").
				WithDetails(map[string]any{"status": sub.Status})
		}

		lines, err := e.liveLines(ctx, tx, sub)
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			recordRepo := e.records.WithTx(tx)
			keys := make([]inventory.LineKey, 0, len(lines))
			for _, line := range lines {
				keys = append(keys, line.Key)
			}
			locked, err := e.lockRecords(ctx, recordRepo, keys)
			if err != nil {
				return err
			}
			for _, line := range lines {
				e.unreserve(ctx, locked[line.Key.Record.String()], line, opCommit)
			}
			if err := e.saveRecords(ctx, recordRepo, locked); err != nil {
				return err
			}
			if err := e.ledger.WithTx(tx).Append(ctx, ledgerRows(sub, enums.StockActionCommitted, requestID, lines)); err != nil {
				return storeError(err, "", "append committed rows")
			}
		}

		if err := orderRepo.UpdateSubOrderStatus(ctx, sub.ID, enums.OrderStatusPaid); err != nil {
			return storeError(err, "sub-order not found", "mark sub-order paid")
		}
		siblings, err := orderRepo.ListSubOrders(ctx, sub.OrderID)
		if err != nil {
			return storeError(err, "", "load sibling sub-orders")
		}
		allPaid := true
		for _, sibling := range siblings {
			if sibling.ID != sub.ID && sibling.Status != enums.OrderStatusPaid {
				allPaid = false
				break
			}
		}
		if allPaid {
			if err := orderRepo.UpdateOrderStatus(ctx, sub.OrderID, enums.OrderStatusPaid); err != nil {
				return storeError(err, "order not found", "mark order paid")
			}
		}
		if err := e.emit(ctx, tx, enums.EventInventoryCommitted, sub, requestID, string(enums.OrderStatusPaid), lines); err != nil {
			return err
		}
		done = &settlement{sub: sub, lines: lines}
		return nil
	})
	if err != nil {
		return err
	}
	if done == nil {
		outcome = metrics.OutcomeNoop
		return nil
	}

	e.evict(ctx, done.lines)
	e.metrics.AddUnits(opCommit, sumLines(done.lines))
	e.logg.Info(e.logg.WithField(ctx, "lines", len(done.lines)), "reservation committed")
	return nil
}
