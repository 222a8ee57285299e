package reservation

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/metrics"
	"github.com/angelmondragon/shopcore-backend/pkg/validation"
)

// Reserve holds stock for every item of a sub-order or for none of them.
// A request already applied returns the original lines with Replayed set.
func (e *Engine) Reserve(ctx context.Context, input ReserveInput) (res *Reservation, err error) {
	ctx, span := e.start(ctx, opReserve, input.OrderID, input.SubOrderID)
	outcome := metrics.OutcomeOK
	defer func() { e.finish(ctx, span, opReserve, outcome, err) }()

	if err := validation.Struct(&input); err != nil {
		return nil, err
	}
	ctx = e.logg.WithRequestID(ctx, input.RequestID)

	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := e.orders.WithTx(tx)
		sub, err := e.lockSubOrder(ctx, orderRepo, input.OrderID, input.SubOrderID)
		if err != nil {
			return err
		}

		ledger := e.ledger.WithTx(tx)
		prior, err := ledger.FindByRequest(ctx, input.RequestID, enums.StockActionReserved)
		if err != nil {
			return storeError(err, "", "check reservation request")
		}
		if len(prior) > 0 {
			replay, err := replayed(sub, input.RequestID, prior)
			if err != nil {
				return err
			}
			res = replay
			return nil
		}

		if sub.Status != enums.OrderStatusPendingPayment {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "sub-order is not awaiting payment").
				WithDetails(map[string]any{"status": sub.Status})
		}
		live, err := ledger.LiveReservations(ctx, sub.ID)
		if err != nil {
			return storeError(err, "", "load live reservations")
		}
		for _, qty := range live {
			if qty > 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "sub-order already holds a reservation")
			}
		}

		items := input.Items
		if len(items) == 0 {
			stored, err := orderRepo.ListItems(ctx, sub.ID)
			if err != nil {
				return storeError(err, "", "load sub-order items")
			}
			items = itemsFromOrder(stored)
		}
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "sub-order has no items")
		}

		lines := make([]Line, 0, len(items))
		keys := make([]inventory.LineKey, 0, len(items))
		for _, item := range items {
			key := inventory.Key{ProductID: item.ProductID, SellerID: sub.SellerID, VariantID: item.VariantID}.Line(item.Size)
			lines = append(lines, Line{Key: key, Quantity: item.Quantity})
			keys = append(keys, key)
		}

		recordRepo := e.records.WithTx(tx)
		locked, err := e.lockRecords(ctx, recordRepo, keys)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := take(locked[line.Key.Record.String()], line); err != nil {
				return err
			}
		}

		if err := e.saveRecords(ctx, recordRepo, locked); err != nil {
			return err
		}
		if err := ledger.Append(ctx, ledgerRows(sub, enums.StockActionReserved, input.RequestID, lines)); err != nil {
			return storeError(err, "", "append reserved rows")
		}
		if err := e.emit(ctx, tx, enums.EventInventoryReserved, sub, input.RequestID, "", lines); err != nil {
			return err
		}
		res = &Reservation{OrderID: sub.OrderID, SubOrderID: sub.ID, RequestID: input.RequestID, Lines: lines}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Replayed {
		outcome = metrics.OutcomeReplayed
		e.logg.Info(ctx, "reservation request replayed")
		return res, nil
	}
	e.evict(ctx, res.Lines)
	e.metrics.AddUnits(opReserve, sumLines(res.Lines))
	e.logg.Info(e.logg.WithField(ctx, "units", sumLines(res.Lines)), "stock reserved")
	return res, nil
}

// take moves line.Quantity from available to reserved on rec, checking the
// running state so repeated lines of one record are counted together.
func take(rec *models.InventoryRecord, line Line) error {
	size := line.Key.Size
	if rec.SizeStock.Sized() && size == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "size is required for sized products").
			WithDetails(map[string]any{"product_id": rec.ProductID, "variant_id": rec.VariantID})
	}
	available, err := inventory.Available(rec, size)
	if err != nil {
		return err
	}
	if available < line.Quantity {
		return pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").WithDetails(Shortage{
			ProductID: rec.ProductID,
			VariantID: rec.VariantID,
			Size:      size,
			Requested: line.Quantity,
			Available: available,
		})
	}
	if size != nil {
		rec.SizeStock[*size] -= line.Quantity
	}
	rec.Stock -= line.Quantity
	rec.ReservedQuantity += line.Quantity
	return nil
}

// replayed rebuilds the reservation a request already made. A request id
// reused for another sub-order is rejected.
func replayed(sub *models.SubOrder, requestID string, rows []models.StockTransaction) (*Reservation, error) {
	res := &Reservation{OrderID: sub.OrderID, SubOrderID: sub.ID, RequestID: requestID, Replayed: true}
	for _, row := range rows {
		if row.SubOrderID == nil || *row.SubOrderID != sub.ID {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "request id already used for another sub-order").
				WithDetails(map[string]any{"request_id": requestID})
		}
		key := inventory.Key{ProductID: row.ProductID, SellerID: row.SellerID, VariantID: row.VariantID}.Line(row.Size)
		res.Lines = append(res.Lines, Line{Key: key, Quantity: row.Quantity})
	}
	return res, nil
}
