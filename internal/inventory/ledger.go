package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	"github.com/angelmondragon/shopcore-backend/pkg/pagination"
)

// LedgerRepository appends and aggregates stock transactions.
type LedgerRepository interface {
	WithTx(tx *gorm.DB) LedgerRepository
	Append(ctx context.Context, rows []models.StockTransaction) error
	FindByRequest(ctx context.Context, requestID string, action enums.StockAction) ([]models.StockTransaction, error)
	ListBySubOrder(ctx context.Context, subOrderID uuid.UUID) ([]models.StockTransaction, error)
	LiveReservations(ctx context.Context, subOrderID uuid.UUID) (map[string]int, error)
	TotalsByRecord(ctx context.Context) (map[string]*RecordTotals, error)
	History(ctx context.Context, key Key, after *pagination.Cursor, limit int) ([]models.StockTransaction, error)
}

// RecordTotals is the state of one record as implied by its ledger rows.
type RecordTotals struct {
	Key      Key
	Stock    int
	Reserved int
	Sizes    map[string]int
}

type movement struct {
	ProductID uuid.UUID
	SellerID  uuid.UUID
	VariantID *uuid.UUID
	Size      *string
	Action    enums.StockAction
	Quantity  int
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository returns a ledger repository bound to the provided DB.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) WithTx(tx *gorm.DB) LedgerRepository {
	if tx == nil {
		return r
	}
	return &ledgerRepository{db: tx}
}

func (r *ledgerRepository) Append(ctx context.Context, rows []models.StockTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if !row.Action.IsValid() {
			return fmt.Errorf("invalid stock action %q", row.Action)
		}
		if row.RequestID == "" {
			return fmt.Errorf("stock transaction request id is required")
		}
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *ledgerRepository) FindByRequest(ctx context.Context, requestID string, action enums.StockAction) ([]models.StockTransaction, error) {
	var rows []models.StockTransaction
	err := r.db.WithContext(ctx).
		Where("request_id = ? AND action = ?", requestID, action).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *ledgerRepository) ListBySubOrder(ctx context.Context, subOrderID uuid.UUID) ([]models.StockTransaction, error) {
	var rows []models.StockTransaction
	err := r.db.WithContext(ctx).
		Where("sub_order_id = ?", subOrderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// LiveReservations returns, per LineKey string, the units the sub-order
// still holds: reserved minus released minus committed.
func (r *ledgerRepository) LiveReservations(ctx context.Context, subOrderID uuid.UUID) (map[string]int, error) {
	moves, err := r.movements(r.db.WithContext(ctx).Where("sub_order_id = ?", subOrderID))
	if err != nil {
		return nil, err
	}
	live := make(map[string]int, len(moves))
	for _, m := range moves {
		line := Key{ProductID: m.ProductID, SellerID: m.SellerID, VariantID: m.VariantID}.Line(m.Size)
		live[line.String()] += m.Action.ReservedDelta(m.Quantity)
	}
	return live, nil
}

// TotalsByRecord folds the whole ledger into the stock and reserved
// quantity each record should hold, keyed by Key string.
func (r *ledgerRepository) TotalsByRecord(ctx context.Context) (map[string]*RecordTotals, error) {
	moves, err := r.movements(r.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	totals := map[string]*RecordTotals{}
	for _, m := range moves {
		key := Key{ProductID: m.ProductID, SellerID: m.SellerID, VariantID: m.VariantID}
		t, ok := totals[key.String()]
		if !ok {
			t = &RecordTotals{Key: key, Sizes: map[string]int{}}
			totals[key.String()] = t
		}
		t.Stock += m.Action.StockDelta(m.Quantity)
		t.Reserved += m.Action.ReservedDelta(m.Quantity)
		if m.Size != nil {
			t.Sizes[*m.Size] += m.Action.StockDelta(m.Quantity)
		}
	}
	return totals, nil
}

// History lists the rows of one record newest first, strictly after the
// cursor when one is given.
func (r *ledgerRepository) History(ctx context.Context, key Key, after *pagination.Cursor, limit int) ([]models.StockTransaction, error) {
	query := byKey(r.db.WithContext(ctx), key)
	if after != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	var rows []models.StockTransaction
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *ledgerRepository) movements(query *gorm.DB) ([]movement, error) {
	var moves []movement
	err := query.
		Model(&models.StockTransaction{}).
		Select("product_id, seller_id, variant_id, size, action, SUM(quantity) AS quantity").
		Group("product_id, seller_id, variant_id, size, action").
		Scan(&moves).Error
	return moves, err
}
