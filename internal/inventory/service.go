package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/pkg/db"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/shopcore-backend/pkg/db/types"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/outbox"
	"github.com/angelmondragon/shopcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopcore-backend/pkg/pagination"
	"github.com/angelmondragon/shopcore-backend/pkg/validation"
)

// CacheEvictor deletes cached stock lines after a durable write.
type CacheEvictor interface {
	Evict(ctx context.Context, lines ...LineKey) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the stock administration service.
type ServiceParams struct {
	DB      db.TxRunner
	Records Repository
	Ledger  LedgerRepository
	Outbox  outboxEmitter
	Cache   CacheEvictor
	Logger  *logger.Logger
}

// Service creates inventory records and applies administrative stock
// changes under the same row lock and ledger rules as reservations.
type Service struct {
	db      db.TxRunner
	records Repository
	ledger  LedgerRepository
	outbox  outboxEmitter
	cache   CacheEvictor
	logg    *logger.Logger
	now     func() time.Time
}

// CreateInput describes a new record. When SizeStock is set, Stock is
// derived from it and any Stock value given must match.
type CreateInput struct {
	ProductID uuid.UUID      `json:"product_id" validate:"required"`
	SellerID  uuid.UUID      `json:"seller_id" validate:"required"`
	VariantID *uuid.UUID     `json:"variant_id"`
	Stock     int            `json:"stock" validate:"gte=0"`
	SizeStock map[string]int `json:"size_stock" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
}

// SetStockInput replaces the available stock of an existing record.
type SetStockInput struct {
	ProductID uuid.UUID      `json:"product_id" validate:"required"`
	SellerID  uuid.UUID      `json:"seller_id" validate:"required"`
	VariantID *uuid.UUID     `json:"variant_id"`
	Stock     int            `json:"stock" validate:"gte=0"`
	SizeStock map[string]int `json:"size_stock" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	RequestID string         `json:"request_id" validate:"max=64"`
}

func (in SetStockInput) key() Key {
	return Key{ProductID: in.ProductID, SellerID: in.SellerID, VariantID: in.VariantID}
}

// NewService validates params and returns the administration service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
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
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		db:      params.DB,
		records: params.Records,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		cache:   params.Cache,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// Get returns the record identified by key.
func (s *Service) Get(ctx context.Context, key Key) (*models.InventoryRecord, error) {
	rec, err := s.records.Find(ctx, key)
	if err != nil {
		return nil, mapStoreError(err, "inventory record not found", "load inventory record")
	}
	return rec, nil
}

// History pages through the ledger rows of one record, newest first.
func (s *Service) History(ctx context.Context, key Key, params pagination.Params) (pagination.Page[models.StockTransaction], error) {
	var page pagination.Page[models.StockTransaction]
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if _, err := s.records.Find(ctx, key); err != nil {
		return page, mapStoreError(err, "inventory record not found", "load inventory record")
	}
	rows, err := s.ledger.History(ctx, key, after, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock transactions")
	}
	return pagination.Build(rows, params.Limit, func(row models.StockTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	}), nil
}

// Create inserts a record and writes its opening stock to the ledger as
// adjusted rows.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.InventoryRecord, error) {
	if err := validation.Struct(&input); err != nil {
		return nil, err
	}
	sizes, stock, err := resolveStock(input.Stock, input.SizeStock)
	if err != nil {
		return nil, err
	}
	rec := &models.InventoryRecord{
		ProductID: input.ProductID,
		SellerID:  input.SellerID,
		VariantID: input.VariantID,
		Stock:     stock,
		SizeStock: sizes,
	}
	requestID := "create:" + uuid.NewString()
	key := KeyOf(rec)

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		records := s.records.WithTx(tx)
		if _, err := records.Find(ctx, key); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "inventory record already exists")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check inventory record")
		}
		if err := records.Create(ctx, rec); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "inventory record already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create inventory record")
		}
		rows := adjustmentRows(key, requestID, nil, sizes, 0, stock)
		if err := s.ledger.WithTx(tx).Append(ctx, rows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append opening stock")
		}
		return s.emitAdjusted(ctx, tx, rec, stock)
	})
	if err != nil {
		return nil, err
	}
	s.evict(ctx, key, nil, sizes)
	return rec, nil
}

// SetStock replaces the available stock of a record. The signed change
// is recorded as adjusted ledger rows; reserved quantity is untouched.
func (s *Service) SetStock(ctx context.Context, input SetStockInput) (*models.InventoryRecord, error) {
	if err := validation.Struct(&input); err != nil {
		return nil, err
	}
	sizes, stock, err := resolveStock(input.Stock, input.SizeStock)
	if err != nil {
		return nil, err
	}
	requestID := input.RequestID
	if requestID == "" {
		requestID = "adjust:" + uuid.NewString()
	}
	key := input.key()

	var (
		updated  *models.InventoryRecord
		oldSizes dbtypes.SizeStock
	)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		records := s.records.WithTx(tx)
		rec, err := records.FindForUpdate(ctx, key)
		if err != nil {
			return mapStoreError(err, "inventory record not found", "lock inventory record")
		}
		ledger := s.ledger.WithTx(tx)
		replayed, err := ledger.FindByRequest(ctx, requestID, enums.StockActionAdjusted)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check adjustment request")
		}
		if len(replayed) > 0 {
			updated = rec
			return nil
		}
		oldSizes = rec.SizeStock.Clone()
		delta := stock - rec.Stock
		rows := adjustmentRows(key, requestID, oldSizes, sizes, rec.Stock, stock)

		rec.Stock = stock
		rec.SizeStock = sizes
		if err := records.Save(ctx, rec); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save inventory record")
		}
		if err := ledger.Append(ctx, rows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append adjustment")
		}
		updated = rec
		return s.emitAdjusted(ctx, tx, rec, delta)
	})
	if err != nil {
		return nil, err
	}
	s.evict(ctx, key, oldSizes, sizes)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"inventory_id": updated.ID.String(),
		"stock":        updated.Stock,
		"request_id":   requestID,
	})
	s.logg.Info(logCtx, "inventory stock adjusted")
	return updated, nil
}

func (s *Service) emitAdjusted(ctx context.Context, tx *gorm.DB, rec *models.InventoryRecord, delta int) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventInventoryAdjusted,
		AggregateType: enums.AggregateInventory,
		AggregateID:   rec.ID,
		OccurredAt:    s.now().UTC(),
		Data: payloads.StockAdjustedEvent{
			InventoryID: rec.ID,
			ProductID:   rec.ProductID,
			SellerID:    rec.SellerID,
			VariantID:   rec.VariantID,
			Delta:       delta,
			Stock:       rec.Stock,
			SizeStock:   rec.SizeStock.Clone(),
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit inventory adjusted event")
	}
	return nil
}

// evict drops the total line and every size line present before or after
// the write. Failures are logged; the durable write already committed.
func (s *Service) evict(ctx context.Context, key Key, before, after dbtypes.SizeStock) {
	lines := []LineKey{key.Line(nil)}
	seen := map[string]struct{}{}
	for _, sizes := range []dbtypes.SizeStock{before, after} {
		for _, size := range sizes.Sizes() {
			if _, ok := seen[size]; ok {
				continue
			}
			seen[size] = struct{}{}
			label := size
			lines = append(lines, key.Line(&label))
		}
	}
	if err := s.cache.Evict(ctx, lines...); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "inventory_key", key.String()), "stock cache eviction failed", err)
	}
}

// resolveStock derives the stored stock: the size sum for sized goods,
// otherwise the given total.
func resolveStock(stock int, sizes map[string]int) (dbtypes.SizeStock, int, error) {
	if len(sizes) == 0 {
		return nil, stock, nil
	}
	typed := dbtypes.SizeStock(sizes).Clone()
	if err := typed.Validate(); err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid size stock")
	}
	total := typed.Total()
	if stock != 0 && stock != total {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "stock must equal the sum of size stock").
			WithDetails(map[string]any{"stock": stock, "size_total": total})
	}
	return typed, total, nil
}

// adjustmentRows builds the signed ledger rows moving a record from its
// old stock to its new stock. Sized records get one row per changed size.
func adjustmentRows(key Key, requestID string, before, after dbtypes.SizeStock, oldStock, newStock int) []models.StockTransaction {
	base := models.StockTransaction{
		ProductID: key.ProductID,
		SellerID:  key.SellerID,
		VariantID: key.VariantID,
		Action:    enums.StockActionAdjusted,
		RequestID: requestID,
	}
	var rows []models.StockTransaction
	if !before.Sized() && !after.Sized() {
		if newStock != oldStock {
			row := base
			row.Quantity = newStock - oldStock
			rows = append(rows, row)
		}
		return rows
	}
	if !before.Sized() && oldStock != 0 {
		row := base
		row.Quantity = -oldStock
		rows = append(rows, row)
	}
	union := dbtypes.SizeStock{}
	for size := range before {
		union[size] = 0
	}
	for size := range after {
		union[size] = 0
	}
	for _, size := range union.Sizes() {
		diff := after[size] - before[size]
		if diff == 0 {
			continue
		}
		label := size
		row := base
		row.Size = &label
		row.Quantity = diff
		rows = append(rows, row)
	}
	if before.Sized() && !after.Sized() && newStock != 0 {
		row := base
		row.Quantity = newStock
		rows = append(rows, row)
	}
	return rows
}

func mapStoreError(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, notFound)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
