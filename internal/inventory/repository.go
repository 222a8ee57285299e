package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
)

// Repository defines persistence operations for inventory records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, rec *models.InventoryRecord) error
	Find(ctx context.Context, key Key) (*models.InventoryRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryRecord, error)
	FindForUpdate(ctx context.Context, key Key) (*models.InventoryRecord, error)
	Save(ctx context.Context, rec *models.InventoryRecord) error
	Each(ctx context.Context, batchSize int, fn func([]models.InventoryRecord) error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, rec *models.InventoryRecord) error {
	if rec == nil {
		return fmt.Errorf("inventory record is required")
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *repository) Find(ctx context.Context, key Key) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	if err := byKey(r.db.WithContext(ctx), key).Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindForUpdate reads the record under a row lock held until the
// surrounding transaction ends.
func (r *repository) FindForUpdate(ctx context.Context, key Key) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	query := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	if err := byKey(query, key).Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save writes the mutable stock columns of rec.
func (r *repository) Save(ctx context.Context, rec *models.InventoryRecord) error {
	if rec == nil || rec.ID == uuid.Nil {
		return fmt.Errorf("persisted inventory record is required")
	}
	if err := rec.SizeStock.Validate(); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"stock":             rec.Stock,
			"reserved_quantity": rec.ReservedQuantity,
			"size_stock":        rec.SizeStock,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Each walks every record in id order, batchSize rows at a time.
func (r *repository) Each(ctx context.Context, batchSize int, fn func([]models.InventoryRecord) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []models.InventoryRecord
	res := r.db.WithContext(ctx).
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		})
	return res.Error
}

func byKey(db *gorm.DB, key Key) *gorm.DB {
	db = db.Where("product_id = ? AND seller_id = ?", key.ProductID, key.SellerID)
	if key.VariantID == nil {
		return db.Where("variant_id IS NULL")
	}
	return db.Where("variant_id = ?", *key.VariantID)
}
