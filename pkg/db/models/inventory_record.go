package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/shopcore-backend/pkg/db/types"
)

// InventoryRecord holds the durable stock of one product/variant sold by one
// seller. Stock always equals the sum of SizeStock when the record is sized.
type InventoryRecord struct {
	ID               uuid.UUID         `gorm:"column:id;type:char(36);primaryKey" json:"id"`
	ProductID        uuid.UUID         `gorm:"column:product_id;type:char(36);not null;index:ix_inventory_key" json:"product_id"`
	SellerID         uuid.UUID         `gorm:"column:seller_id;type:char(36);not null;index:ix_inventory_key" json:"seller_id"`
	VariantID        *uuid.UUID        `gorm:"column:variant_id;type:char(36);index:ix_inventory_key" json:"variant_id"`
	Stock            int               `gorm:"column:stock;not null;default:0" json:"stock"`
	ReservedQuantity int               `gorm:"column:reserved_quantity;not null;default:0" json:"reserved_quantity"`
	SizeStock        dbtypes.SizeStock `gorm:"column:size_stock" json:"size_stock,omitempty"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (InventoryRecord) TableName() string {
	return "inventory"
}

func (r *InventoryRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
