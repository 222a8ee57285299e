package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/pkg/enums"
)

// StockTransaction is one immutable row of the stock ledger. Rows are
// appended in the same transaction as the inventory mutation they describe.
type StockTransaction struct {
	ID         uuid.UUID         `gorm:"column:id;type:char(36);primaryKey" json:"id"`
	OrderID    *uuid.UUID        `gorm:"column:order_id;type:char(36);index" json:"order_id,omitempty"`
	SubOrderID *uuid.UUID        `gorm:"column:sub_order_id;type:char(36);index" json:"sub_order_id,omitempty"`
	ProductID  uuid.UUID         `gorm:"column:product_id;type:char(36);not null;index:ix_stock_tx_record" json:"product_id"`
	SellerID   uuid.UUID         `gorm:"column:seller_id;type:char(36);not null;index:ix_stock_tx_record" json:"seller_id"`
	VariantID  *uuid.UUID        `gorm:"column:variant_id;type:char(36);index:ix_stock_tx_record" json:"variant_id"`
	Size       *string           `gorm:"column:size;type:varchar(32)" json:"size"`
	Quantity   int               `gorm:"column:quantity;not null" json:"quantity"`
	Action     enums.StockAction `gorm:"column:action;type:varchar(16);not null" json:"action"`
	RequestID  string            `gorm:"column:request_id;type:varchar(64);not null;index" json:"request_id"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (StockTransaction) TableName() string {
	return "stock_transactions"
}

func (t *StockTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
