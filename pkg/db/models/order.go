package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/pkg/enums"
)

// Order groups the per-seller sub-orders of one checkout.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:char(36);primaryKey"`
	CustomerID uuid.UUID         `gorm:"column:customer_id;type:char(36);not null;index"`
	Status     enums.OrderStatus `gorm:"column:status;type:varchar(32);not null;default:'pending_payment'"`
	SubOrders  []SubOrder        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// SubOrder is the slice of an order fulfilled by a single seller. Its
// status decides whether the stock reserved for it is still live.
type SubOrder struct {
	ID        uuid.UUID         `gorm:"column:id;type:char(36);primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:char(36);not null;index"`
	SellerID  uuid.UUID         `gorm:"column:seller_id;type:char(36);not null"`
	Status    enums.OrderStatus `gorm:"column:status;type:varchar(32);not null;default:'pending_payment';index:ix_sub_orders_status_created,priority:1"`
	Items     []OrderItem       `gorm:"foreignKey:SubOrderID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime;index:ix_sub_orders_status_created,priority:2"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SubOrder) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// OrderItem is one line of a sub-order.
type OrderItem struct {
	ID         uuid.UUID  `gorm:"column:id;type:char(36);primaryKey"`
	SubOrderID uuid.UUID  `gorm:"column:sub_order_id;type:char(36);not null;index"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:char(36);not null"`
	VariantID  *uuid.UUID `gorm:"column:variant_id;type:char(36)"`
	Size       *string    `gorm:"column:size;type:varchar(32)"`
	Quantity   int        `gorm:"column:quantity;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
