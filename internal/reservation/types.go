package reservation

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
)

// Item is one line to reserve. The seller comes from the sub-order.
type Item struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id"`
	Size      *string    `json:"size" validate:"omitempty,min=1,max=32"`
	Quantity  int        `json:"quantity" validate:"gt=0"`
}

// ReserveInput reserves stock for one sub-order. When Items is empty the
// sub-order's stored items are reserved.
type ReserveInput struct {
	OrderID    uuid.UUID `json:"order_id" validate:"required"`
	SubOrderID uuid.UUID `json:"sub_order_id" validate:"required"`
	Items      []Item    `json:"items" validate:"omitempty,dive"`
	RequestID  string    `json:"request_id" validate:"required,max=64"`
}

// Line is a quantity held against one stock line.
type Line struct {
	Key      inventory.LineKey
	Quantity int
}

// Reservation describes the stock held for a sub-order by one request.
// Replayed is set when the request had already been applied.
type Reservation struct {
	OrderID    uuid.UUID
	SubOrderID uuid.UUID
	RequestID  string
	Lines      []Line
	Replayed   bool
}

// Shortage names the first line that could not be reserved.
type Shortage struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Size      *string    `json:"size,omitempty"`
	Requested int        `json:"requested"`
	Available int        `json:"available"`
}

func itemsFromOrder(rows []models.OrderItem) []Item {
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{
			ProductID: row.ProductID,
			VariantID: row.VariantID,
			Size:      row.Size,
			Quantity:  row.Quantity,
		})
	}
	return items
}
