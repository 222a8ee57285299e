package payloads

import (
	"github.com/google/uuid"
)

// StockLine is one inventory movement inside an event.
type StockLine struct {
	ProductID uuid.UUID  `json:"product_id"`
	SellerID  uuid.UUID  `json:"seller_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Size      *string    `json:"size,omitempty"`
	Quantity  int        `json:"quantity"`
}

// StockMovementEvent is emitted when a sub-order's reservation is created,
// released or committed.
type StockMovementEvent struct {
	OrderID    uuid.UUID   `json:"order_id"`
	SubOrderID uuid.UUID   `json:"sub_order_id"`
	RequestID  string      `json:"request_id"`
	Reason     string      `json:"reason,omitempty"`
	Lines      []StockLine `json:"lines"`
}

// StockAdjustedEvent is emitted after an administrative stock change.
type StockAdjustedEvent struct {
	InventoryID uuid.UUID      `json:"inventory_id"`
	ProductID   uuid.UUID      `json:"product_id"`
	SellerID    uuid.UUID      `json:"seller_id"`
	VariantID   *uuid.UUID     `json:"variant_id,omitempty"`
	Delta       int            `json:"delta"`
	Stock       int            `json:"stock"`
	SizeStock   map[string]int `json:"size_stock,omitempty"`
}
