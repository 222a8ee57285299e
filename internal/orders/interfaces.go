package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
)

// Repository defines persistence operations for orders, sub-orders and
// their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error)
	FindSubOrderForUpdate(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error)
	ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error)
	ListItems(ctx context.Context, subOrderID uuid.UUID) ([]models.OrderItem, error)
	UpdateSubOrderStatus(ctx context.Context, subOrderID uuid.UUID, status enums.OrderStatus) error
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error
	FindExpiredPendingSubOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.SubOrder, error)
}
