package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order together with its sub-orders and items.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Preload("SubOrders.Items").
		Where("id = ?", orderID).
		Take(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error) {
	var sub models.SubOrder
	if err := r.db.WithContext(ctx).Where("id = ?", subOrderID).Take(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindSubOrderForUpdate row-locks the sub-order until the surrounding
// transaction ends. Concurrent release/commit calls serialize on it.
func (r *repository) FindSubOrderForUpdate(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error) {
	var sub models.SubOrder
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", subOrderID).
		Take(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *repository) ListItems(ctx context.Context, subOrderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.WithContext(ctx).
		Where("sub_order_id = ?", subOrderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *repository) UpdateSubOrderStatus(ctx context.Context, subOrderID uuid.UUID, status enums.OrderStatus) error {
	return r.updateStatus(ctx, &models.SubOrder{}, subOrderID, status)
}

func (r *repository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	return r.updateStatus(ctx, &models.Order{}, orderID, status)
}

func (r *repository) updateStatus(ctx context.Context, model any, id uuid.UUID, status enums.OrderStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid order status %q", status)
	}
	res := r.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindExpiredPendingSubOrders lists sub-orders still awaiting payment that
// were created before cutoff, oldest first.
func (r *repository) FindExpiredPendingSubOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusPendingPayment).
		Where("created_at < ?", cutoff.UTC()).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
