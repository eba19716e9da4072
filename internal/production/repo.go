package production

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
)

// Repository defines persistence for order items, their orders and stage history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindItems(ctx context.Context, ids []uuid.UUID) ([]models.OrderItem, error)
	LoadItems(ctx context.Context, ids []uuid.UUID) ([]models.OrderItem, error)
	LockOrders(ctx context.Context, ids []uuid.UUID) ([]models.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	InsertHistory(ctx context.Context, rows []models.ProductionStageHistory) error
	UpdateItemStatuses(ctx context.Context, ids []uuid.UUID, stage enums.ProductionStage, at time.Time) (int64, error)
	PromoteOrder(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	CompleteOrder(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a production repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindItems(ctx context.Context, ids []uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if len(ids) == 0 {
		return items, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// LoadItems returns the items with product and order joined, in the order of ids.
func (r *repository) LoadItems(ctx context.Context, ids []uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if len(ids) == 0 {
		return items, nil
	}
	if err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Order").
		Where("id IN ?", ids).
		Find(&items).Error; err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]models.OrderItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]models.OrderItem, 0, len(items))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}
	return ordered, nil
}

// LockOrders reads the orders with row locks taken in id order so concurrent
// stage writes on the same order serialize without deadlocking.
func (r *repository) LockOrders(ctx context.Context, ids []uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	if len(ids) == 0 {
		return orders, nil
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) InsertHistory(ctx context.Context, rows []models.ProductionStageHistory) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *repository) UpdateItemStatuses(ctx context.Context, ids []uuid.UUID, stage enums.ProductionStage, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": stage, "updated_at": at})
	return res.RowsAffected, res.Error
}

// PromoteOrder moves a NEW order to IN_PRODUCTION. It reports whether the
// order was promoted.
func (r *repository) PromoteOrder(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusNew).
		Updates(map[string]any{"status": enums.OrderStatusInProduction, "updated_at": at})
	return res.RowsAffected == 1, res.Error
}

// CompleteOrder marks the order COMPLETED unless it already is. Exactly one
// caller per order ever sees true.
func (r *repository) CompleteOrder(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, []enums.OrderStatus{enums.OrderStatusNew, enums.OrderStatusInProduction}).
		Updates(map[string]any{
			"status":       enums.OrderStatusCompleted,
			"completed_at": at,
			"updated_at":   at,
		})
	return res.RowsAffected == 1, res.Error
}
