package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/db/models"
)

// Repository reads the product state alerts are built from.
type Repository interface {
	FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	ListAtOrBelow(ctx context.Context, threshold int) ([]models.Product, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("sku ASC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repositoryImpl) ListAtOrBelow(ctx context.Context, threshold int) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("current_stock <= ?", threshold).
		Order("current_stock ASC, sku ASC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}
