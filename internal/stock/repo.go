package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/workshop-backend/pkg/db/models"
)

// Repository manages persistence for products' stock and the stock ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	LockProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	AdjustStock(ctx context.Context, productID uuid.UUID, delta int) (bool, error)
	CreateTransaction(ctx context.Context, entry *models.StockTransaction) error
	ListTransactions(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockTransaction, error)
	LedgerSum(ctx context.Context, productID uuid.UUID) (int, error)
	ListLowStock(ctx context.Context, threshold int) ([]models.Product, error)
	ListDrift(ctx context.Context, limit int) ([]Drift, error)
}

// Drift is a product whose cached stock disagrees with its ledger.
type Drift struct {
	ProductID    uuid.UUID `gorm:"column:product_id"`
	SKU          string    `gorm:"column:sku"`
	CurrentStock int       `gorm:"column:current_stock"`
	LedgerSum    int       `gorm:"column:ledger_sum"`
}

const ledgerSumExpr = "COALESCE(SUM(CASE WHEN t.type = 'IN' THEN t.quantity ELSE -t.quantity END), 0)"

type repository struct {
	db *gorm.DB
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", productID).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// LockProduct reads the product with a row lock held until the surrounding
// transaction ends. SQLite ignores the clause; writers serialize there instead.
func (r *repository) LockProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, "id = ?", productID).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// AdjustStock applies delta to current_stock unless the result would go
// negative. It reports whether the row was updated.
func (r *repository) AdjustStock(ctx context.Context, productID uuid.UUID, delta int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND current_stock + ? >= 0", productID, delta).
		Updates(map[string]any{
			"current_stock": gorm.Expr("current_stock + ?", delta),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateTransaction(ctx context.Context, entry *models.StockTransaction) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(entry).Error
}

func (r *repository) ListTransactions(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockTransaction, error) {
	var entries []models.StockTransaction
	q := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) LedgerSum(ctx context.Context, productID uuid.UUID) (int, error) {
	var sum int
	err := r.db.WithContext(ctx).
		Table("stock_transactions AS t").
		Select(ledgerSumExpr).
		Where("t.product_id = ?", productID).
		Scan(&sum).Error
	return sum, err
}

func (r *repository) ListLowStock(ctx context.Context, threshold int) ([]models.Product, error) {
	var products []models.Product
	if err := r.db.WithContext(ctx).
		Where("current_stock <= ?", threshold).
		Order("current_stock ASC").
		Order("sku ASC").
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repository) ListDrift(ctx context.Context, limit int) ([]Drift, error) {
	var drift []Drift
	q := r.db.WithContext(ctx).
		Table("products AS p").
		Select("p.id AS product_id, p.sku, p.current_stock, " + ledgerSumExpr + " AS ledger_sum").
		Joins("LEFT JOIN stock_transactions AS t ON t.product_id = p.id").
		Group("p.id, p.sku, p.current_stock").
		Having("p.current_stock <> " + ledgerSumExpr).
		Order("p.sku ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&drift).Error; err != nil {
		return nil, err
	}
	return drift, nil
}
