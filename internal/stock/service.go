package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/workshop-backend/pkg/errors"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
	"github.com/angelmondragon/workshop-backend/pkg/metrics"
)

const maxListLimit = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ChangeNotifier is told about products whose stock changed, after commit.
type ChangeNotifier interface {
	StockChanged(ctx context.Context, productIDs []uuid.UUID) error
}

// Service is the only writer of products.current_stock.
type Service interface {
	// Apply validates and writes one ledger entry inside the caller's transaction.
	Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*models.StockTransaction, error)
	// Record runs Apply in its own transaction and notifies after commit.
	Record(ctx context.Context, input ApplyInput) (*models.StockTransaction, error)
	// NotifyChanged runs post-commit side effects for stock changed elsewhere.
	NotifyChanged(ctx context.Context, productIDs []uuid.UUID)
	ListTransactions(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockTransaction, error)
	Balance(ctx context.Context, productID uuid.UUID) (*Balance, error)
}

// ApplyInput is one stock movement.
type ApplyInput struct {
	ProductID uuid.UUID
	Type      enums.StockTransactionType
	Quantity  int
	Reason    *string
	UserID    *uuid.UUID
}

// Balance compares the cached stock with the ledger it is derived from.
type Balance struct {
	ProductID    uuid.UUID `json:"product_id"`
	SKU          string    `json:"sku"`
	CurrentStock int       `json:"current_stock"`
	LedgerSum    int       `json:"ledger_sum"`
	InSync       bool      `json:"in_sync"`
}

type service struct {
	repo     Repository
	tx       txRunner
	notifier ChangeNotifier
	metrics  *metrics.ProductionMetrics
	logg     *logger.Logger
}

// NewService wires the stock ledger service. notifier and m may be nil.
func NewService(repo Repository, tx txRunner, notifier ChangeNotifier, m *metrics.ProductionMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		notifier: notifier,
		metrics:  m,
		logg:     logg,
	}, nil
}

func (s *service) Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*models.StockTransaction, error) {
	if err := validateInput(input); err != nil {
		s.metrics.IncStockRejection("validation")
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	product, err := repo.LockProduct(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": input.ProductID})
		}
		return nil, db.WrapStoreError(err, "lock product")
	}

	if input.Type == enums.StockTransactionTypeOut && product.CurrentStock < input.Quantity {
		s.metrics.IncStockRejection("insufficient_stock")
		return nil, insufficientStock(product, input.Quantity)
	}

	ok, err := repo.AdjustStock(ctx, product.ID, input.Type.Sign()*input.Quantity)
	if err != nil {
		if db.IsCheckViolation(err) {
			s.metrics.IncStockRejection("insufficient_stock")
			return nil, insufficientStock(product, input.Quantity)
		}
		return nil, db.WrapStoreError(err, "update current stock")
	}
	if !ok {
		s.metrics.IncStockRejection("insufficient_stock")
		return nil, insufficientStock(product, input.Quantity)
	}

	entry := &models.StockTransaction{
		ProductID: product.ID,
		Type:      input.Type,
		Quantity:  input.Quantity,
		Reason:    input.Reason,
		UserID:    input.UserID,
	}
	if err := repo.CreateTransaction(ctx, entry); err != nil {
		return nil, db.WrapStoreError(err, "insert stock transaction")
	}
	return entry, nil
}

func (s *service) Record(ctx context.Context, input ApplyInput) (*models.StockTransaction, error) {
	var entry *models.StockTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.Apply(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, db.WrapStoreError(err, "record stock transaction")
	}

	s.metrics.IncStockTransaction(string(entry.Type))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id":     entry.ProductID.String(),
		"transaction_id": entry.ID.String(),
		"type":           entry.Type,
		"quantity":       entry.Quantity,
	})
	s.logg.Info(logCtx, "stock.transaction.recorded")

	s.NotifyChanged(ctx, []uuid.UUID{entry.ProductID})
	return entry, nil
}

func (s *service) NotifyChanged(ctx context.Context, productIDs []uuid.UUID) {
	if s.notifier == nil || len(productIDs) == 0 {
		return
	}
	if err := s.notifier.StockChanged(ctx, productIDs); err != nil {
		logCtx := s.logg.WithField(ctx, "product_ids", productIDs)
		s.logg.Warn(logCtx, fmt.Sprintf("stock change notification failed: %v", err))
	}
}

func (s *service) ListTransactions(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockTransaction, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if _, err := s.repo.FindProduct(ctx, productID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, db.WrapStoreError(err, "load product")
	}
	entries, err := s.repo.ListTransactions(ctx, productID, limit)
	if err != nil {
		return nil, db.WrapStoreError(err, "list stock transactions")
	}
	return entries, nil
}

func (s *service) Balance(ctx context.Context, productID uuid.UUID) (*Balance, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	var out *Balance
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		product, err := repo.FindProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return err
		}
		sum, err := repo.LedgerSum(ctx, productID)
		if err != nil {
			return err
		}
		out = &Balance{
			ProductID:    product.ID,
			SKU:          product.SKU,
			CurrentStock: product.CurrentStock,
			LedgerSum:    sum,
			InSync:       product.CurrentStock == sum,
		}
		return nil
	})
	if err != nil {
		return nil, db.WrapStoreError(err, "load stock balance")
	}
	return out, nil
}

func validateInput(input ApplyInput) error {
	if input.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid stock transaction type %q", input.Type))
	}
	if input.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"quantity": input.Quantity})
	}
	if input.Reason != nil && strings.TrimSpace(*input.Reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reason must not be blank")
	}
	return nil
}

func insufficientStock(product *models.Product, requested int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for %s: %d available, %d requested", product.SKU, product.CurrentStock, requested)).
		WithDetails(map[string]any{
			"product_id": product.ID,
			"available":  product.CurrentStock,
			"requested":  requested,
		})
}
