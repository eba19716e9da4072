package production

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/internal/stock"
	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
)

// CompletionReasonPrefix prefixes the reason on every completion credit.
const CompletionReasonPrefix = "order completed: "

// StockLedger is the slice of the stock service the workflow writes through.
type StockLedger interface {
	Apply(ctx context.Context, tx *gorm.DB, input stock.ApplyInput) (*models.StockTransaction, error)
	NotifyChanged(ctx context.Context, productIDs []uuid.UUID)
}

// CompletionResult lists what a completion pass changed.
type CompletionResult struct {
	CompletedOrders []models.Order
	Credits         []models.StockTransaction
}

// ProductIDs returns the distinct products credited.
func (r *CompletionResult) ProductIDs() []uuid.UUID {
	if r == nil {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(r.Credits))
	ids := make([]uuid.UUID, 0, len(r.Credits))
	for _, credit := range r.Credits {
		if _, ok := seen[credit.ProductID]; ok {
			continue
		}
		seen[credit.ProductID] = struct{}{}
		ids = append(ids, credit.ProductID)
	}
	return ids
}

// CompletionCoordinator closes orders whose items are all COMPLETED and
// credits the finished goods to stock, once per order.
type CompletionCoordinator struct {
	repo   Repository
	ledger StockLedger
	now    func() time.Time
}

// NewCompletionCoordinator wires a coordinator over the given repository and ledger.
func NewCompletionCoordinator(repo Repository, ledger StockLedger) (*CompletionCoordinator, error) {
	if repo == nil {
		return nil, fmt.Errorf("production repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	return &CompletionCoordinator{
		repo:   repo,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

type pendingCredit struct {
	order models.Order
	item  models.OrderItem
}

// Evaluate must run inside tx after the stage writes. Orders that are not
// fully completed, or already COMPLETED, are left untouched.
func (c *CompletionCoordinator) Evaluate(ctx context.Context, tx *gorm.DB, actor *uuid.UUID, orderIDs ...uuid.UUID) (*CompletionResult, error) {
	repo := c.repo.WithTx(tx)
	result := &CompletionResult{}

	orders, err := repo.LockOrders(ctx, orderIDs)
	if err != nil {
		return nil, db.WrapStoreError(err, "lock orders for completion")
	}

	var credits []pendingCredit
	for _, order := range orders {
		if order.Status.IsClosed() {
			continue
		}
		items, err := repo.ListOrderItems(ctx, order.ID)
		if err != nil {
			return nil, db.WrapStoreError(err, "load order items")
		}
		if !allCompleted(items) {
			continue
		}

		at := c.now()
		completed, err := repo.CompleteOrder(ctx, order.ID, at)
		if err != nil {
			return nil, db.WrapStoreError(err, "mark order completed")
		}
		if !completed {
			continue
		}

		order.Status = enums.OrderStatusCompleted
		order.CompletedAt = &at
		result.CompletedOrders = append(result.CompletedOrders, order)
		for _, item := range items {
			credits = append(credits, pendingCredit{order: order, item: item})
		}
	}

	// Credit in product order so concurrent completions lock products consistently.
	sort.SliceStable(credits, func(i, j int) bool {
		return bytes.Compare(credits[i].item.ProductID[:], credits[j].item.ProductID[:]) < 0
	})

	for _, credit := range credits {
		reason := CompletionReasonPrefix + credit.order.OrderNumber
		entry, err := c.ledger.Apply(ctx, tx, stock.ApplyInput{
			ProductID: credit.item.ProductID,
			Type:      enums.StockTransactionTypeIn,
			Quantity:  credit.item.Quantity,
			Reason:    &reason,
			UserID:    actor,
		})
		if err != nil {
			return nil, err
		}
		result.Credits = append(result.Credits, *entry)
	}
	return result, nil
}

func allCompleted(items []models.OrderItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.Status != enums.ProductionStageCompleted {
			return false
		}
	}
	return true
}
