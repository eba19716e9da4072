package production

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/internal/stock"
	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/db/dbtest"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/workshop-backend/pkg/errors"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]uuid.UUID
}

func (n *recordingNotifier) StockChanged(ctx context.Context, productIDs []uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, append([]uuid.UUID(nil), productIDs...))
	return nil
}

type harness struct {
	client   *db.Client
	stock    stock.Service
	svc      *service
	notifier *recordingNotifier
	actor    uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, dbtest.Open(t))
}

func newHarnessOn(t *testing.T, client *db.Client) *harness {
	t.Helper()
	notifier := &recordingNotifier{}
	stockSvc, err := stock.NewService(stock.NewRepository(client.DB()), client, notifier, nil, logger.Nop())
	require.NoError(t, err)
	svc, err := NewService(NewRepository(client.DB()), client, stockSvc, nil, logger.Nop())
	require.NoError(t, err)
	return &harness{client: client, stock: stockSvc, svc: svc.(*service), notifier: notifier, actor: uuid.New()}
}

func (h *harness) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.client.DB().First(&order, "id = ?", id).Error)
	return order
}

func (h *harness) item(t *testing.T, id uuid.UUID) models.OrderItem {
	t.Helper()
	var item models.OrderItem
	require.NoError(t, h.client.DB().First(&item, "id = ?", id).Error)
	return item
}

func (h *harness) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, h.client.DB().First(&product, "id = ?", id).Error)
	return product.CurrentStock
}

func (h *harness) credits(t *testing.T, orderNumber string) []models.StockTransaction {
	t.Helper()
	var entries []models.StockTransaction
	require.NoError(t, h.client.DB().
		Where("type = ? AND reason = ?", enums.StockTransactionTypeIn, CompletionReasonPrefix+orderNumber).
		Order("quantity DESC").
		Find(&entries).Error)
	return entries
}

func (h *harness) historyCount(t *testing.T, itemIDs ...uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.client.DB().Model(&models.ProductionStageHistory{}).
		Where("order_item_id IN ?", itemIDs).Count(&count).Error)
	return count
}

func (h *harness) setStage(t *testing.T, stage enums.ProductionStage, ids ...uuid.UUID) {
	t.Helper()
	require.NoError(t, h.client.DB().Model(&models.OrderItem{}).Where("id IN ?", ids).Update("status", stage).Error)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	client := dbtest.Open(t)
	stockSvc, err := stock.NewService(stock.NewRepository(client.DB()), client, nil, nil, logger.Nop())
	require.NoError(t, err)

	_, err = NewService(nil, client, stockSvc, nil, logger.Nop())
	require.Error(t, err)
	_, err = NewService(NewRepository(client.DB()), nil, stockSvc, nil, logger.Nop())
	require.Error(t, err)
	_, err = NewService(NewRepository(client.DB()), client, nil, nil, logger.Nop())
	require.Error(t, err)
	_, err = NewService(NewRepository(client.DB()), client, stockSvc, nil, nil)
	require.Error(t, err)
}

func TestTransitionStage_SkipAheadPromotesOrder(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-100", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-1", product, 2)

	item, err := h.svc.TransitionStage(context.Background(), TransitionInput{
		OrderItemID: items[0].ID,
		Stage:       enums.ProductionStagePackaging,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ProductionStagePackaging, item.Status)
	require.NotNil(t, item.Product)
	assert.Equal(t, "RING-100", item.Product.SKU)
	require.NotNil(t, item.Order)
	assert.Equal(t, enums.OrderStatusInProduction, item.Order.Status)

	var history []models.ProductionStageHistory
	require.NoError(t, h.client.DB().Where("order_item_id = ?", items[0].ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, enums.ProductionStagePackaging, history[0].Stage)
	assert.Equal(t, enums.OrderStatusInProduction, h.order(t, order.ID).Status)
}

func TestTransitionStage_ToProducePromotesNewOrder(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-101", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-2", product, 1)

	_, err := h.svc.TransitionStage(context.Background(), TransitionInput{OrderItemID: items[0].ID, Stage: enums.ProductionStageToProduce})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusInProduction, h.order(t, order.ID).Status)
	assert.Equal(t, int64(1), h.historyCount(t, items[0].ID), "same-stage writes are still recorded")
}

func TestBulkTransition_ToProducePromotesNewOrder(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-109", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-9", product, 1, 2)
	ids := []uuid.UUID{items[0].ID, items[1].ID}

	result, err := h.svc.BulkTransition(context.Background(), BulkTransitionInput{OrderItemIDs: ids, Stage: enums.ProductionStageToProduce, ActorUserID: h.actor})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedCount)

	got := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusInProduction, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestTransitionStage_BackwardMoveAllowed(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-102", 0)
	_, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-3", product, 1)
	ctx := context.Background()

	_, err := h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: items[0].ID, Stage: enums.ProductionStageBench})
	require.NoError(t, err)
	item, err := h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: items[0].ID, Stage: enums.ProductionStageWaxReady})
	require.NoError(t, err)

	assert.Equal(t, enums.ProductionStageWaxReady, item.Status)
	assert.Equal(t, int64(2), h.historyCount(t, items[0].ID))
}

func TestTransitionStage_Errors(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-103", 0)
	_, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-4", product, 1)
	ctx := context.Background()

	_, err := h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: items[0].ID, Stage: "ENGRAVING"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: uuid.New(), Stage: enums.ProductionStageBench})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = h.svc.TransitionStage(ctx, TransitionInput{Stage: enums.ProductionStageBench})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	assert.Equal(t, int64(0), h.historyCount(t, items[0].ID))
}

func TestTransitionStage_LastItemCompletesOrderOnce(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return fixed }

	ring := dbtest.SeedProduct(t, h.client.DB(), "RING-104", 1)
	chain := dbtest.SeedProduct(t, h.client.DB(), "CHAIN-104", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-5", ring, 3)
	_, extra := dbtest.SeedOrder(t, h.client.DB(), "PRD-5B", chain, 1)
	require.NoError(t, h.client.DB().Model(&models.OrderItem{}).Where("id = ?", extra[0].ID).
		Update("order_id", order.ID).Error)
	ctx := context.Background()

	_, err := h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: items[0].ID, Stage: enums.ProductionStageCompleted})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusInProduction, h.order(t, order.ID).Status)
	assert.Empty(t, h.credits(t, "PRD-5"))

	item, err := h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: extra[0].ID, Stage: enums.ProductionStageCompleted, ActorUserID: &h.actor})
	require.NoError(t, err)
	require.NotNil(t, item.Order)
	assert.Equal(t, enums.OrderStatusCompleted, item.Order.Status)

	completed := h.order(t, order.ID)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, completed.CompletedAt.Equal(fixed))

	credits := h.credits(t, "PRD-5")
	require.Len(t, credits, 2)
	assert.Equal(t, 3, credits[0].Quantity)
	assert.Equal(t, ring.ID, credits[0].ProductID)
	assert.Equal(t, 1, credits[1].Quantity)
	assert.Equal(t, chain.ID, credits[1].ProductID)
	require.NotNil(t, credits[0].UserID)
	assert.Equal(t, h.actor, *credits[0].UserID)
	assert.Equal(t, 4, h.stockOf(t, ring.ID))
	assert.Equal(t, 1, h.stockOf(t, chain.ID))

	require.NotEmpty(t, h.notifier.calls)
	assert.ElementsMatch(t, []uuid.UUID{ring.ID, chain.ID}, h.notifier.calls[len(h.notifier.calls)-1])

	// Re-completing an item of a completed order is recorded but credits nothing.
	h.svc.now = func() time.Time { return fixed.Add(time.Hour) }
	_, err = h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: items[0].ID, Stage: enums.ProductionStageCompleted})
	require.NoError(t, err)
	assert.Len(t, h.credits(t, "PRD-5"), 2)
	assert.True(t, h.order(t, order.ID).CompletedAt.Equal(fixed))
	assert.Equal(t, int64(2), h.historyCount(t, items[0].ID))
}

func TestTransitionStage_ClosedOrdersRejectStageChanges(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-105", 0)
	done, doneItems := dbtest.SeedOrder(t, h.client.DB(), "PRD-6", product, 1)
	cancelled, cancelledItems := dbtest.SeedOrder(t, h.client.DB(), "PRD-7", product, 1)
	ctx := context.Background()

	_, err := h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: doneItems[0].ID, Stage: enums.ProductionStageCompleted})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, h.order(t, done.ID).Status)

	_, err = h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: doneItems[0].ID, Stage: enums.ProductionStagePolishing})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	assert.Equal(t, enums.ProductionStageCompleted, h.item(t, doneItems[0].ID).Status)

	require.NoError(t, h.client.DB().Model(&models.Order{}).Where("id = ?", cancelled.ID).
		Update("status", enums.OrderStatusCancelled).Error)
	_, err = h.svc.TransitionStage(ctx, TransitionInput{OrderItemID: cancelledItems[0].ID, Stage: enums.ProductionStageCompleted})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	assert.Equal(t, int64(0), h.historyCount(t, cancelledItems[0].ID))
	assert.Empty(t, h.credits(t, "PRD-7"))
}

func TestBulkTransition_CompletesOrderAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return fixed }

	ring := dbtest.SeedProduct(t, h.client.DB(), "RING-200", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-20", ring, 3, 2)
	ids := []uuid.UUID{items[0].ID, items[1].ID}
	h.setStage(t, enums.ProductionStageCasting, ids...)
	ctx := context.Background()

	result, err := h.svc.BulkTransition(ctx, BulkTransitionInput{OrderItemIDs: ids, Stage: enums.ProductionStageCompleted, ActorUserID: h.actor})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedCount)
	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		assert.Equal(t, enums.ProductionStageCompleted, item.Status)
		require.NotNil(t, item.Order)
		assert.Equal(t, enums.OrderStatusCompleted, item.Order.Status)
	}

	credits := h.credits(t, "PRD-20")
	require.Len(t, credits, 2)
	assert.Equal(t, 3, credits[0].Quantity)
	assert.Equal(t, 2, credits[1].Quantity)
	assert.Equal(t, 5, h.stockOf(t, ring.ID))
	first := h.order(t, order.ID)
	require.NotNil(t, first.CompletedAt)

	h.svc.now = func() time.Time { return fixed.Add(time.Minute) }
	again, err := h.svc.BulkTransition(ctx, BulkTransitionInput{OrderItemIDs: ids, Stage: enums.ProductionStageCompleted, ActorUserID: h.actor})
	require.NoError(t, err)
	assert.Equal(t, 2, again.UpdatedCount)
	assert.Len(t, h.credits(t, "PRD-20"), 2)
	assert.Equal(t, 5, h.stockOf(t, ring.ID))
	assert.True(t, h.order(t, order.ID).CompletedAt.Equal(*first.CompletedAt))
	assert.Equal(t, int64(4), h.historyCount(t, ids...))
	assert.Equal(t, 5, dbtest.LedgerSum(t, h.client.DB(), ring.ID))
}

func TestBulkTransition_MissingItemAbortsEverything(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-201", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-21", product, 1, 1)
	missing := uuid.New()

	_, err := h.svc.BulkTransition(context.Background(), BulkTransitionInput{
		OrderItemIDs: []uuid.UUID{items[0].ID, missing, items[1].ID},
		Stage:        enums.ProductionStageCompleted,
		ActorUserID:  h.actor,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
	assert.Contains(t, typed.Message(), missing.String())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{missing.String()}, details["missing_ids"])

	assert.Equal(t, int64(0), h.historyCount(t, items[0].ID, items[1].ID))
	assert.Equal(t, enums.ProductionStageToProduce, h.item(t, items[0].ID).Status)
	assert.Equal(t, enums.OrderStatusNew, h.order(t, order.ID).Status)
	assert.Empty(t, h.credits(t, "PRD-21"))
}

func TestBulkTransition_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.BulkTransition(ctx, BulkTransitionInput{Stage: enums.ProductionStageBench, ActorUserID: h.actor})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = h.svc.BulkTransition(ctx, BulkTransitionInput{OrderItemIDs: []uuid.UUID{uuid.New()}, Stage: "DONE", ActorUserID: h.actor})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = h.svc.BulkTransition(ctx, BulkTransitionInput{OrderItemIDs: []uuid.UUID{uuid.New()}, Stage: enums.ProductionStageBench})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "got %v", err)

	_, err = h.svc.BulkTransition(ctx, BulkTransitionInput{OrderItemIDs: []uuid.UUID{uuid.Nil}, Stage: enums.ProductionStageBench, ActorUserID: h.actor})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestBulkTransition_DuplicateIDsCollapse(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-202", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-22", product, 1, 1)

	result, err := h.svc.BulkTransition(context.Background(), BulkTransitionInput{
		OrderItemIDs: []uuid.UUID{items[0].ID, items[1].ID, items[0].ID},
		Stage:        enums.ProductionStageWaxPressing,
		ActorUserID:  h.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedCount)
	assert.Equal(t, items[0].ID, result.Items[0].ID)
	assert.Equal(t, int64(2), h.historyCount(t, items[0].ID, items[1].ID))
	assert.Equal(t, enums.OrderStatusInProduction, h.order(t, order.ID).Status)
}

func TestBulkTransition_SpansOrders(t *testing.T) {
	h := newHarness(t)
	ring := dbtest.SeedProduct(t, h.client.DB(), "RING-203", 0)
	pendant := dbtest.SeedProduct(t, h.client.DB(), "PENDANT-203", 0)
	first, firstItems := dbtest.SeedOrder(t, h.client.DB(), "PRD-23", ring, 2)
	second, secondItems := dbtest.SeedOrder(t, h.client.DB(), "PRD-24", pendant, 4, 1)

	// Only one of the second order's items is in the batch.
	_, err := h.svc.BulkTransition(context.Background(), BulkTransitionInput{
		OrderItemIDs: []uuid.UUID{firstItems[0].ID, secondItems[0].ID},
		Stage:        enums.ProductionStageCompleted,
		ActorUserID:  h.actor,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusCompleted, h.order(t, first.ID).Status)
	assert.Equal(t, enums.OrderStatusInProduction, h.order(t, second.ID).Status)
	assert.Len(t, h.credits(t, "PRD-23"), 1)
	assert.Empty(t, h.credits(t, "PRD-24"))
	assert.Equal(t, 2, h.stockOf(t, ring.ID))
	assert.Equal(t, 0, h.stockOf(t, pendant.ID))
}

type failingLedger struct {
	StockLedger
	err error
}

func (f failingLedger) Apply(ctx context.Context, tx *gorm.DB, input stock.ApplyInput) (*models.StockTransaction, error) {
	return nil, f.err
}

func TestBulkTransition_CreditFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-204", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-25", product, 1, 2)

	ledger := failingLedger{StockLedger: h.stock, err: pkgerrors.New(pkgerrors.CodeDependency, "ledger offline")}
	svc, err := NewService(NewRepository(h.client.DB()), h.client, ledger, nil, logger.Nop())
	require.NoError(t, err)

	_, err = svc.BulkTransition(context.Background(), BulkTransitionInput{
		OrderItemIDs: []uuid.UUID{items[0].ID, items[1].ID},
		Stage:        enums.ProductionStageCompleted,
		ActorUserID:  h.actor,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	assert.Equal(t, int64(0), h.historyCount(t, items[0].ID, items[1].ID))
	assert.Equal(t, enums.ProductionStageToProduce, h.item(t, items[1].ID).Status)
	o := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusNew, o.Status)
	assert.Nil(t, o.CompletedAt)
}

func TestCompletionCoordinator_ReevaluationIsNoop(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-205", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-26", product, 5)
	h.setStage(t, enums.ProductionStageCompleted, items[0].ID)
	ctx := context.Background()

	evaluate := func() *CompletionResult {
		var out *CompletionResult
		require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			out, err = h.svc.coordinator.Evaluate(ctx, tx, nil, order.ID)
			return err
		}))
		return out
	}

	first := evaluate()
	require.Len(t, first.CompletedOrders, 1)
	require.Len(t, first.Credits, 1)
	assert.Equal(t, []uuid.UUID{product.ID}, first.ProductIDs())

	for i := 0; i < 3; i++ {
		again := evaluate()
		assert.Empty(t, again.CompletedOrders)
		assert.Empty(t, again.Credits)
	}
	assert.Equal(t, 5, h.stockOf(t, product.ID))
	assert.Len(t, h.credits(t, "PRD-26"), 1)
}

func TestCompletionCoordinator_IncompleteOrderIsNoop(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-206", 0)
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-27", product, 1, 1)
	h.setStage(t, enums.ProductionStageCompleted, items[0].ID)
	ctx := context.Background()

	require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
		result, err := h.svc.coordinator.Evaluate(ctx, tx, nil, order.ID)
		if err != nil {
			return err
		}
		if len(result.CompletedOrders) != 0 || len(result.Credits) != 0 {
			return errors.New("expected no completion")
		}
		return nil
	}))
	assert.Equal(t, enums.OrderStatusNew, h.order(t, order.ID).Status)
}

// Concurrency scenarios run against SQLite here and against Postgres in
// postgres_test.go when a DSN is configured.
var concurrencyScenarios = []struct {
	name string
	run  func(t *testing.T, h *harness)
}{
	{"single item completions credit exactly once", concurrentCompletionCreditsExactlyOnce},
	{"bulk completions credit exactly once", concurrentBulkCompletionCreditsExactlyOnce},
	{"orders sharing a product", concurrentOrdersSharingProduct},
}

func TestConcurrentCompletionCreditsExactlyOnce(t *testing.T) {
	concurrentCompletionCreditsExactlyOnce(t, newHarness(t))
}

func TestConcurrentBulkCompletionCreditsExactlyOnce(t *testing.T) {
	concurrentBulkCompletionCreditsExactlyOnce(t, newHarness(t))
}

func TestConcurrentOrdersSharingProduct(t *testing.T) {
	concurrentOrdersSharingProduct(t, newHarness(t))
}

func concurrentCompletionCreditsExactlyOnce(t *testing.T, h *harness) {
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-300", 0)
	quantities := []int{1, 2, 3, 4, 5, 6}
	order, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-30", product, quantities...)

	var wg sync.WaitGroup
	errs := make(chan error, len(items))
	for _, item := range items {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := h.svc.TransitionStage(context.Background(), TransitionInput{OrderItemID: id, Stage: enums.ProductionStageCompleted}); err != nil {
				errs <- err
			}
		}(item.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected transition error: %v", err)
	}

	credits := h.credits(t, "PRD-30")
	require.Len(t, credits, len(items))
	total := 0
	for _, credit := range credits {
		total += credit.Quantity
	}
	assert.Equal(t, 21, total)
	assert.Equal(t, 21, h.stockOf(t, product.ID))
	assert.Equal(t, 21, dbtest.LedgerSum(t, h.client.DB(), product.ID))
	completed := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func concurrentBulkCompletionCreditsExactlyOnce(t *testing.T, h *harness) {
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-301", 0)
	_, items := dbtest.SeedOrder(t, h.client.DB(), "PRD-31", product, 3, 2)
	ids := []uuid.UUID{items[0].ID, items[1].ID}

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.BulkTransition(context.Background(), BulkTransitionInput{OrderItemIDs: ids, Stage: enums.ProductionStageCompleted, ActorUserID: h.actor}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected bulk error: %v", err)
	}

	assert.Len(t, h.credits(t, "PRD-31"), 2)
	assert.Equal(t, 5, h.stockOf(t, product.ID))
	assert.Equal(t, int64(2*callers), h.historyCount(t, ids...))
}

func concurrentOrdersSharingProduct(t *testing.T, h *harness) {
	product := dbtest.SeedProduct(t, h.client.DB(), "RING-302", 0)

	const orders = 5
	var all []uuid.UUID
	for i := 0; i < orders; i++ {
		_, items := dbtest.SeedOrder(t, h.client.DB(), fmt.Sprintf("PRD-32-%d", i), product, 2)
		all = append(all, items[0].ID)
	}

	var wg sync.WaitGroup
	for _, id := range all {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := h.svc.TransitionStage(context.Background(), TransitionInput{OrderItemID: id, Stage: enums.ProductionStageCompleted})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2*orders, h.stockOf(t, product.ID))
	assert.Equal(t, 2*orders, dbtest.LedgerSum(t, h.client.DB(), product.ID))
}
