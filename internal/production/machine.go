package production

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/workshop-backend/pkg/errors"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
	"github.com/angelmondragon/workshop-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service moves order items through the production stages.
type Service interface {
	TransitionStage(ctx context.Context, input TransitionInput) (*models.OrderItem, error)
	BulkTransition(ctx context.Context, input BulkTransitionInput) (*BulkResult, error)
}

// TransitionInput moves one item to Stage. Any stage may follow any other.
type TransitionInput struct {
	OrderItemID uuid.UUID
	Stage       enums.ProductionStage
	ActorUserID *uuid.UUID
}

type service struct {
	repo        Repository
	tx          txRunner
	ledger      StockLedger
	coordinator *CompletionCoordinator
	metrics     *metrics.ProductionMetrics
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds the production workflow service. m may be nil.
func NewService(repo Repository, tx txRunner, ledger StockLedger, m *metrics.ProductionMetrics, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	coordinator, err := NewCompletionCoordinator(repo, ledger)
	if err != nil {
		return nil, err
	}
	svc := &service{
		repo:        repo,
		tx:          tx,
		ledger:      ledger,
		coordinator: coordinator,
		metrics:     m,
		logg:        logg,
		now:         func() time.Time { return time.Now().UTC() },
	}
	coordinator.now = func() time.Time { return svc.now() }
	return svc, nil
}

func (s *service) TransitionStage(ctx context.Context, input TransitionInput) (*models.OrderItem, error) {
	if input.OrderItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id required")
	}
	if !input.Stage.IsValid() {
		return nil, invalidStage(input.Stage)
	}

	var (
		item    *models.OrderItem
		outcome *CompletionResult
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, err := repo.FindItems(ctx, []uuid.UUID{input.OrderItemID})
		if err != nil {
			return db.WrapStoreError(err, "load order item")
		}
		if len(found) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found").
				WithDetails(map[string]any{"order_item_id": input.OrderItemID})
		}

		outcome, err = s.applyStage(ctx, tx, found, input.Stage, input.ActorUserID)
		if err != nil {
			return err
		}

		loaded, err := repo.LoadItems(ctx, []uuid.UUID{input.OrderItemID})
		if err != nil {
			return db.WrapStoreError(err, "reload order item")
		}
		item = &loaded[0]
		return nil
	})
	if err != nil {
		return nil, db.WrapStoreError(err, "transition stage")
	}

	s.afterCommit(ctx, input.Stage, 1, outcome)
	return item, nil
}

// applyStage writes history and status for items already loaded inside tx,
// then promotes and completes their orders.
func (s *service) applyStage(ctx context.Context, tx *gorm.DB, items []models.OrderItem, stage enums.ProductionStage, actor *uuid.UUID) (*CompletionResult, error) {
	repo := s.repo.WithTx(tx)

	orderIDs := distinctOrderIDs(items)
	orders, err := repo.LockOrders(ctx, orderIDs)
	if err != nil {
		return nil, db.WrapStoreError(err, "lock orders")
	}
	for _, order := range orders {
		if err := checkOrderAccepts(order, stage); err != nil {
			return nil, err
		}
	}

	at := s.now()
	history := make([]models.ProductionStageHistory, 0, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		history = append(history, models.ProductionStageHistory{
			OrderItemID: item.ID,
			Stage:       stage,
			CreatedAt:   at,
		})
		ids = append(ids, item.ID)
	}
	if err := repo.InsertHistory(ctx, history); err != nil {
		return nil, db.WrapStoreError(err, "append stage history")
	}
	if _, err := repo.UpdateItemStatuses(ctx, ids, stage, at); err != nil {
		return nil, db.WrapStoreError(err, "update item status")
	}

	for _, order := range orders {
		if order.Status != enums.OrderStatusNew {
			continue
		}
		if _, err := repo.PromoteOrder(ctx, order.ID, at); err != nil {
			return nil, db.WrapStoreError(err, "promote order")
		}
	}

	if stage != enums.ProductionStageCompleted {
		return &CompletionResult{}, nil
	}
	return s.coordinator.Evaluate(ctx, tx, actor, orderIDs...)
}

func (s *service) afterCommit(ctx context.Context, stage enums.ProductionStage, transitioned int, outcome *CompletionResult) {
	s.metrics.ObserveStageTransitions(string(stage), transitioned)
	if outcome == nil {
		return
	}
	for _, order := range outcome.CompletedOrders {
		s.metrics.IncOrdersCompleted()
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
		})
		s.logg.Info(logCtx, "order.completed")
	}
	for _, credit := range outcome.Credits {
		s.metrics.IncStockTransaction(string(credit.Type))
	}
	s.ledger.NotifyChanged(ctx, outcome.ProductIDs())
}

func checkOrderAccepts(order models.Order, stage enums.ProductionStage) error {
	switch order.Status {
	case enums.OrderStatusCancelled:
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order %s is cancelled", order.OrderNumber)).
			WithDetails(map[string]any{"order_id": order.ID, "status": order.Status})
	case enums.OrderStatusCompleted:
		if stage == enums.ProductionStageCompleted {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order %s is already completed", order.OrderNumber)).
			WithDetails(map[string]any{"order_id": order.ID, "status": order.Status})
	}
	return nil
}

func distinctOrderIDs(items []models.OrderItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.OrderID]; ok {
			continue
		}
		seen[item.OrderID] = struct{}{}
		ids = append(ids, item.OrderID)
	}
	return ids
}

func invalidStage(stage enums.ProductionStage) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid production stage %q", stage)).
		WithDetails(map[string]any{"allowed": enums.ProductionStages})
}
