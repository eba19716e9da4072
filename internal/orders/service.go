package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/db"
	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/workshop-backend/pkg/errors"
	"github.com/angelmondragon/workshop-backend/pkg/logger"
	"github.com/angelmondragon/workshop-backend/pkg/pagination"
)

const (
	orderNumberPrefix   = "PRD"
	orderNumberAttempts = 3
	maxOrderItems       = 200
	maxNoteLength       = 2000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service covers the order lifecycle around the production workflow.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, input ListOrdersInput) (*OrderList, error)
	UpdateItemNote(ctx context.Context, itemID uuid.UUID, note *string) (*models.OrderItem, error)
	CancelOrder(ctx context.Context, input CancelOrderInput) (*models.Order, error)
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
	// numbers generates candidate order numbers; replaced in tests.
	numbers func(time.Time) (string, error)
}

// NewService builds an orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
		numbers: generateOrderNumber,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order, err := s.createOnce(ctx, input)
		if err == nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":     order.ID.String(),
				"order_number": order.OrderNumber,
				"items":        len(order.Items),
			})
			s.logg.Info(logCtx, "order.created")
			return order, nil
		}
		if !db.IsUniqueViolation(err, "order_number") {
			return nil, db.WrapStoreError(err, "create order")
		}
		lastErr = err
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeTxConflict, lastErr, "could not allocate an order number")
}

func (s *service) createOnce(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	now := s.now()
	number, err := s.numbers(now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
	}

	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: number,
		Status:      enums.OrderStatusNew,
		UserID:      input.ActorUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := ensureProducts(ctx, repo, input.Items); err != nil {
			return err
		}

		order.Items = make([]models.OrderItem, 0, len(input.Items))
		for _, line := range input.Items {
			order.Items = append(order.Items, models.OrderItem{
				ID:        uuid.New(),
				OrderID:   order.ID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Status:    enums.ProductionStageToProduce,
				Note:      normalizeNote(line.Note),
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		return repo.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func ensureProducts(ctx context.Context, repo Repository, lines []CreateOrderItem) error {
	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}

	products, err := repo.FindProducts(ctx, ids)
	if err != nil {
		return db.WrapStoreError(err, "load products")
	}
	found := make(map[uuid.UUID]struct{}, len(products))
	for _, product := range products {
		found[product.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "products not found: "+strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing_ids": missing})
	}
	return nil
}

func validateCreate(input CreateOrderInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	if len(input.Items) > maxOrderItems {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d items per order", maxOrderItems))
	}
	for i, line := range input.Items {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: product id required", i))
		}
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if line.Note != nil && len(*line.Note) > maxNoteLength {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d]: note exceeds %d characters", i, maxNoteLength))
		}
	}
	return nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrderDetail(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, db.WrapStoreError(err, "load order")
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, input ListOrdersInput) (*OrderList, error) {
	if input.Filters.Status != nil && !input.Filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", *input.Filters.Status))
	}
	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListOrders(ctx, input.Filters, cursor, pagination.LimitWithBuffer(input.Params.Limit))
	if err != nil {
		return nil, db.WrapStoreError(err, "list orders")
	}
	page, next := pagination.Trim(rows, input.Params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &OrderList{Orders: page, NextCursor: next}, nil
}

func (s *service) UpdateItemNote(ctx context.Context, itemID uuid.UUID, note *string) (*models.OrderItem, error) {
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id required")
	}
	note = normalizeNote(note)
	if note != nil && len(*note) > maxNoteLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("note exceeds %d characters", maxNoteLength))
	}

	updated, err := s.repo.UpdateItemNote(ctx, itemID, note, s.now())
	if err != nil {
		return nil, db.WrapStoreError(err, "update item note")
	}
	if updated == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
	}
	item, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		return nil, db.WrapStoreError(err, "reload order item")
	}
	return item, nil
}

func (s *service) CancelOrder(ctx context.Context, input CancelOrderInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var cancelled bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return db.WrapStoreError(err, "lock order")
		}

		switch order.Status {
		case enums.OrderStatusCancelled:
			return nil
		case enums.OrderStatusCompleted:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order %s is already completed", order.OrderNumber)).
				WithDetails(map[string]any{"order_id": order.ID, "status": order.Status})
		}

		cancelled, err = repo.UpdateOrderStatus(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusNew, enums.OrderStatusInProduction},
			enums.OrderStatusCancelled, s.now())
		if err != nil {
			return db.WrapStoreError(err, "cancel order")
		}
		if !cancelled {
			return pkgerrors.New(pkgerrors.CodeTxConflict, "order changed while cancelling")
		}
		return nil
	})
	if err != nil {
		return nil, db.WrapStoreError(err, "cancel order")
	}

	if cancelled {
		logCtx := s.logg.WithOrderID(ctx, input.OrderID.String())
		if input.ActorUserID != nil {
			logCtx = s.logg.WithUserID(logCtx, input.ActorUserID.String())
		}
		s.logg.Info(logCtx, "order.cancelled")
	}
	return s.GetOrder(ctx, input.OrderID)
}

func normalizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// generateOrderNumber returns PRD-<unix millis>-<8 hex>.
func generateOrderNumber(now time.Time) (string, error) {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s", orderNumberPrefix, now.UnixMilli(), strings.ToUpper(hex.EncodeToString(suffix[:]))), nil
}
