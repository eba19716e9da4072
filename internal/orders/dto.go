package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/workshop-backend/pkg/db/models"
	"github.com/angelmondragon/workshop-backend/pkg/enums"
	"github.com/angelmondragon/workshop-backend/pkg/pagination"
)

// CreateOrderItem is one requested line of a new order.
type CreateOrderItem struct {
	ProductID uuid.UUID
	Quantity  int
	Note      *string
}

// CreateOrderInput carries a new manufacturing order.
type CreateOrderInput struct {
	Items       []CreateOrderItem
	ActorUserID *uuid.UUID
}

// ListFilters narrows the order list.
type ListFilters struct {
	Status *enums.OrderStatus
}

// ListOrdersInput combines filters with cursor pagination.
type ListOrdersInput struct {
	Filters ListFilters
	Params  pagination.Params
}

// OrderList wraps one page of orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// CancelOrderInput identifies the order to cancel and who asked.
type CancelOrderInput struct {
	OrderID     uuid.UUID
	ActorUserID *uuid.UUID
}
