package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/enums"
)

// OrderItem is one product line of an order moving through the workshop stages.
type OrderItem struct {
	ID        uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID                `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	ProductID uuid.UUID                `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	Quantity  int                      `gorm:"column:quantity;not null" json:"quantity"`
	Status    enums.ProductionStage    `gorm:"column:status;type:production_stage;not null;default:'TO_PRODUCE'" json:"status"`
	Note      *string                  `gorm:"column:note" json:"note,omitempty"`
	CreatedAt time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	Product   *Product                 `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT" json:"product,omitempty"`
	Order     *Order                   `gorm:"foreignKey:OrderID" json:"order,omitempty"`
	History   []ProductionStageHistory `gorm:"foreignKey:OrderItemID;constraint:OnDelete:CASCADE" json:"history,omitempty"`
}

// BeforeCreate assigns an id when the caller did not.
func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
