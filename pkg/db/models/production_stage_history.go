package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/enums"
)

// ProductionStageHistory records every stage write against an order item.
type ProductionStageHistory struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderItemID uuid.UUID             `gorm:"column:order_item_id;type:uuid;not null" json:"order_item_id"`
	Stage       enums.ProductionStage `gorm:"column:stage;type:production_stage;not null" json:"stage"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName pins the table name; gorm would otherwise pluralise the last word.
func (ProductionStageHistory) TableName() string {
	return "production_stage_history"
}

// BeforeCreate assigns an id when the caller did not.
func (h *ProductionStageHistory) BeforeCreate(*gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
