package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/workshop-backend/pkg/enums"
)

// StockTransaction is an append-only stock ledger entry.
type StockTransaction struct {
	ID        uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProductID uuid.UUID                  `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	Type      enums.StockTransactionType `gorm:"column:type;type:stock_transaction_type;not null" json:"type"`
	Quantity  int                        `gorm:"column:quantity;not null" json:"quantity"`
	Reason    *string                    `gorm:"column:reason" json:"reason,omitempty"`
	UserID    *uuid.UUID                 `gorm:"column:user_id;type:uuid" json:"user_id,omitempty"`
	CreatedAt time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	Product   *Product                   `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT" json:"product,omitempty"`
}

// BeforeCreate assigns an id when the caller did not.
func (t *StockTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Delta returns the signed effect of the entry on CurrentStock.
func (t StockTransaction) Delta() int {
	return t.Type.Sign() * t.Quantity
}
