package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is the catalog entry whose on-hand quantity this service owns.
// CurrentStock is a cache of the signed sum of its stock transactions.
type Product struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SKU          string    `gorm:"column:sku;not null;uniqueIndex" json:"sku"`
	Name         string    `gorm:"column:name;not null" json:"name"`
	CurrentStock int       `gorm:"column:current_stock;not null;default:0" json:"current_stock"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns an id when the caller did not.
func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
