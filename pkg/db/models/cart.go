package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart is the server-side snapshot of an authenticated shopper's cart.
type Cart struct {
	OwnerKey     string     `gorm:"column:owner_key;primaryKey"`
	LastModified time.Time  `gorm:"column:last_modified;not null"`
	Lines        []CartLine `gorm:"foreignKey:OwnerKey;references:OwnerKey;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// CartLine is one product row of a persisted cart; Position keeps display order.
type CartLine struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OwnerKey      string           `gorm:"column:owner_key;not null;uniqueIndex:idx_cart_lines_owner_product"`
	Position      int              `gorm:"column:position;not null"`
	ProductID     uuid.UUID        `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_cart_lines_owner_product"`
	Name          string           `gorm:"column:name;not null"`
	UnitPrice     decimal.Decimal  `gorm:"column:unit_price;type:numeric(12,2);not null"`
	DiscountPrice *decimal.Decimal `gorm:"column:discount_price;type:numeric(12,2)"`
	Quantity      int              `gorm:"column:quantity;not null"`
	StockAtRead   int              `gorm:"column:stock_at_read;not null"`
}
