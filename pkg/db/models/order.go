package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is the durable record produced by a successful checkout. Lines are immutable.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OwnerKey         string              `gorm:"column:owner_key;not null"`
	Contact          *string             `gorm:"column:contact"`
	Total            decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	Currency         string              `gorm:"column:currency;not null"`
	ShippingAddress  types.Address       `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;not null"`
	PaymentReference *string             `gorm:"column:payment_reference;uniqueIndex"`
	Status           enums.OrderStatus   `gorm:"column:status;not null"`
	Lines            []OrderLine         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Timeline         []OrderStatusEvent  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time           `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;not null"`
}

// OrderLine is a copy of a cart line taken at commit time.
type OrderLine struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID        `gorm:"column:order_id;type:uuid;not null"`
	Position      int              `gorm:"column:position;not null"`
	ProductID     uuid.UUID        `gorm:"column:product_id;type:uuid;not null"`
	Name          string           `gorm:"column:name;not null"`
	UnitPrice     decimal.Decimal  `gorm:"column:unit_price;type:numeric(12,2);not null"`
	DiscountPrice *decimal.Decimal `gorm:"column:discount_price;type:numeric(12,2)"`
	Quantity      int              `gorm:"column:quantity;not null"`
	LineTotal     decimal.Decimal  `gorm:"column:line_total;type:numeric(12,2);not null"`
}

// OrderStatusEvent is one entry of an order's status timeline.
type OrderStatusEvent struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	Status     enums.OrderStatus `gorm:"column:status;not null"`
	Note       string            `gorm:"column:note;not null;default:''"`
	OccurredAt time.Time         `gorm:"column:occurred_at;not null"`
}
