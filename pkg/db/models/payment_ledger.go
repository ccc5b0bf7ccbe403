package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// PaymentLedgerEntry tracks one gateway payment intent until an order exists for it.
// Snapshot holds the checkout snapshot the shopper was charged for.
type PaymentLedgerEntry struct {
	IntentRef        string             `gorm:"column:intent_ref;primaryKey"`
	Receipt          string             `gorm:"column:receipt;uniqueIndex;not null"`
	OwnerKey         string             `gorm:"column:owner_key;not null"`
	Amount           decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string             `gorm:"column:currency;not null"`
	Status           enums.LedgerStatus `gorm:"column:status;not null"`
	PaymentReference *string            `gorm:"column:payment_reference"`
	OrderID          *uuid.UUID         `gorm:"column:order_id;type:uuid"`
	Snapshot         json.RawMessage    `gorm:"column:snapshot;type:jsonb;not null"`
	Attempts         int                `gorm:"column:attempts;not null;default:0"`
	LastError        *string            `gorm:"column:last_error"`
	CreatedAt        time.Time          `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;not null"`
}

func (PaymentLedgerEntry) TableName() string {
	return "payment_ledger"
}
