package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// OrderLine is one purchased product as it appears in order events.
type OrderLine struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// OrderPlacedEvent is emitted in the commit transaction of every new order.
type OrderPlacedEvent struct {
	OrderID          uuid.UUID           `json:"order_id"`
	OwnerKey         string              `json:"owner_key"`
	Contact          string              `json:"contact,omitempty"`
	Status           enums.OrderStatus   `json:"status"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	Total            decimal.Decimal     `json:"total"`
	Currency         string              `json:"currency"`
	ShippingAddress  types.Address       `json:"shipping_address"`
	Lines            []OrderLine         `json:"lines"`
	PlacedAt         time.Time           `json:"placed_at"`
}

// OrderStatusChangedEvent records an operator-driven status transition.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	OwnerKey  string            `json:"owner_key"`
	Contact   string            `json:"contact,omitempty"`
	From      enums.OrderStatus `json:"from"`
	To        enums.OrderStatus `json:"to"`
	Note      string            `json:"note,omitempty"`
	ChangedAt time.Time         `json:"changed_at"`
}

// PaymentReconciliationRequiredEvent flags a captured payment that never became an order.
type PaymentReconciliationRequiredEvent struct {
	IntentRef string             `json:"intent_ref"`
	Receipt   string             `json:"receipt"`
	OwnerKey  string             `json:"owner_key"`
	Amount    decimal.Decimal    `json:"amount"`
	Currency  string             `json:"currency"`
	Status    enums.LedgerStatus `json:"status"`
	Attempts  int                `json:"attempts"`
	LastError string             `json:"last_error,omitempty"`
}
