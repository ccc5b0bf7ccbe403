package cartdto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// CartView is the cart snapshot exposed through the API.
type CartView struct {
	Lines        []CartLine      `json:"lines"`
	TotalItems   int             `json:"total_items"`
	Total        decimal.Decimal `json:"total"`
	LastModified time.Time       `json:"last_modified"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// CartLine is one product row with its captured prices.
type CartLine struct {
	ProductID      uuid.UUID        `json:"product_id"`
	Name           string           `json:"name"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	DiscountPrice  *decimal.Decimal `json:"discount_price,omitempty"`
	EffectivePrice decimal.Decimal  `json:"effective_price"`
	Quantity       int              `json:"quantity"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
}

// CartTotal is the response of the total endpoint.
type CartTotal struct {
	Total decimal.Decimal `json:"total"`
}

// MergeView reports the merged cart and the anonymous lines that did not fit.
type MergeView struct {
	Cart    CartView      `json:"cart"`
	Merged  int           `json:"merged"`
	Skipped []SkippedLine `json:"skipped"`
}

type SkippedLine struct {
	ProductID uuid.UUID              `json:"product_id"`
	Quantity  int                    `json:"quantity"`
	Reason    enums.CartRejectReason `json:"reason"`
	Message   string                 `json:"message"`
}
