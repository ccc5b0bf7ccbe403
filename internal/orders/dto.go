package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// CommitInput is everything needed to turn a checkout into an order.
type CommitInput struct {
	Owner            identity.Owner
	Contact          string
	Lines            []cart.Line
	ShippingAddress  types.Address
	PaymentMethod    enums.PaymentMethod
	Currency         string
	StatusOverride   *enums.OrderStatus
	PaymentReference *string
	// KeepCart skips clearing the owner's cart, for commits that happen long
	// after the shopper left checkout.
	KeepCart bool
}

// CommitResult reports the committed order. Duplicate is set when the payment
// reference had already produced an order.
type CommitResult struct {
	Order     *models.Order
	Duplicate bool
}

// OrderLineView is the API shape of an order line.
type OrderLineView struct {
	ProductID     uuid.UUID        `json:"product_id"`
	Name          string           `json:"name"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Quantity      int              `json:"quantity"`
	LineTotal     decimal.Decimal  `json:"line_total"`
}

// TimelineEntry is one status change shown on the order page.
type TimelineEntry struct {
	Status     enums.OrderStatus `json:"status"`
	Label      string            `json:"label"`
	Note       string            `json:"note,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// OrderDetail is the API shape of an order.
type OrderDetail struct {
	ID               uuid.UUID           `json:"id"`
	Status           enums.OrderStatus   `json:"status"`
	StatusLabel      string              `json:"status_label"`
	Total            decimal.Decimal     `json:"total"`
	Currency         string              `json:"currency"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method"`
	PaymentReference *string             `json:"payment_reference,omitempty"`
	Contact          *string             `json:"contact,omitempty"`
	ShippingAddress  types.Address       `json:"shipping_address"`
	Lines            []OrderLineView     `json:"lines"`
	Timeline         []TimelineEntry     `json:"timeline,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDetail `json:"orders"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ToDetail maps the stored order to its API shape.
func ToDetail(order *models.Order) OrderDetail {
	detail := OrderDetail{
		ID:               order.ID,
		Status:           order.Status,
		StatusLabel:      order.Status.DisplayLabel(),
		Total:            order.Total,
		Currency:         order.Currency,
		PaymentMethod:    order.PaymentMethod,
		PaymentReference: order.PaymentReference,
		Contact:          order.Contact,
		ShippingAddress:  order.ShippingAddress,
		Lines:            make([]OrderLineView, 0, len(order.Lines)),
		CreatedAt:        order.CreatedAt,
	}
	for _, line := range order.Lines {
		detail.Lines = append(detail.Lines, OrderLineView{
			ProductID:     line.ProductID,
			Name:          line.Name,
			UnitPrice:     line.UnitPrice,
			DiscountPrice: line.DiscountPrice,
			Quantity:      line.Quantity,
			LineTotal:     line.LineTotal,
		})
	}
	for _, event := range order.Timeline {
		detail.Timeline = append(detail.Timeline, TimelineEntry{
			Status:     event.Status,
			Label:      event.Status.DisplayLabel(),
			Note:       event.Note,
			OccurredAt: event.OccurredAt,
		})
	}
	return detail
}
