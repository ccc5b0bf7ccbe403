package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
)

// Line is one product in a cart. Prices are captured when the line was last validated.
type Line struct {
	ProductID     uuid.UUID        `json:"product_id"`
	Name          string           `json:"name"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Quantity      int              `json:"quantity"`
	StockAtRead   int              `json:"stock_at_read"`
}

// EffectivePrice is the captured discount price when present, otherwise the unit price.
func (l Line) EffectivePrice() decimal.Decimal {
	if l.DiscountPrice != nil {
		return *l.DiscountPrice
	}
	return l.UnitPrice
}

// Subtotal is EffectivePrice times Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.EffectivePrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is a shopper's in-progress selection. Lines are unique by ProductID and keep insertion order.
type Cart struct {
	OwnerKey     string     `json:"owner_key"`
	Lines        []Line     `json:"lines"`
	LastModified time.Time  `json:"last_modified"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// TotalItems sums the quantities of every line.
func (c Cart) TotalItems() int {
	total := 0
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// Find returns the line for productID and its index.
func (c Cart) Find(productID uuid.UUID) (Line, int, bool) {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return line, i, true
		}
	}
	return Line{}, -1, false
}

// Clone returns a deep copy so callers never share line slices.
func (c Cart) Clone() Cart {
	out := c
	if c.Lines != nil {
		out.Lines = make([]Line, len(c.Lines))
		for i, line := range c.Lines {
			if line.DiscountPrice != nil {
				price := *line.DiscountPrice
				line.DiscountPrice = &price
			}
			out.Lines[i] = line
		}
	}
	if c.ExpiresAt != nil {
		at := *c.ExpiresAt
		out.ExpiresAt = &at
	}
	return out
}

func lineFromProduct(p catalog.Product, qty int) Line {
	line := Line{
		ProductID:   p.ID,
		Name:        p.Name,
		UnitPrice:   p.Price,
		Quantity:    qty,
		StockAtRead: p.Stock,
	}
	if p.DiscountPrice != nil {
		price := *p.DiscountPrice
		line.DiscountPrice = &price
	}
	return line
}

// withLine returns a copy of c where the product's line carries qty and a fresh price/stock capture.
func withLine(c Cart, p catalog.Product, qty int) Cart {
	out := c.Clone()
	fresh := lineFromProduct(p, qty)
	if _, idx, ok := out.Find(p.ID); ok {
		out.Lines[idx] = fresh
		return out
	}
	out.Lines = append(out.Lines, fresh)
	return out
}
