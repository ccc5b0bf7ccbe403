package cart

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Limits are the caps enforced on every cart.
type Limits struct {
	MaxPerProduct int
	MaxTotalItems int
	MaxCartValue  decimal.Decimal
}

// DefaultLimits returns 10 per product, 50 items and a value cap of 100000.
func DefaultLimits() Limits {
	return Limits{
		MaxPerProduct: 10,
		MaxTotalItems: 50,
		MaxCartValue:  decimal.NewFromInt(100000),
	}
}

// LimitsFromConfig maps the cart config section onto Limits.
func LimitsFromConfig(cfg config.CartConfig) Limits {
	return Limits{
		MaxPerProduct: cfg.MaxPerProduct,
		MaxTotalItems: cfg.MaxTotalItems,
		MaxCartValue:  cfg.MaxCartValue,
	}
}

// Decision is the outcome of a rules check.
type Decision struct {
	Allowed bool                   `json:"allowed"`
	Reason  enums.CartRejectReason `json:"reason,omitempty"`
	Message string                 `json:"message,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func reject(reason enums.CartRejectReason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}

// Err converts a rejection into a typed error carrying the reason code.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeCartRule, d.Message).WithDetails(map[string]any{
		"reason":  d.Reason,
		"message": d.Message,
	})
}

// Rules validates and applies cart mutations. It never touches storage.
type Rules struct {
	limits Limits
}

func NewRules(limits Limits) *Rules {
	return &Rules{limits: limits}
}

func (r *Rules) Limits() Limits {
	return r.limits
}

// CanAdd checks, in order: stock, total items, per-product cap, remaining stock, cart value.
// The first failing check is reported.
func (r *Rules) CanAdd(c Cart, p catalog.Product, qty int) Decision {
	if qty < 1 {
		return reject(enums.CartRejectInvalidQuantity, "Quantity must be at least 1")
	}
	if p.Stock <= 0 {
		return reject(enums.CartRejectOutOfStock, fmt.Sprintf("%s is out of stock", productLabel(p)))
	}

	existing := 0
	if line, _, ok := c.Find(p.ID); ok {
		existing = line.Quantity
	}
	resulting := existing + qty

	if c.TotalItems()+qty > r.limits.MaxTotalItems {
		return reject(enums.CartRejectTotalLimit, fmt.Sprintf("A cart can hold at most %d items", r.limits.MaxTotalItems))
	}
	if resulting > r.limits.MaxPerProduct {
		return reject(enums.CartRejectProductLimit, fmt.Sprintf("You can add at most %d units of this product", r.limits.MaxPerProduct))
	}
	if resulting > p.Stock {
		return reject(enums.CartRejectInsufficientStock, unitsAvailable(p.Stock))
	}
	if Total(withLine(c, p, resulting)).GreaterThan(r.limits.MaxCartValue) {
		return reject(enums.CartRejectValueLimit, fmt.Sprintf("Cart value cannot exceed %s", r.limits.MaxCartValue.StringFixed(2)))
	}
	return allow()
}

// Add merges qty units of p into the cart. A rejected add returns c untouched.
func (r *Rules) Add(c Cart, p catalog.Product, qty int) (Cart, Decision) {
	decision := r.CanAdd(c, p, qty)
	if !decision.Allowed {
		return c, decision
	}
	existing := 0
	if line, _, ok := c.Find(p.ID); ok {
		existing = line.Quantity
	}
	return withLine(c, p, existing+qty), decision
}

// SetQuantity replaces the quantity of an existing line. qty <= 0 removes the line.
// A rejected change returns c untouched.
func (r *Rules) SetQuantity(c Cart, p catalog.Product, qty int) (Cart, Decision) {
	line, _, ok := c.Find(p.ID)
	if !ok {
		return c, reject(enums.CartRejectLineNotFound, "Product is not in the cart")
	}
	if qty <= 0 {
		return Remove(c, p.ID), allow()
	}
	if p.Stock <= 0 {
		return c, reject(enums.CartRejectOutOfStock, fmt.Sprintf("%s is out of stock", productLabel(p)))
	}
	if qty > r.limits.MaxPerProduct {
		return c, reject(enums.CartRejectProductLimit, fmt.Sprintf("You can add at most %d units of this product", r.limits.MaxPerProduct))
	}
	if qty > p.Stock {
		return c, reject(enums.CartRejectInsufficientStock, unitsAvailable(p.Stock))
	}
	if c.TotalItems()-line.Quantity+qty > r.limits.MaxTotalItems {
		return c, reject(enums.CartRejectTotalLimit, fmt.Sprintf("A cart can hold at most %d items", r.limits.MaxTotalItems))
	}
	next := withLine(c, p, qty)
	if Total(next).GreaterThan(r.limits.MaxCartValue) {
		return c, reject(enums.CartRejectValueLimit, fmt.Sprintf("Cart value cannot exceed %s", r.limits.MaxCartValue.StringFixed(2)))
	}
	return next, allow()
}

// Remove drops the product's line. Removing an absent product returns c unchanged.
func Remove(c Cart, productID uuid.UUID) Cart {
	_, idx, ok := c.Find(productID)
	if !ok {
		return c
	}
	out := c.Clone()
	out.Lines = append(out.Lines[:idx], out.Lines[idx+1:]...)
	return out
}

// Total sums (discountPrice ?? unitPrice) * quantity over the captured line prices.
func Total(c Cart) decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func unitsAvailable(stock int) string {
	if stock == 1 {
		return "Only 1 unit available"
	}
	return fmt.Sprintf("Only %d units available", stock)
}

func productLabel(p catalog.Product) string {
	if p.Name == "" {
		return "This product"
	}
	return p.Name
}
