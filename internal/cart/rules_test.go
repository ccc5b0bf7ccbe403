package cart

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func testProduct(price string, stock int) catalog.Product {
	return catalog.Product{
		ID:    uuid.New(),
		Name:  "Trail Runner",
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

func fullCart(items int) Cart {
	c := Cart{OwnerKey: "owner"}
	for items > 0 {
		qty := 10
		if items < qty {
			qty = items
		}
		c.Lines = append(c.Lines, Line{ProductID: uuid.New(), UnitPrice: decimal.NewFromInt(1), Quantity: qty, StockAtRead: 100})
		items -= qty
	}
	return c
}

func TestCanAddReasons(t *testing.T) {
	t.Parallel()

	rules := NewRules(DefaultLimits())
	stocked := testProduct("10", 5)
	withThree, _ := rules.Add(Cart{}, stocked, 3)
	nearCap := testProduct("1", 100)
	withNine, _ := rules.Add(Cart{}, nearCap, 9)

	cases := []struct {
		name    string
		cart    Cart
		product catalog.Product
		qty     int
		reason  enums.CartRejectReason
	}{
		{name: "zero quantity", cart: Cart{}, product: stocked, qty: 0, reason: enums.CartRejectInvalidQuantity},
		{name: "out of stock", cart: Cart{}, product: testProduct("10", 0), qty: 1, reason: enums.CartRejectOutOfStock},
		{name: "out of stock wins over total", cart: fullCart(50), product: testProduct("10", 0), qty: 1, reason: enums.CartRejectOutOfStock},
		{name: "total items", cart: fullCart(50), product: stocked, qty: 1, reason: enums.CartRejectTotalLimit},
		{name: "per product", cart: withNine, product: nearCap, qty: 2, reason: enums.CartRejectProductLimit},
		{name: "stock", cart: withThree, product: stocked, qty: 3, reason: enums.CartRejectInsufficientStock},
		{name: "value", cart: Cart{}, product: testProduct("50000", 10), qty: 3, reason: enums.CartRejectValueLimit},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			decision := rules.CanAdd(tc.cart, tc.product, tc.qty)
			if decision.Allowed {
				t.Fatalf("expected rejection %s", tc.reason)
			}
			if decision.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s (%s)", tc.reason, decision.Reason, decision.Message)
			}
			if decision.Message == "" {
				t.Fatalf("expected a message for %s", tc.reason)
			}
		})
	}
}

func TestCanAddStockMessage(t *testing.T) {
	t.Parallel()

	rules := NewRules(DefaultLimits())
	p := testProduct("10", 5)
	c, _ := rules.Add(Cart{}, p, 3)

	decision := rules.CanAdd(c, p, 3)
	if decision.Message != "Only 5 units available" {
		t.Fatalf("unexpected message %q", decision.Message)
	}
}

func TestCanAddValueCapIsInclusive(t *testing.T) {
	t.Parallel()

	rules := NewRules(DefaultLimits())
	decision := rules.CanAdd(Cart{}, testProduct("50000", 10), 2)
	if !decision.Allowed {
		t.Fatalf("expected a cart worth exactly the cap to be allowed, got %s", decision.Reason)
	}
}

func TestAddMergesLineAndRefreshesCapture(t *testing.T) {
	t.Parallel()

	rules := NewRules(DefaultLimits())
	p := testProduct("20", 8)
	c, decision := rules.Add(Cart{}, p, 2)
	if !decision.Allowed {
		t.Fatalf("unexpected rejection %s", decision.Reason)
	}

	discount := decimal.RequireFromString("15")
	p.DiscountPrice = &discount
	p.Stock = 6
	c, decision = rules.Add(c, p, 1)
	if !decision.Allowed {
		t.Fatalf("unexpected rejection %s", decision.Reason)
	}
	if len(c.Lines) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(c.Lines))
	}
	line := c.Lines[0]
	if line.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", line.Quantity)
	}
	if line.DiscountPrice == nil || !line.DiscountPrice.Equal(discount) || line.StockAtRead != 6 {
		t.Fatalf("expected refreshed capture, got %+v", line)
	}
	if !Total(c).Equal(decimal.NewFromInt(45)) {
		t.Fatalf("expected total 45, got %s", Total(c))
	}
}

func TestAddRejectedLeavesCartUntouched(t *testing.T) {
	t.Parallel()

	rules := NewRules(DefaultLimits())
	p := testProduct("10", 2)
	c, _ := rules.Add(Cart{}, p, 2)
	after, decision := rules.Add(c, p, 1)
	if decision.Allowed {
		t.Fatalf("expected rejection")
	}
	if after.TotalItems() != 2 {
		t.Fatalf("expected cart unchanged, got %d items", after.TotalItems())
	}
}

func TestSetQuantity(t *testing.T) {
	t.Parallel()

	rules := NewRules(DefaultLimits())
	p := testProduct("10", 5)
	c, _ := rules.Add(Cart{}, p, 2)

	updated, decision := rules.SetQuantity(c, p, 4)
	if !decision.Allowed || updated.Lines[0].Quantity != 4 {
		t.Fatalf("expected quantity 4, got %+v (%s)", updated.Lines, decision.Reason)
	}

	removed, decision := rules.SetQuantity(c, p, 0)
	if !decision.Allowed || !removed.IsEmpty() {
		t.Fatalf("expected zero quantity to remove the line")
	}

	_, decision = rules.SetQuantity(c, p, 7)
	if decision.Reason != enums.CartRejectInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %s", decision.Reason)
	}

	_, decision = rules.SetQuantity(c, p, 11)
	if decision.Reason != enums.CartRejectProductLimit {
		t.Fatalf("expected PRODUCT_LIMIT before stock, got %s", decision.Reason)
	}

	_, decision = rules.SetQuantity(c, testProduct("10", 5), 1)
	if decision.Reason != enums.CartRejectLineNotFound {
		t.Fatalf("expected LINE_NOT_FOUND, got %s", decision.Reason)
	}
}

func TestRemoveAbsentProductIsNoop(t *testing.T) {
	t.Parallel()

	rules := NewRules(DefaultLimits())
	c, _ := rules.Add(Cart{}, testProduct("10", 5), 1)
	after := Remove(c, uuid.New())
	if len(after.Lines) != 1 || after.Lines[0] != c.Lines[0] {
		t.Fatalf("expected cart unchanged")
	}
}

func TestTotalUsesCapturedPrices(t *testing.T) {
	t.Parallel()

	discount := decimal.RequireFromString("7.50")
	c := Cart{Lines: []Line{
		{ProductID: uuid.New(), UnitPrice: decimal.RequireFromString("10"), DiscountPrice: &discount, Quantity: 2},
		{ProductID: uuid.New(), UnitPrice: decimal.RequireFromString("3.25"), Quantity: 4},
	}}
	if got := Total(c); !got.Equal(decimal.RequireFromString("28")) {
		t.Fatalf("expected total 28, got %s", got)
	}
	if got := Total(Cart{}); !got.IsZero() {
		t.Fatalf("expected empty total 0, got %s", got)
	}
}

func TestDecisionErr(t *testing.T) {
	t.Parallel()

	if err := allow().Err(); err != nil {
		t.Fatalf("expected nil error for allowed decision")
	}
	err := reject(enums.CartRejectValueLimit, "too much").Err()
	if !pkgerrors.IsCode(err, pkgerrors.CodeCartRule) {
		t.Fatalf("expected cart rule error, got %v", err)
	}
	reason, message := rejectionOf(err)
	if reason != enums.CartRejectValueLimit || message != "too much" {
		t.Fatalf("unexpected rejection details %s %q", reason, message)
	}
}
