package cart

import (
	cartdto "github.com/angelmondragon/storefront-backend/api/controllers/cart/dto"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
)

func newCartView(c cartsvc.Cart) cartdto.CartView {
	lines := make([]cartdto.CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		lines = append(lines, cartdto.CartLine{
			ProductID:      line.ProductID,
			Name:           line.Name,
			UnitPrice:      line.UnitPrice,
			DiscountPrice:  line.DiscountPrice,
			EffectivePrice: line.EffectivePrice(),
			Quantity:       line.Quantity,
			Subtotal:       line.Subtotal(),
		})
	}
	return cartdto.CartView{
		Lines:        lines,
		TotalItems:   c.TotalItems(),
		Total:        cartsvc.Total(c),
		LastModified: c.LastModified,
		ExpiresAt:    c.ExpiresAt,
	}
}

func newMergeView(res cartsvc.MergeResult) cartdto.MergeView {
	skipped := make([]cartdto.SkippedLine, 0, len(res.Skipped))
	for _, line := range res.Skipped {
		skipped = append(skipped, cartdto.SkippedLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Reason:    line.Reason,
			Message:   line.Message,
		})
	}
	return cartdto.MergeView{
		Cart:    newCartView(res.Cart),
		Merged:  res.Merged,
		Skipped: skipped,
	}
}
