package enums

// CartRejectReason is the reason code reported by the cart rules engine.
type CartRejectReason string

const (
	CartRejectNone              CartRejectReason = ""
	CartRejectInvalidQuantity   CartRejectReason = "INVALID_QUANTITY"
	CartRejectOutOfStock        CartRejectReason = "OUT_OF_STOCK"
	CartRejectTotalLimit        CartRejectReason = "TOTAL_LIMIT"
	CartRejectProductLimit      CartRejectReason = "PRODUCT_LIMIT"
	CartRejectInsufficientStock CartRejectReason = "INSUFFICIENT_STOCK"
	CartRejectValueLimit        CartRejectReason = "VALUE_LIMIT"
	CartRejectLineNotFound      CartRejectReason = "LINE_NOT_FOUND"
)

var validCartRejectReasons = []CartRejectReason{
	CartRejectInvalidQuantity,
	CartRejectOutOfStock,
	CartRejectTotalLimit,
	CartRejectProductLimit,
	CartRejectInsufficientStock,
	CartRejectValueLimit,
	CartRejectLineNotFound,
}

func (r CartRejectReason) String() string {
	return string(r)
}

func (r CartRejectReason) IsValid() bool {
	for _, candidate := range validCartRejectReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
