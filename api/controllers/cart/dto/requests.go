package cartdto

import "github.com/google/uuid"

// ItemRequest names a product and a quantity. Quantity rules are enforced by
// the cart rules engine, not the decoder.
type ItemRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// QuantityRequest sets the absolute quantity of an existing line.
type QuantityRequest struct {
	Quantity int `json:"quantity"`
}
