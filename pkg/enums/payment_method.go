package enums

import "fmt"

// PaymentMethod describes how a buyer intends to settle an order.
type PaymentMethod string

const (
	// PaymentMethodGateway is an externally hosted capture flow (card, wallet, bank redirect).
	PaymentMethodGateway PaymentMethod = "gateway"
	// PaymentMethodCOD settles physically at delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodGateway,
	PaymentMethodCOD,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// InitialOrderStatus is the status an order is committed with for this method.
func (p PaymentMethod) InitialOrderStatus() OrderStatus {
	switch p {
	case PaymentMethodCOD:
		return OrderStatusPending
	case PaymentMethodGateway:
		return OrderStatusPaid
	default:
		return OrderStatusPaid
	}
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
