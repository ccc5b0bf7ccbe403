package enums

import "fmt"

// CheckoutStep is a state of the checkout wizard.
type CheckoutStep string

const (
	CheckoutStepShipping  CheckoutStep = "shipping"
	CheckoutStepPayment   CheckoutStep = "payment"
	CheckoutStepReview    CheckoutStep = "review"
	CheckoutStepCommitted CheckoutStep = "committed"
)

var validCheckoutSteps = []CheckoutStep{
	CheckoutStepShipping,
	CheckoutStepPayment,
	CheckoutStepReview,
	CheckoutStepCommitted,
}

func (s CheckoutStep) String() string {
	return string(s)
}

func (s CheckoutStep) IsValid() bool {
	for _, candidate := range validCheckoutSteps {
		if candidate == s {
			return true
		}
	}
	return false
}

// Previous returns the step a retreat lands on. Shipping and Committed have none.
func (s CheckoutStep) Previous() (CheckoutStep, bool) {
	switch s {
	case CheckoutStepPayment:
		return CheckoutStepShipping, true
	case CheckoutStepReview:
		return CheckoutStepPayment, true
	case CheckoutStepShipping, CheckoutStepCommitted:
		return s, false
	default:
		return s, false
	}
}

func ParseCheckoutStep(value string) (CheckoutStep, error) {
	for _, candidate := range validCheckoutSteps {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout step %q", value)
}
