package enums

// PaymentOutcome is the resolved result of a gateway round trip.
type PaymentOutcome string

const (
	PaymentOutcomeConfirmed PaymentOutcome = "confirmed"
	PaymentOutcomeCancelled PaymentOutcome = "cancelled"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
)

func (o PaymentOutcome) String() string {
	return string(o)
}
