// Package payment drives the hosted gateway hand-off and the ledger that
// tracks a charge until an order exists for it.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// IntentRequest asks the gateway to open a payment for a frozen checkout total.
type IntentRequest struct {
	Receipt  string
	Amount   decimal.Decimal
	Currency string
	Email    string
	OwnerKey string
}

// Intent is the hand-off returned to the shopper's client.
type Intent struct {
	Ref          string          `json:"intent_ref"`
	ClientSecret string          `json:"client_secret"`
	Receipt      string          `json:"receipt"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// IntentState is the gateway's view of an intent, reduced to what the orchestrator acts on.
type IntentState string

const (
	IntentStateSucceeded      IntentState = "succeeded"
	IntentStateCanceled       IntentState = "canceled"
	IntentStateProcessing     IntentState = "processing"
	IntentStateRequiresAction IntentState = "requires_action"
	IntentStateFailed         IntentState = "failed"
)

// IntentStatus is the verified state of an intent.
type IntentStatus struct {
	Ref      string
	State    IntentState
	Amount   decimal.Decimal
	Currency string
}

// Gateway is the external payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Retrieve(ctx context.Context, intentRef string) (*IntentStatus, error)
	// Cancel stops an intent so it can no longer be paid. Gateways refuse to
	// cancel an intent that already succeeded.
	Cancel(ctx context.Context, intentRef string) (*IntentStatus, error)
}

// ToMinorUnits converts a two-decimal amount into cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts cents back into a decimal amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
