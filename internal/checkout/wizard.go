package checkout

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	checkoutrules "github.com/angelmondragon/storefront-backend/pkg/checkout"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// PendingPayment is a gateway hand-off waiting for the shopper to come back.
type PendingPayment struct {
	IntentRef    string          `json:"intent_ref"`
	ClientSecret string          `json:"client_secret"`
	Receipt      string          `json:"receipt"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	LinesDigest  string          `json:"lines_digest"`
	StartedAt    time.Time       `json:"started_at"`
}

// Session is one shopper's pass through shipping, payment and review.
type Session struct {
	ID            uuid.UUID           `json:"id"`
	OwnerKey      string              `json:"owner_key"`
	Guest         bool                `json:"guest"`
	Step          enums.CheckoutStep  `json:"step"`
	Shipping      *types.Address      `json:"shipping,omitempty"`
	GuestContact  string              `json:"guest_contact,omitempty"`
	PaymentMethod enums.PaymentMethod `json:"payment_method,omitempty"`
	Pending       *PendingPayment     `json:"pending_payment,omitempty"`
	OrderID       *uuid.UUID          `json:"order_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// emptyCartError sends the shopper back to the cart page.
func emptyCartError() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is empty").
		WithDetails(map[string]any{"redirect": "/cart"})
}

// NewSession opens checkout at the shipping step. An empty cart cannot be checked out.
func NewSession(owner identity.Owner, c cart.Cart, now time.Time) (*Session, error) {
	if owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}
	if c.IsEmpty() {
		return nil, emptyCartError()
	}
	return &Session{
		ID:        uuid.New(),
		OwnerKey:  owner.Key,
		Guest:     !owner.Authenticated,
		Step:      enums.CheckoutStepShipping,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Advance moves to the next step once the current step's data is valid.
// Review is only left by placing the order.
func (s *Session) Advance() error {
	switch s.Step {
	case enums.CheckoutStepShipping:
		if err := s.validateShipping(); err != nil {
			return err
		}
		s.Step = enums.CheckoutStepPayment
	case enums.CheckoutStepPayment:
		if err := checkoutrules.ValidatePaymentMethod(s.PaymentMethod); err != nil {
			return err
		}
		s.Step = enums.CheckoutStepReview
	case enums.CheckoutStepReview:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "place the order to complete checkout")
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout already completed")
	}
	return nil
}

// Retreat steps back one screen, keeping what was entered. A pending
// gateway hand-off is dropped because the review it was opened from changes.
func (s *Session) Retreat() error {
	prev, ok := s.Step.Previous()
	if !ok {
		if s.Step == enums.CheckoutStepShipping {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "already at the first step")
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout already completed")
	}
	s.Step = prev
	s.Pending = nil
	return nil
}

// Contact is the address order emails go to.
func (s *Session) Contact(owner identity.Owner) string {
	if s.Guest || strings.TrimSpace(s.GuestContact) != "" {
		return strings.TrimSpace(s.GuestContact)
	}
	return owner.Email
}

func (s *Session) validateShipping() error {
	if s.Shipping == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping details are incomplete").
			WithDetails(checkoutrules.FieldErrors{"shipping": "is required"})
	}
	if err := checkoutrules.ValidateShipping(checkoutrules.ShippingInput{
		Address: *s.Shipping,
		Contact: s.GuestContact,
		Guest:   s.Guest,
	}); err != nil {
		return err
	}
	normalized := s.Shipping.Normalize()
	s.Shipping = &normalized
	s.GuestContact = strings.TrimSpace(s.GuestContact)
	return nil
}

// complete marks the session as finished by orderID.
func (s *Session) complete(orderID uuid.UUID, now time.Time) {
	s.Step = enums.CheckoutStepCommitted
	s.OrderID = &orderID
	s.Pending = nil
	s.UpdatedAt = now
}
