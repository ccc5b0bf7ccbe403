package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// intentSettler applies a gateway outcome to the matching pending payment.
type intentSettler interface {
	SettleIntent(ctx context.Context, intentRef string, outcome enums.PaymentOutcome) error
}

type ServiceParams struct {
	Settler intentSettler
	Logger  *logger.Logger
}

// Service turns verified Stripe payment_intent events into payment outcomes.
type Service struct {
	settler intentSettler
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intent settler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{settler: params.Settler, logg: logg}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	outcome, ok := outcomeFor(event.Type)
	if !ok {
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	err := s.settler.SettleIntent(ctx, intent.ID, outcome)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		// Intents created outside checkout have no ledger entry.
		s.logg.Warn(ctx, fmt.Sprintf("stripe event %s for unknown intent %s", event.ID, intent.ID))
		return nil
	}
	return err
}

func outcomeFor(eventType stripe.EventType) (enums.PaymentOutcome, bool) {
	switch eventType {
	case stripe.EventTypePaymentIntentSucceeded:
		return enums.PaymentOutcomeConfirmed, true
	case stripe.EventTypePaymentIntentCanceled:
		return enums.PaymentOutcomeCancelled, true
	case stripe.EventTypePaymentIntentPaymentFailed:
		return enums.PaymentOutcomeFailed, true
	default:
		return "", false
	}
}
