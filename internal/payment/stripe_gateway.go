package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

const defaultBreakerFailures = 5

// intentAPI is the subset of the Stripe payment intent resource the gateway calls.
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeIntentAPI struct{}

func (stripeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Get(id, params)
}

func (stripeIntentAPI) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Cancel(id, params)
}

// StripeGateway opens and verifies Stripe payment intents behind a circuit breaker.
// The breaker only fails fast; nothing here retries.
type StripeGateway struct {
	api     intentAPI
	breaker *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
	timeout time.Duration
}

// NewStripeGateway requires an initialized Stripe client so the API key is set.
func NewStripeGateway(client *pkgstripe.Client, cfg config.PaymentConfig) (*StripeGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return newStripeGateway(stripeIntentAPI{}, cfg), nil
}

func newStripeGateway(api intentAPI, cfg config.PaymentConfig) *StripeGateway {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	settings := gobreaker.Settings{
		Name:        "stripe-payment-intents",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsExcluded: isCallerError,
	}
	return &StripeGateway{
		api:     api,
		breaker: gobreaker.NewCircuitBreaker[*stripe.PaymentIntent](settings),
		timeout: cfg.GatewayTimeout,
	}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Receipt)
	params.AddMetadata("receipt", req.Receipt)
	params.AddMetadata("owner_key", req.OwnerKey)

	pi, err := g.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return g.api.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Intent{
		Ref:          pi.ID,
		ClientSecret: pi.ClientSecret,
		Receipt:      req.Receipt,
		Amount:       FromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
	}, nil
}

func (g *StripeGateway) Retrieve(ctx context.Context, intentRef string) (*IntentStatus, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return g.api.Get(intentRef, params)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", intentRef, err)
	}
	return statusOf(pi), nil
}

func (g *StripeGateway) Cancel(ctx context.Context, intentRef string) (*IntentStatus, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	pi, err := g.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return g.api.Cancel(intentRef, params)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel payment intent %s: %w", intentRef, err)
	}
	return statusOf(pi), nil
}

func statusOf(pi *stripe.PaymentIntent) *IntentStatus {
	return &IntentStatus{
		Ref:      pi.ID,
		State:    intentState(pi),
		Amount:   FromMinorUnits(pi.Amount),
		Currency: string(pi.Currency),
	}
}

func (g *StripeGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func intentState(pi *stripe.PaymentIntent) IntentState {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentStateSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentStateCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return IntentStateFailed
		}
		return IntentStateRequiresAction
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return IntentStateRequiresAction
	default:
		return IntentStateProcessing
	}
}

// isCallerError keeps declined cards and bad requests from tripping the breaker.
func isCallerError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != 429
	}
	return false
}
