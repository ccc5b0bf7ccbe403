package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type settleCall struct {
	ref     string
	outcome enums.PaymentOutcome
}

type stubSettler struct {
	calls []settleCall
	err   error
}

func (s *stubSettler) SettleIntent(_ context.Context, intentRef string, outcome enums.PaymentOutcome) error {
	s.calls = append(s.calls, settleCall{ref: intentRef, outcome: outcome})
	return s.err
}

func intentEvent(t *testing.T, eventType stripe.EventType, intentID string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"id": intentID, "object": "payment_intent"})
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{ID: "evt_" + intentID, Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func TestService_HandleEventMapsOutcomes(t *testing.T) {
	tests := []struct {
		eventType stripe.EventType
		want      enums.PaymentOutcome
	}{
		{stripe.EventTypePaymentIntentSucceeded, enums.PaymentOutcomeConfirmed},
		{stripe.EventTypePaymentIntentCanceled, enums.PaymentOutcomeCancelled},
		{stripe.EventTypePaymentIntentPaymentFailed, enums.PaymentOutcomeFailed},
	}
	for _, tt := range tests {
		settler := &stubSettler{}
		svc, err := NewService(ServiceParams{Settler: settler})
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		if err := svc.HandleEvent(context.Background(), intentEvent(t, tt.eventType, "pi_123")); err != nil {
			t.Fatalf("%s: handle event: %v", tt.eventType, err)
		}
		if len(settler.calls) != 1 {
			t.Fatalf("%s: expected one settle call got %d", tt.eventType, len(settler.calls))
		}
		if settler.calls[0].ref != "pi_123" || settler.calls[0].outcome != tt.want {
			t.Fatalf("%s: unexpected call %+v", tt.eventType, settler.calls[0])
		}
	}
}

func TestService_HandleEventIgnoresUnrelatedTypes(t *testing.T) {
	settler := &stubSettler{}
	svc, _ := NewService(ServiceParams{Settler: settler})
	if err := svc.HandleEvent(context.Background(), intentEvent(t, stripe.EventTypeCustomerCreated, "cus_1")); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(settler.calls) != 0 {
		t.Fatalf("expected no settle calls")
	}
}

func TestService_HandleEventAcksUnknownIntent(t *testing.T) {
	settler := &stubSettler{err: pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")}
	svc, _ := NewService(ServiceParams{Settler: settler})
	if err := svc.HandleEvent(context.Background(), intentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_other")); err != nil {
		t.Fatalf("expected unknown intent to be acknowledged, got %v", err)
	}
}

func TestService_HandleEventPropagatesCommitFailure(t *testing.T) {
	settler := &stubSettler{err: pkgerrors.New(pkgerrors.CodeOrderCommit, "commit failed")}
	svc, _ := NewService(ServiceParams{Settler: settler})
	err := svc.HandleEvent(context.Background(), intentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_fail"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeOrderCommit) {
		t.Fatalf("expected order commit error got %v", err)
	}
}

func TestNewServiceRequiresSettler(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected error without settler")
	}
}
