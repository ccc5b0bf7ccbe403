package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

type fakeDispatcher struct {
	err            error
	delivered      []OrderSnapshot
	contacts       []string
	statusChanges  []payloads.OrderStatusChangedEvent
	reconciliation []payloads.PaymentReconciliationRequiredEvent
}

func (f *fakeDispatcher) Deliver(_ context.Context, _ uuid.UUID, contact string, snap OrderSnapshot) error {
	f.contacts = append(f.contacts, contact)
	f.delivered = append(f.delivered, snap)
	return f.err
}

func (f *fakeDispatcher) NotifyStatusChange(_ context.Context, evt payloads.OrderStatusChangedEvent) error {
	f.statusChanges = append(f.statusChanges, evt)
	return f.err
}

func (f *fakeDispatcher) NotifyReconciliation(_ context.Context, _ uuid.UUID, evt payloads.PaymentReconciliationRequiredEvent) error {
	f.reconciliation = append(f.reconciliation, evt)
	return f.err
}

func newTestConsumer(t *testing.T) (*Consumer, *fakeDispatcher) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	ledger, err := idempotency.NewLedger(redis.NewFromClient(raw), time.Hour)
	if err != nil {
		t.Fatalf("idempotency ledger: %v", err)
	}
	d := &fakeDispatcher{}
	return &Consumer{
		dispatcher:  d,
		idempotency: ledger,
		decoders:    registry.NewStorefrontDecoders(),
		logg:        logger.Nop(),
	}, d
}

func envelopeBytes(t *testing.T, eventID uuid.UUID, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func TestConsumerDeliversOrderPlacedOnce(t *testing.T) {
	consumer, d := newTestConsumer(t)
	eventID := uuid.New()
	orderID := uuid.New()
	data := envelopeBytes(t, eventID, payloads.OrderPlacedEvent{
		OrderID:       orderID,
		Contact:       "ada@example.com",
		Status:        enums.OrderStatusPaid,
		PaymentMethod: enums.PaymentMethodGateway,
		Total:         decimal.RequireFromString("12"),
		Currency:      "usd",
	})
	attrs := map[string]string{"event_type": string(enums.EventOrderPlaced)}

	first := consumer.process(context.Background(), "m-1", attrs, data)
	if !first.ack || first.nack {
		t.Fatalf("expected ack, got %+v", first)
	}
	second := consumer.process(context.Background(), "m-2", attrs, data)
	if !second.ack {
		t.Fatalf("expected redelivery to be acked, got %+v", second)
	}

	if len(d.delivered) != 1 {
		t.Fatalf("expected a single delivery, got %d", len(d.delivered))
	}
	if d.delivered[0].OrderID != orderID || d.contacts[0] != "ada@example.com" {
		t.Fatalf("unexpected delivery %+v to %q", d.delivered[0], d.contacts[0])
	}
}

func TestConsumerAcksFailedSendsWithoutRedelivery(t *testing.T) {
	consumer, d := newTestConsumer(t)
	d.err = errors.New("send email notification: relay down")
	eventID := uuid.New()
	data := envelopeBytes(t, eventID, payloads.OrderPlacedEvent{
		OrderID:       uuid.New(),
		Contact:       "ada@example.com",
		Status:        enums.OrderStatusPending,
		PaymentMethod: enums.PaymentMethodCOD,
		Total:         decimal.RequireFromString("12"),
		Currency:      "usd",
	})
	attrs := map[string]string{"event_type": string(enums.EventOrderPlaced)}

	if res := consumer.process(context.Background(), "m-1", attrs, data); !res.ack || res.nack {
		t.Fatalf("expected failed sends to be acked, got %+v", res)
	}
	if res := consumer.process(context.Background(), "m-2", attrs, data); !res.ack {
		t.Fatalf("expected redelivery to be acked, got %+v", res)
	}
	if len(d.delivered) != 1 {
		t.Fatalf("expected the event to be dispatched once, got %d", len(d.delivered))
	}
}

func TestConsumerRoutesStatusAndReconciliationEvents(t *testing.T) {
	consumer, d := newTestConsumer(t)

	status := consumer.process(context.Background(), "m-1",
		map[string]string{"event_type": string(enums.EventOrderStatusChanged)},
		envelopeBytes(t, uuid.New(), payloads.OrderStatusChangedEvent{OrderID: uuid.New(), To: enums.OrderStatusShipped}))
	if !status.ack {
		t.Fatalf("expected ack, got %+v", status)
	}

	alert := consumer.process(context.Background(), "m-2",
		map[string]string{"event_type": string(enums.EventPaymentReconciliationRequired)},
		envelopeBytes(t, uuid.New(), payloads.PaymentReconciliationRequiredEvent{IntentRef: "pi_1", Attempts: 5}))
	if !alert.ack {
		t.Fatalf("expected ack, got %+v", alert)
	}

	if len(d.statusChanges) != 1 || d.statusChanges[0].To != enums.OrderStatusShipped {
		t.Fatalf("unexpected status changes %+v", d.statusChanges)
	}
	if len(d.reconciliation) != 1 || d.reconciliation[0].IntentRef != "pi_1" {
		t.Fatalf("unexpected reconciliation alerts %+v", d.reconciliation)
	}
}

func TestConsumerAcksUnusableMessages(t *testing.T) {
	consumer, d := newTestConsumer(t)
	ctx := context.Background()
	placed := map[string]string{"event_type": string(enums.EventOrderPlaced)}

	if res := consumer.process(ctx, "m-1", map[string]string{"event_type": "something_else"}, []byte("{}")); !res.ack {
		t.Fatalf("unknown events should be acked")
	}
	if res := consumer.process(ctx, "m-2", placed, []byte("not json")); !res.ack {
		t.Fatalf("malformed envelopes should be acked")
	}
	bad, _ := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: "nope", Data: json.RawMessage(`{}`)})
	if res := consumer.process(ctx, "m-3", placed, bad); !res.ack {
		t.Fatalf("invalid event ids should be acked")
	}
	if len(d.delivered) != 0 {
		t.Fatalf("nothing should be delivered, got %d", len(d.delivered))
	}
}
