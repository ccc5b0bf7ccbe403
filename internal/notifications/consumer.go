package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const notificationConsumer = "order-notifications"

type eventLedger interface {
	FirstDelivery(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type dispatcher interface {
	Deliver(ctx context.Context, eventID uuid.UUID, contact string, snap OrderSnapshot) error
	NotifyStatusChange(ctx context.Context, evt payloads.OrderStatusChangedEvent) error
	NotifyReconciliation(ctx context.Context, eventID uuid.UUID, evt payloads.PaymentReconciliationRequiredEvent) error
}

// Consumer reads order and payment events and hands them to the dispatcher.
// Messages are acked once dispatched; delivery failures are not redelivered.
type Consumer struct {
	dispatcher   dispatcher
	subscription *pubsub.Subscriber
	idempotency  eventLedger
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds a notification consumer for one subscription.
func NewConsumer(d dispatcher, subscription *pubsub.Subscriber, ledger eventLedger, logg *logger.Logger) (*Consumer, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("subscription required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("idempotency ledger required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		dispatcher:   d,
		subscription: subscription,
		idempotency:  ledger,
		decoders:     registry.NewStorefrontDecoders(),
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) processResult {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	switch eventType {
	case enums.EventOrderPlaced, enums.EventOrderStatusChanged, enums.EventPaymentReconciliationRequired:
	default:
		c.logg.Info(logCtx, "skipping event without notifications")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	version := envelope.Version
	if version == 0 {
		version = 1
	}
	payload, err := c.decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}

	first, err := c.idempotency.FirstDelivery(ctx, notificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !first {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	var sendErr error
	switch evt := payload.(type) {
	case *payloads.OrderPlacedEvent:
		sendErr = c.dispatcher.Deliver(logCtx, eventID, evt.Contact, SnapshotFromPlaced(*evt))
	case *payloads.OrderStatusChangedEvent:
		sendErr = c.dispatcher.NotifyStatusChange(logCtx, *evt)
	case *payloads.PaymentReconciliationRequiredEvent:
		sendErr = c.dispatcher.NotifyReconciliation(logCtx, eventID, *evt)
	default:
		c.logg.Warn(logCtx, fmt.Sprintf("unexpected payload %T", payload))
		_ = c.idempotency.Forget(ctx, notificationConsumer, eventID)
		return processResult{nack: true}
	}

	// redelivery would repeat the sends that did go out
	if sendErr != nil {
		c.logg.Warn(logCtx, fmt.Sprintf("notifications dispatched with failures: %v", sendErr))
		return processResult{ack: true}
	}
	c.logg.Info(logCtx, "notifications dispatched")
	return processResult{ack: true}
}
