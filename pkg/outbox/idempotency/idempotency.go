// Package idempotency records which outbox events a consumer has already
// handled, so Pub/Sub redelivery does not repeat side effects.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrEventIDRequired  = errors.New("event id is required")
)

// Ledger keeps one redis mark per (consumer, event) under
// sf:idempotency:evt:processed:<consumer>:<event_id>.
type Ledger struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewLedger returns a ledger whose marks expire after ttl. A zero ttl keeps
// marks forever.
func NewLedger(store redis.IdempotencyStore, ttl time.Duration) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Ledger{store: store, ttl: ttl}, nil
}

// FirstDelivery marks the event for consumer and reports whether this call
// placed the mark. A false result means the event was seen before.
func (l *Ledger) FirstDelivery(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return l.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl)
}

// Forget drops the mark so a later redelivery is handled again.
func (l *Ledger) Forget(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return err
	}
	return l.store.Del(ctx, key)
}

func (l *Ledger) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", ErrConsumerRequired
	case eventID == uuid.Nil:
		return "", ErrEventIDRequired
	}
	return l.store.IdempotencyKey("evt:processed:"+consumer, eventID.String()), nil
}
