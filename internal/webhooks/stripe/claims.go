package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClaimState is what a delivery finds when it tries to claim its event id.
type ClaimState int

const (
	// ClaimAcquired means this delivery owns the event and must Complete or Release it.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another delivery is handling the event right now.
	ClaimInFlight
	// ClaimDone means the event was already handled.
	ClaimDone
)

const (
	markProcessing = "processing"
	markDone       = "done"

	// an in-flight claim outlives any single webhook request
	processingTTL = 2 * time.Minute
)

type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// EventClaims dedupes Stripe redeliveries. A claim starts as "processing" and
// becomes "done" for ttl once the event is handled; a failed handler releases
// it so Stripe's retry runs again.
type EventClaims struct {
	store claimStore
	ttl   time.Duration
	scope string
}

func NewEventClaims(store claimStore, ttl time.Duration, scope string) (*EventClaims, error) {
	switch {
	case store == nil:
		return nil, errors.New("claim store is required")
	case ttl <= 0:
		return nil, errors.New("claim ttl must be positive")
	case strings.TrimSpace(scope) == "":
		return nil, errors.New("claim scope is required")
	}
	return &EventClaims{store: store, ttl: ttl, scope: scope}, nil
}

func (c *EventClaims) key(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return c.store.IdempotencyKey(c.scope, eventID), nil
}

func (c *EventClaims) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	key, err := c.key(eventID)
	if err != nil {
		return ClaimInFlight, err
	}
	ok, err := c.store.SetNX(ctx, key, markProcessing, processingTTL)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim %s: %w", eventID, err)
	}
	if ok {
		return ClaimAcquired, nil
	}
	mark, err := c.store.Get(ctx, key)
	if err != nil {
		// the processing mark can expire between SetNX and Get; let Stripe retry
		return ClaimInFlight, nil
	}
	if mark == markDone {
		return ClaimDone, nil
	}
	return ClaimInFlight, nil
}

func (c *EventClaims) Complete(ctx context.Context, eventID string) error {
	key, err := c.key(eventID)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, markDone, c.ttl)
}

func (c *EventClaims) Release(ctx context.Context, eventID string) error {
	key, err := c.key(eventID)
	if err != nil {
		return err
	}
	return c.store.Del(ctx, key)
}
