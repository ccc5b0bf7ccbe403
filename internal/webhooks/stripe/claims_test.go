package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func newTestClaims(t *testing.T) (*EventClaims, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	claims, err := NewEventClaims(redis.NewFromClient(raw), time.Hour, "stripe-webhook")
	require.NoError(t, err)
	return claims, mr
}

func TestEventClaimsLifecycle(t *testing.T) {
	claims, _ := newTestClaims(t)
	ctx := context.Background()

	state, err := claims.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)

	state, err = claims.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, state, "a concurrent redelivery must not be acked")

	require.NoError(t, claims.Complete(ctx, "evt_1"))
	state, err = claims.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, state)
}

func TestEventClaimsReleaseAllowsRetry(t *testing.T) {
	claims, _ := newTestClaims(t)
	ctx := context.Background()

	_, err := claims.Claim(ctx, "evt_2")
	require.NoError(t, err)
	require.NoError(t, claims.Release(ctx, "evt_2"))

	state, err := claims.Claim(ctx, "evt_2")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestEventClaimsExpire(t *testing.T) {
	claims, mr := newTestClaims(t)
	ctx := context.Background()

	_, err := claims.Claim(ctx, "evt_3")
	require.NoError(t, err)
	mr.FastForward(processingTTL + time.Second)
	state, err := claims.Claim(ctx, "evt_3")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state, "an abandoned claim frees up")

	require.NoError(t, claims.Complete(ctx, "evt_3"))
	mr.FastForward(2 * time.Hour)
	state, err = claims.Claim(ctx, "evt_3")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestEventClaimsValidation(t *testing.T) {
	claims, _ := newTestClaims(t)
	_, err := claims.Claim(context.Background(), "  ")
	assert.Error(t, err)

	_, err = NewEventClaims(nil, time.Hour, "x")
	assert.Error(t, err)
	_, err = NewEventClaims(claims.store, 0, "x")
	assert.Error(t, err)
}
