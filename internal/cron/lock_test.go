package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func newTestLeaser(t *testing.T, scope string) (*RedisLeaser, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.NewFromClient(raw)
	leaser, err := NewRedisLeaser(client, scope)
	require.NoError(t, err)
	return leaser, client, mr
}

func TestRedisLeaserHoldsForPeriod(t *testing.T) {
	leaser, _, mr := newTestLeaser(t, "test")
	ctx := context.Background()

	token, ok, err := leaser.Acquire(ctx, "cart-purge", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = leaser.Acquire(ctx, "cart-purge", time.Hour)
	require.NoError(t, err)
	require.False(t, ok, "second run inside the period is refused")

	_, ok, err = leaser.Acquire(ctx, "outbox-retention", time.Hour)
	require.NoError(t, err)
	require.True(t, ok, "leases are per job")

	mr.FastForward(61 * time.Minute)
	_, ok, err = leaser.Acquire(ctx, "cart-purge", time.Hour)
	require.NoError(t, err)
	require.True(t, ok, "expired lease can be taken again")
}

func TestRedisLeaserReleaseRequiresToken(t *testing.T) {
	leaser, client, mr := newTestLeaser(t, "test")
	ctx := context.Background()
	key := client.LockKey("cron:test", "payment-reconciliation")

	token, ok, err := leaser.Acquire(ctx, "payment-reconciliation", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, leaser.Release(ctx, "payment-reconciliation", "someone-else"))
	require.True(t, mr.Exists(key))

	require.NoError(t, leaser.Release(ctx, "payment-reconciliation", token))
	require.False(t, mr.Exists(key))
}

func TestNewRedisLeaserRequiresScope(t *testing.T) {
	_, err := NewRedisLeaser(nil, "test")
	require.Error(t, err)
}
