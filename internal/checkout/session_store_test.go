package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func newRedisSessions(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.NewFromClient(raw)
	return NewRedisSessionStore(client, ttl), mr, client
}

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr, client := newRedisSessions(t, 30*time.Minute)
	owner := identity.Authenticated(uuid.New(), "ada@example.com")

	_, err := store.Load(ctx, owner.Key)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	session, err := NewSession(owner, filledCart(owner.Key), time.Now().UTC().Truncate(time.Second))
	require.NoError(t, err)
	session.Shipping = shippingAddress()
	session.PaymentMethod = enums.PaymentMethodGateway
	session.Step = enums.CheckoutStepReview
	session.Pending = &PendingPayment{IntentRef: "pi_1", Amount: decimal.RequireFromString("12.00"), Currency: "usd"}
	require.NoError(t, store.Save(ctx, session))

	assert.Equal(t, 30*time.Minute, mr.TTL(client.CheckoutSessionKey(owner.Key)))

	loaded, err := store.Load(ctx, owner.Key)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, enums.CheckoutStepReview, loaded.Step)
	require.NotNil(t, loaded.Pending)
	assert.True(t, loaded.Pending.Amount.Equal(decimal.RequireFromString("12")))
	assert.Equal(t, session.Shipping.City, loaded.Shipping.City)

	require.NoError(t, store.Delete(ctx, owner.Key))
	_, err = store.Load(ctx, owner.Key)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRedisSessionStoreExpires(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := newRedisSessions(t, 0)
	owner := identity.Authenticated(uuid.New(), "ada@example.com")

	session, err := NewSession(owner, filledCart(owner.Key), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, session))

	mr.FastForward(defaultSessionTTL + time.Second)
	_, err = store.Load(ctx, owner.Key)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRedisSessionStoreDropsCorruptPayload(t *testing.T) {
	ctx := context.Background()
	store, mr, client := newRedisSessions(t, time.Minute)
	key := client.CheckoutSessionKey("someone")
	require.NoError(t, mr.Set(key, "{not json"))

	_, err := store.Load(ctx, "someone")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.False(t, mr.Exists(key))
}
