package cart

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
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func sampleCart(owner identity.Owner, at time.Time) Cart {
	discount := decimal.RequireFromString("4.50")
	return Cart{
		OwnerKey: owner.Key,
		Lines: []Line{
			{ProductID: uuid.New(), Name: "Mug", UnitPrice: decimal.RequireFromString("6"), DiscountPrice: &discount, Quantity: 2, StockAtRead: 9},
			{ProductID: uuid.New(), Name: "Tea", UnitPrice: decimal.RequireFromString("12.25"), Quantity: 1, StockAtRead: 3},
		},
		LastModified: at,
	}
}

func TestRepositoryStoreRoundTripAndReplace(t *testing.T) {
	ctx := context.Background()
	store := NewRepositoryStore(dbtest.Open(t).DB())
	owner := identity.Authenticated(uuid.New(), "buyer@example.com")

	empty, err := store.Load(ctx, owner)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, owner.Key, empty.OwnerKey)

	now := time.Now().UTC().Truncate(time.Second)
	saved := sampleCart(owner, now)
	require.NoError(t, store.Save(ctx, owner, saved))

	loaded, err := store.Load(ctx, owner)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, saved.Lines[0].ProductID, loaded.Lines[0].ProductID)
	assert.True(t, Total(saved).Equal(Total(loaded)), "totals differ: %s vs %s", Total(saved), Total(loaded))

	// a second save replaces the whole snapshot
	replacement := Cart{OwnerKey: owner.Key, Lines: saved.Lines[1:], LastModified: now.Add(time.Minute)}
	require.NoError(t, store.Save(ctx, owner, replacement))
	loaded, err = store.Load(ctx, owner)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, "Tea", loaded.Lines[0].Name)

	require.NoError(t, store.Delete(ctx, owner))
	loaded, err = store.Load(ctx, owner)
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())
}

func TestRepositoryStorePurgeStale(t *testing.T) {
	ctx := context.Background()
	store := NewRepositoryStore(dbtest.Open(t).DB())
	now := time.Now().UTC()

	stale := identity.Authenticated(uuid.New(), "")
	fresh := identity.Authenticated(uuid.New(), "")
	require.NoError(t, store.Save(ctx, stale, sampleCart(stale, now.Add(-10*24*time.Hour))))
	require.NoError(t, store.Save(ctx, fresh, sampleCart(fresh, now)))

	purged, err := store.PurgeStale(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	gone, err := store.Load(ctx, stale)
	require.NoError(t, err)
	assert.True(t, gone.IsEmpty())
	kept, err := store.Load(ctx, fresh)
	require.NoError(t, err)
	assert.Len(t, kept.Lines, 2)
}

func newRedisStore(t *testing.T, retention time.Duration) (*RedisStore, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.NewFromClient(raw)
	return NewRedisStore(client, retention), client, mr
}

func TestRedisStoreSetsExpiryFromLastModified(t *testing.T) {
	ctx := context.Background()
	retention := 7 * 24 * time.Hour
	store, client, mr := newRedisStore(t, retention)
	owner, err := identity.Anonymous(identity.NewSessionID())
	require.NoError(t, err)

	now := time.Now().UTC()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Save(ctx, owner, sampleCart(owner, now)))

	assert.Equal(t, retention, mr.TTL(client.AnonymousCartKey(owner.Key)))

	loaded, err := store.Load(ctx, owner)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	require.NotNil(t, loaded.ExpiresAt)
	assert.WithinDuration(t, now.Add(retention), *loaded.ExpiresAt, time.Millisecond)
}

func TestRedisStoreTreatsExpiredRecordAsEmpty(t *testing.T) {
	ctx := context.Background()
	store, client, mr := newRedisStore(t, time.Hour)
	owner, err := identity.Anonymous(identity.NewSessionID())
	require.NoError(t, err)

	now := time.Now().UTC()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Save(ctx, owner, sampleCart(owner, now)))

	// the clock passes the recorded expiry before redis evicts the key
	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	loaded, err := store.Load(ctx, owner)
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())
	assert.False(t, mr.Exists(client.AnonymousCartKey(owner.Key)))
}

func TestRedisStoreKeyEvictedByTTL(t *testing.T) {
	ctx := context.Background()
	store, _, mr := newRedisStore(t, time.Hour)
	owner, err := identity.Anonymous(identity.NewSessionID())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, owner, sampleCart(owner, time.Now().UTC())))
	mr.FastForward(2 * time.Hour)

	loaded, err := store.Load(ctx, owner)
	require.NoError(t, err)
	assert.True(t, loaded.IsEmpty())
}

type recordingStore struct {
	loads int
}

func (r *recordingStore) Load(_ context.Context, owner identity.Owner) (Cart, error) {
	r.loads++
	return emptyCart(owner), nil
}
func (r *recordingStore) Save(context.Context, identity.Owner, Cart) error { return nil }
func (r *recordingStore) Delete(context.Context, identity.Owner) error { return nil }

func TestRoutingStorePicksBackendByIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	durable := &recordingStore{}
	session := &recordingStore{}
	router := NewRoutingStore(durable, session)

	anon, err := identity.Anonymous(identity.NewSessionID())
	if err != nil {
		t.Fatalf("anonymous owner: %v", err)
	}
	if _, err := router.Load(ctx, identity.Authenticated(uuid.New(), "")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := router.Load(ctx, anon); err != nil {
		t.Fatalf("load: %v", err)
	}
	if durable.loads != 1 || session.loads != 1 {
		t.Fatalf("expected one load per backend, got durable=%d session=%d", durable.loads, session.loads)
	}
}
