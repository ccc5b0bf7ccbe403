package cart

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/identity"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

type anonymousKV interface {
	redis.KV
	AnonymousCartKey(ownerKey string) string
}

type anonymousRecord struct {
	Lines        []Line    `json:"lines"`
	LastModified time.Time `json:"last_modified"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RedisStore keeps anonymous carts in redis. Each save pushes the expiry to lastModified + retention.
type RedisStore struct {
	kv        anonymousKV
	retention time.Duration
	now       func() time.Time
}

func NewRedisStore(kv anonymousKV, retention time.Duration) *RedisStore {
	return &RedisStore{kv: kv, retention: retention, now: time.Now}
}

func (s *RedisStore) Load(ctx context.Context, owner identity.Owner) (Cart, error) {
	key := s.kv.AnonymousCartKey(owner.Key)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			return emptyCart(owner), nil
		}
		return Cart{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load anonymous cart")
	}

	var rec anonymousRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// unreadable records are treated as gone
		_ = s.kv.Del(ctx, key)
		return emptyCart(owner), nil
	}
	if !s.now().Before(rec.ExpiresAt) {
		if err := s.kv.Del(ctx, key); err != nil {
			return Cart{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire anonymous cart")
		}
		return emptyCart(owner), nil
	}

	lines := rec.Lines
	if lines == nil {
		lines = []Line{}
	}
	expires := rec.ExpiresAt.UTC()
	return Cart{
		OwnerKey:     owner.Key,
		Lines:        lines,
		LastModified: rec.LastModified.UTC(),
		ExpiresAt:    &expires,
	}, nil
}

func (s *RedisStore) Save(ctx context.Context, owner identity.Owner, c Cart) error {
	now := s.now()
	modified := c.LastModified
	if modified.IsZero() {
		modified = now
	}
	rec := anonymousRecord{
		Lines:        c.Lines,
		LastModified: modified.UTC(),
		ExpiresAt:    modified.Add(s.retention).UTC(),
	}
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return s.Delete(ctx, owner)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode anonymous cart")
	}
	if err := s.kv.Set(ctx, s.kv.AnonymousCartKey(owner.Key), payload, ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save anonymous cart")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, owner identity.Owner) error {
	if err := s.kv.Del(ctx, s.kv.AnonymousCartKey(owner.Key)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete anonymous cart")
	}
	return nil
}
