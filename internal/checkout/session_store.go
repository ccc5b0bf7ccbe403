package checkout

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

const defaultSessionTTL = time.Hour

// SessionStore keeps checkout sessions, one per owner.
type SessionStore interface {
	Load(ctx context.Context, ownerKey string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, ownerKey string) error
}

type sessionKV interface {
	redis.KV
	CheckoutSessionKey(ownerKey string) string
}

// RedisSessionStore keeps sessions in redis. Every save restarts the TTL.
type RedisSessionStore struct {
	kv  sessionKV
	ttl time.Duration
}

func NewRedisSessionStore(kv sessionKV, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{kv: kv, ttl: ttl}
}

// Load returns a not-found error when no checkout is in progress.
func (s *RedisSessionStore) Load(ctx context.Context, ownerKey string) (*Session, error) {
	key := s.kv.CheckoutSessionKey(ownerKey)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no checkout in progress")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		_ = s.kv.Del(ctx, key)
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no checkout in progress")
	}
	return &session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout session")
	}
	if err := s.kv.Set(ctx, s.kv.CheckoutSessionKey(session.OwnerKey), string(payload), s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save checkout session")
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, ownerKey string) error {
	if err := s.kv.Del(ctx, s.kv.CheckoutSessionKey(ownerKey)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete checkout session")
	}
	return nil
}
