package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Leaser hands out one lease per job name. Holding a lease means the job has
// run (or is running) somewhere in the fleet during the current period.
type Leaser interface {
	Acquire(ctx context.Context, job string, period time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, job, token string) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, expected string) (bool, error)
	LockKey(scope, name string) string
}

// RedisLeaser keeps leases as SETNX keys that expire after the job period.
type RedisLeaser struct {
	store leaseStore
	scope string
}

// NewRedisLeaser scopes lease keys, typically by environment, so staging and
// production workers sharing a Redis never block each other.
func NewRedisLeaser(store leaseStore, scope string) (*RedisLeaser, error) {
	if store == nil {
		return nil, errors.New("redis client required for leases")
	}
	if scope == "" {
		return nil, errors.New("lease scope is required")
	}
	return &RedisLeaser{store: store, scope: scope}, nil
}

func (l *RedisLeaser) key(job string) string {
	return l.store.LockKey("cron:"+l.scope, job)
}

// Acquire takes the lease for period. ok is false when another run holds it.
func (l *RedisLeaser) Acquire(ctx context.Context, job string, period time.Duration) (string, bool, error) {
	if period <= 0 {
		return "", false, fmt.Errorf("lease period for %s must be positive", job)
	}
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key(job), token, period)
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", job, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lease back early so the next tick can retry the job.
// A lease that already expired or changed hands is left alone.
func (l *RedisLeaser) Release(ctx context.Context, job, token string) error {
	if token == "" {
		return nil
	}
	if _, err := l.store.DelIfValue(ctx, l.key(job), token); err != nil {
		return fmt.Errorf("release lease %s: %w", job, err)
	}
	return nil
}
