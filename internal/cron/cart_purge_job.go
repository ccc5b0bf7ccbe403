package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultAbandonedCartRetention = 30 * 24 * time.Hour

type CartPurgeJobParams struct {
	Logger    *logger.Logger
	Carts     cartPurger
	Retention time.Duration
}

type cartPurger interface {
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewCartPurgeJob deletes stored carts nobody touched within the retention window.
// Anonymous carts live in Redis and expire on their own.
func NewCartPurgeJob(params CartPurgeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart store required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultAbandonedCartRetention
	}
	return &cartPurgeJob{
		logg:      params.Logger,
		carts:     params.Carts,
		retention: retention,
		now:       time.Now,
	}, nil
}

type cartPurgeJob struct {
	logg      *logger.Logger
	carts     cartPurger
	retention time.Duration
	now       func() time.Time
}

func (j *cartPurgeJob) Name() string { return "cart-expiry-purge" }

func (j *cartPurgeJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	purged, err := j.carts.PurgeStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cart purge: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"carts_purged": purged,
	})
	j.logg.Info(logCtx, "abandoned cart purge complete")
	return nil
}
