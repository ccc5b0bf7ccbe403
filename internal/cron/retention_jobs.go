package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultOutboxRetention       = 30 * 24 * time.Hour
	defaultNotificationRetention = 30 * 24 * time.Hour
	defaultOutboxMinAttempts     = 5
)

// retentionJob deletes rows older than now-retention through purge.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	purge     func(ctx context.Context, cutoff time.Time) (map[string]int64, error)
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	fields := map[string]any{"cutoff": cutoff, "retention": j.retention.String()}
	for table, n := range deleted {
		fields[table+"_deleted"] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "retention cleanup complete")
	return nil
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type dlqPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Outbox      outboxPruner
	DLQ         dlqPruner
	Retention   time.Duration
	MinAttempts int
}

// NewOutboxRetentionJob prunes relayed order events and their dead letters in
// one transaction.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil || params.Outbox == nil || params.DLQ == nil {
		return nil, fmt.Errorf("db runner, outbox and dlq repositories required")
	}
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = defaultOutboxMinAttempts
	}
	purge := func(ctx context.Context, cutoff time.Time) (map[string]int64, error) {
		counts := map[string]int64{}
		err := params.DB.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := params.Outbox.DeletePublishedBefore(ctx, tx, cutoff, minAttempts)
			if err != nil {
				return err
			}
			counts["outbox"] = n
			n, err = params.DLQ.DeleteFailedBefore(ctx, tx, cutoff)
			if err != nil {
				return err
			}
			counts["dlq"] = n
			return nil
		})
		return counts, err
	}
	return newRetentionJob("outbox-retention", params.Logger, params.Retention, defaultOutboxRetention, purge), nil
}

type readAlertPruner interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository readAlertPruner
	Retention  time.Duration
}

// NewNotificationCleanupJob prunes operator alerts read before the retention window.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	purge := func(ctx context.Context, cutoff time.Time) (map[string]int64, error) {
		n, err := params.Repository.DeleteReadBefore(ctx, cutoff)
		return map[string]int64{"notifications": n}, err
	}
	return newRetentionJob("notification-cleanup", params.Logger, params.Retention, defaultNotificationRetention, purge), nil
}

func newRetentionJob(name string, logg *logger.Logger, retention, fallback time.Duration, purge func(context.Context, time.Time) (map[string]int64, error)) *retentionJob {
	if retention <= 0 {
		retention = fallback
	}
	return &retentionJob{name: name, logg: logg, retention: retention, purge: purge, now: time.Now}
}
