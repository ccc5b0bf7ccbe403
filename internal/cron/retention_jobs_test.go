package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type countingTx struct{ calls int }

func (p *countingTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	p.calls++
	return fn(nil)
}

type fakeOutboxPruner struct {
	cutoff      time.Time
	minAttempts int
	err         error
}

func (f *fakeOutboxPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts int) (int64, error) {
	f.cutoff, f.minAttempts = cutoff, minAttempts
	return 7, f.err
}

type fakeDLQPruner struct {
	cutoff time.Time
	calls  int
}

func (f *fakeDLQPruner) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 2, nil
}

type fakeReadAlertPruner struct {
	cutoff time.Time
	err    error
}

func (f *fakeReadAlertPruner) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 42, f.err
}

func TestOutboxRetentionJobPrunesOutboxAndDLQTogether(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	tx := &countingTx{}
	outboxRepo := &fakeOutboxPruner{}
	dlq := &fakeDLQPruner{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: quietLogger(),
		DB:     tx,
		Outbox: outboxRepo,
		DLQ:    dlq,
	})
	require.NoError(t, err)
	job.(*retentionJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	want := now.Add(-defaultOutboxRetention)
	assert.Equal(t, 1, tx.calls)
	assert.True(t, outboxRepo.cutoff.Equal(want))
	assert.Equal(t, defaultOutboxMinAttempts, outboxRepo.minAttempts)
	assert.True(t, dlq.cutoff.Equal(want))
	assert.Equal(t, "outbox-retention", job.Name())
}

func TestOutboxRetentionJobStopsOnOutboxError(t *testing.T) {
	dlq := &fakeDLQPruner{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:    quietLogger(),
		DB:        &countingTx{},
		Outbox:    &fakeOutboxPruner{err: errors.New("lock timeout")},
		DLQ:       dlq,
		Retention: time.Hour,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox-retention")
	assert.Zero(t, dlq.calls)
}

func TestNotificationCleanupJobUsesConfiguredRetention(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	repo := &fakeReadAlertPruner{}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     quietLogger(),
		Repository: repo,
		Retention:  72 * time.Hour,
	})
	require.NoError(t, err)
	job.(*retentionJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, repo.cutoff.Equal(now.Add(-72*time.Hour)))
}

func TestNotificationCleanupJobPropagatesErrors(t *testing.T) {
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     quietLogger(),
		Repository: &fakeReadAlertPruner{err: errors.New("boom")},
	})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}

func TestRetentionJobsRequireDependencies(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), DB: &countingTx{}})
	require.Error(t, err)
	_, err = NewNotificationCleanupJob(NotificationCleanupJobParams{Logger: quietLogger()})
	require.Error(t, err)
}
