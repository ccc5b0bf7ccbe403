// Package cron runs the storefront's periodic upkeep: payment reconciliation,
// abandoned cart purge and retention cleanup.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const defaultTick = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Schedule *Schedule
	Leaser   Leaser
	Metrics  *metrics.CronJobMetrics
	// Tick is how often due jobs are checked; defaults to the shortest job period.
	Tick time.Duration
}

// Service wakes every tick and runs each job whose fleet-wide lease is free.
// A successful run keeps the lease for the job's period; a failed run hands
// it back so the next tick retries.
type Service struct {
	logg     *logger.Logger
	schedule *Schedule
	leaser   Leaser
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Leaser == nil {
		return nil, fmt.Errorf("leaser required")
	}
	schedule := params.Schedule
	if schedule == nil {
		schedule = NewSchedule()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = schedule.shortest()
	}
	if tick <= 0 {
		tick = defaultTick
	}
	return &Service{
		logg:     params.Logger,
		schedule: schedule,
		leaser:   params.Leaser,
		metrics:  params.Metrics,
		tick:     tick,
	}, nil
}

// Run checks the schedule immediately and then every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs": s.schedule.Names(),
		"tick": s.tick.String(),
	}), "cron schedule loaded")

	s.runDue(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue returns how many jobs actually ran.
func (s *Service) runDue(ctx context.Context) int {
	ran := 0
	for _, entry := range s.schedule.Entries() {
		if ctx.Err() != nil {
			return ran
		}
		if s.runEntry(ctx, entry) {
			ran++
		}
	}
	return ran
}

func (s *Service) runEntry(ctx context.Context, entry Entry) bool {
	name := entry.Job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)

	token, ok, err := s.leaser.Acquire(jobCtx, name, entry.Every)
	if err != nil {
		s.logg.Error(jobCtx, "cron lease unavailable", err)
		return false
	}
	if !ok {
		s.metrics.IncSkipped(name)
		return false
	}

	start := time.Now()
	runErr := entry.Job.Run(jobCtx)
	took := time.Since(start)
	s.metrics.ObserveRun(name, took, runErr)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if runErr != nil {
		s.logg.Error(jobCtx, "cron job failed", runErr)
		if err := s.leaser.Release(ctx, name, token); err != nil {
			s.logg.Error(jobCtx, "cron lease release failed", err)
		}
		return true
	}
	s.logg.Info(jobCtx, "cron job completed")
	return true
}
