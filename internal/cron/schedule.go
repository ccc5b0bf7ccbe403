package cron

import (
	"context"
	"time"
)

// Job is one unit of background upkeep run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with how often it may run across the whole fleet.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Every schedules job at most once per period.
func Every(period time.Duration, job Job) Entry {
	return Entry{Job: job, Every: period}
}

// Schedule is the ordered list of jobs the worker cycles through.
type Schedule struct {
	entries []Entry
}

// NewSchedule drops nil jobs and non-positive periods.
func NewSchedule(entries ...Entry) *Schedule {
	s := &Schedule{}
	for _, e := range entries {
		if e.Job == nil || e.Every <= 0 {
			continue
		}
		s.entries = append(s.entries, e)
	}
	return s
}

func (s *Schedule) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Names lists the scheduled job names in order.
func (s *Schedule) Names() []string {
	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.Job.Name())
	}
	return names
}

// shortest is the smallest period, used as the default tick.
func (s *Schedule) shortest() time.Duration {
	var min time.Duration
	for _, e := range s.entries {
		if min == 0 || e.Every < min {
			min = e.Every
		}
	}
	return min
}
