package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxIdleBackoff     = 10 * time.Second
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicChecker interface {
	CheckTopics(ctx context.Context, topics []string) error
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	DeadLetterTx(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, at time.Time) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
	Topics() []string
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) error
}

type RelayParams struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	DB         txRunner
	Topics     topicChecker
	Outbox     outboxRows
	DLQ        deadLetters
	Registry   eventResolver
	Metrics    *metrics.RelayMetrics
	Publishers func(topic string) topicPublisher
}

// Relay drains committed outbox rows to Pub/Sub. Each batch is claimed and
// settled inside one transaction so two relays never publish the same row.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	topics      topicChecker
	outbox      outboxRows
	dlq         deadLetters
	registry    eventResolver
	metrics     *metrics.RelayMetrics
	publisherOf func(topic string) topicPublisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Topics == nil:
		return nil, errors.New("topic checker is required")
	case p.Outbox == nil || p.DLQ == nil:
		return nil, errors.New("outbox and dlq repositories are required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.Publishers == nil:
		return nil, errors.New("publisher lookup is required")
	}
	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		topics:      p.Topics,
		outbox:      p.Outbox,
		dlq:         p.DLQ,
		registry:    p.Registry,
		metrics:     p.Metrics,
		publisherOf: p.Publishers,
		batchSize:   p.Config.BatchSize,
		maxAttempts: p.Config.MaxAttempts,
		poll:        time.Duration(p.Config.PollIntervalMS) * time.Millisecond,
		now:         time.Now,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.poll <= 0 {
		r.poll = defaultPoll
	}
	return r, nil
}

func (r *Relay) ready(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	topics := r.registry.Topics()
	if err := r.topics.CheckTopics(ctx, topics); err != nil {
		return err
	}
	for _, topic := range topics {
		if r.publisherOf(topic) == nil {
			return fmt.Errorf("no publisher for topic %q", topic)
		}
	}
	return nil
}

// Run relays until ctx ends. A full batch is followed immediately by the
// next one; an empty batch waits one poll interval; a failed batch backs off
// exponentially up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ready(ctx); err != nil {
		r.logg.Error(ctx, "outbox relay not ready", err)
		return err
	}
	wait := r.poll
	for {
		rows, err := r.relayBatch(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case rows >= r.batchSize:
			wait = r.poll
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		default:
			wait = r.poll
		}
		if err := sleepCtx(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

// verdict is what happened to one row.
type verdict struct {
	outcome string
	reason  enums.OutboxDLQErrorReason
	err     error
	topic   string
}

const (
	outcomePublished  = "published"
	outcomeRetry      = "retry"
	outcomeDeadLetter = "dead_letter"
)

// relayBatch returns how many rows it claimed.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.outbox.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			v := r.relayOne(ctx, event)
			if err := r.settle(ctx, tx, event, v); err != nil {
				return err
			}
		}
		return nil
	})
	r.metrics.ObserveBatch(claimed)
	return claimed, err
}

func (r *Relay) relayOne(ctx context.Context, event models.OutboxEvent) verdict {
	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return verdict{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}
	topic := resolved.Descriptor.Topic
	pub := r.publisherOf(topic)
	if pub == nil {
		return verdict{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: fmt.Errorf("no publisher for topic %s", topic), topic: topic}
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = pub.Publish(publishCtx, messageFor(event, resolved))
	switch {
	case err == nil:
		return verdict{outcome: outcomePublished, topic: topic}
	case errors.As(err, new(registry.NonRetryableError)):
		return verdict{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err, topic: topic}
	case event.AttemptCount+1 >= r.maxAttempts:
		return verdict{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonMaxAttempts, err: fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount+1, err), topic: topic}
	default:
		return verdict{outcome: outcomeRetry, err: err, topic: topic}
	}
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, v verdict) error {
	r.metrics.IncEvent(string(event.EventType), v.outcome)
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
		"topic":         v.topic,
		"outcome":       v.outcome,
	})

	switch v.outcome {
	case outcomePublished:
		if err := r.outbox.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(logCtx, "outbox event relayed")
	case outcomeRetry:
		r.logg.Warn(r.logg.WithField(logCtx, "error", v.err.Error()), "outbox publish failed, will retry")
		if err := r.outbox.MarkFailedTx(tx, event.ID, v.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, err)
		}
	default:
		r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
			"error":        v.err.Error(),
			"error_reason": v.reason,
		}), "outbox event dead-lettered")
		if err := r.dlq.DeadLetterTx(tx, event, v.reason, v.err, r.now()); err != nil {
			return fmt.Errorf("dead-letter %s: %w", event.ID, err)
		}
		if err := r.outbox.MarkTerminalTx(tx, event.ID, v.err, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
	}
	return nil
}

// messageFor keys order events by order id so Pub/Sub delivers an order's
// placed and status-change events in the order they were committed.
func messageFor(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if event.AggregateType == enums.AggregateOrder {
		msg.OrderingKey = event.AggregateID.String()
	}
	return msg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jitter adds up to a quarter of d so relays started together drift apart.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}

// gcpPublisher blocks until Pub/Sub acknowledges the message. A failed
// publish pauses its ordering key, so the key is resumed before the row is
// retried.
type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) error {
	_, err := g.p.Publish(ctx, msg).Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		g.p.ResumePublish(msg.OrderingKey)
	}
	return err
}
