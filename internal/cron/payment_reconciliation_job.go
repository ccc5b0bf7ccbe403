package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	defaultReconcileGrace    = 5 * time.Minute
	defaultReconcileMaxTries = 5
	defaultPendingExpiry     = 24 * time.Hour
	reconcileBatchSize       = 100
)

// paymentAlertNamespace derives stable aggregate ids from intent references
// so each intent raises at most one operator alert.
var paymentAlertNamespace = uuid.MustParse("6f1c2a52-5a0e-4c1f-9a57-2f8e1b7d4c10")

type PaymentReconciliationJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Payments   paymentLedger
	Reconciler captureReconciler
	Outbox     outboxEmitter
	Grace      time.Duration
	MaxTries   int
	Expiry     time.Duration
	BatchSize  int
}

type paymentLedger interface {
	Reconcilable(ctx context.Context, grace time.Duration, limit int) ([]models.PaymentLedgerEntry, error)
	ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error)
}

type captureReconciler interface {
	ReconcileCaptured(ctx context.Context, entry *models.PaymentLedgerEntry) (*orders.CommitResult, error)
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

func NewPaymentReconciliationJob(params PaymentReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("checkout reconciler required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	job := &paymentReconciliationJob{
		logg:       params.Logger,
		db:         params.DB,
		payments:   params.Payments,
		reconciler: params.Reconciler,
		outbox:     params.Outbox,
		grace:      params.Grace,
		maxTries:   params.MaxTries,
		expiry:     params.Expiry,
		batchSize:  params.BatchSize,
	}
	if job.grace <= 0 {
		job.grace = defaultReconcileGrace
	}
	if job.maxTries <= 0 {
		job.maxTries = defaultReconcileMaxTries
	}
	if job.expiry <= 0 {
		job.expiry = defaultPendingExpiry
	}
	if job.batchSize <= 0 {
		job.batchSize = reconcileBatchSize
	}
	return job, nil
}

type paymentReconciliationJob struct {
	logg       *logger.Logger
	db         txRunner
	payments   paymentLedger
	reconciler captureReconciler
	outbox     outboxEmitter
	grace      time.Duration
	maxTries   int
	expiry     time.Duration
	batchSize  int
}

func (j *paymentReconciliationJob) Name() string { return "payment-reconciliation" }

func (j *paymentReconciliationJob) Run(ctx context.Context) error {
	var errs error

	expired, err := j.payments.ExpirePending(ctx, j.expiry)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expire pending: %w", err))
	}

	entries, err := j.payments.Reconcilable(ctx, j.grace, j.batchSize)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list reconcilable: %w", err))
	}

	var committed, escalated, failed int
	for i := range entries {
		entry := entries[i]
		entryCtx := j.logg.WithField(ctx, "intent_ref", entry.IntentRef)

		if entry.Attempts >= j.maxTries {
			if err := j.escalate(entryCtx, entry); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			escalated++
			continue
		}

		result, err := j.reconciler.ReconcileCaptured(entryCtx, &entry)
		if err != nil {
			failed++
			j.logg.Warn(entryCtx, fmt.Sprintf("captured payment still not committed: %v", err))
			entry.Attempts++
			entry.Status = enums.LedgerStatusCommitFailed
			msg := err.Error()
			entry.LastError = &msg
			if entry.Attempts >= j.maxTries {
				if escErr := j.escalate(entryCtx, entry); escErr != nil {
					errs = multierr.Append(errs, escErr)
				} else {
					escalated++
				}
			}
			continue
		}
		committed++
		if result != nil && result.Order != nil {
			j.logg.Info(j.logg.WithOrderID(entryCtx, result.Order.ID.String()), "captured payment committed")
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending_expired": expired,
		"reconcilable":    len(entries),
		"committed":       committed,
		"failed":          failed,
		"escalated":       escalated,
	})
	j.logg.Info(logCtx, "payment reconciliation complete")
	return errs
}

func (j *paymentReconciliationJob) escalate(ctx context.Context, entry models.PaymentLedgerEntry) error {
	data := payloads.PaymentReconciliationRequiredEvent{
		IntentRef: entry.IntentRef,
		Receipt:   entry.Receipt,
		OwnerKey:  entry.OwnerKey,
		Amount:    entry.Amount,
		Currency:  entry.Currency,
		Status:    entry.Status,
		Attempts:  entry.Attempts,
	}
	if entry.LastError != nil {
		data.LastError = *entry.LastError
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventPaymentReconciliationRequired,
		AggregateType: enums.AggregatePayment,
		AggregateID:   paymentAggregateID(entry.IntentRef),
		Data:          data,
	}
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.EmitIfNotExists(ctx, tx, event)
	}); err != nil {
		return fmt.Errorf("escalate %s: %w", entry.IntentRef, err)
	}
	return nil
}

func paymentAggregateID(intentRef string) uuid.UUID {
	return uuid.NewSHA1(paymentAlertNamespace, []byte(intentRef))
}
