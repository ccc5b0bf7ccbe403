package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Snapshot is the checkout state frozen when the intent is opened. An order
// committed for the intent is built from it, so the order equals the charge.
type Snapshot struct {
	Owner           identity.Owner      `json:"owner"`
	Contact         string              `json:"contact"`
	Lines           []cart.Line         `json:"lines"`
	Total           decimal.Decimal     `json:"total"`
	Currency        string              `json:"currency"`
	ShippingAddress types.Address       `json:"shipping_address"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
}

// DecodeSnapshot reads the snapshot stored on a ledger entry.
func DecodeSnapshot(entry *models.PaymentLedgerEntry) (Snapshot, error) {
	var snap Snapshot
	if entry == nil {
		return snap, fmt.Errorf("ledger entry required")
	}
	if err := json.Unmarshal(entry.Snapshot, &snap); err != nil {
		return snap, fmt.Errorf("decode ledger snapshot %s: %w", entry.IntentRef, err)
	}
	return snap, nil
}

// BeginRequest opens a gateway payment for a checkout snapshot.
type BeginRequest struct {
	Snapshot Snapshot
}

// Callback is the gateway reporting back, either through the shopper's
// redirect or a webhook. OwnerKey is empty for webhooks.
type Callback struct {
	IntentRef string
	Outcome   enums.PaymentOutcome
	OwnerKey  string
}

// Resolution is the settled outcome of a callback.
type Resolution struct {
	Outcome          enums.PaymentOutcome
	Entry            *models.PaymentLedgerEntry
	AlreadyCommitted bool
	Reason           string
}

const expireBatchSize = 100

type outcomeMetrics interface {
	IncPaymentOutcome(outcome string)
}

// Orchestrator opens intents, verifies callbacks and records every step in the ledger.
// It never commits orders itself.
type Orchestrator struct {
	gateway  Gateway
	repo     Repository
	currency string
	metrics  outcomeMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewOrchestrator wires the orchestrator. A nil gateway leaves Begin and
// Resolve failing with a dependency error, which keeps COD checkout usable.
func NewOrchestrator(gateway Gateway, repo Repository, cfg config.PaymentConfig, logg *logger.Logger, metrics outcomeMetrics) (*Orchestrator, error) {
	if repo == nil {
		return nil, fmt.Errorf("payment ledger repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Orchestrator{
		gateway:  gateway,
		repo:     repo,
		currency: currency,
		metrics:  metrics,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Currency is the single store currency intents are opened in.
func (o *Orchestrator) Currency() string {
	return o.currency
}

// Begin opens the intent and records the pending ledger entry.
func (o *Orchestrator) Begin(ctx context.Context, req BeginRequest) (*Intent, error) {
	if o.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unavailable")
	}
	snap := req.Snapshot
	if len(snap.Lines) == 0 || !snap.Total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to pay for")
	}
	if snap.Currency == "" {
		snap.Currency = o.currency
	}
	snap.PaymentMethod = enums.PaymentMethodGateway

	now := o.now().UTC()
	receipt := NewReceipt(now)

	intent, err := o.gateway.CreateIntent(ctx, IntentRequest{
		Receipt:  receipt,
		Amount:   snap.Total,
		Currency: snap.Currency,
		Email:    snap.Contact,
		OwnerKey: snap.Owner.Key,
	})
	if err != nil {
		o.logg.Error(o.logg.WithOwnerKey(ctx, snap.Owner.Key), "payment intent creation failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable")
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout snapshot")
	}
	entry := &models.PaymentLedgerEntry{
		IntentRef: intent.Ref,
		Receipt:   receipt,
		OwnerKey:  snap.Owner.Key,
		Amount:    snap.Total,
		Currency:  snap.Currency,
		Status:    enums.LedgerStatusPending,
		Snapshot:  raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pending payment")
	}
	return intent, nil
}

// Resolve settles a callback against the ledger. Infrastructure problems are
// returned as errors; a payment that could not be verified is OutcomeFailed.
func (o *Orchestrator) Resolve(ctx context.Context, cb Callback) (*Resolution, error) {
	entry, err := o.find(ctx, cb.IntentRef)
	if err != nil {
		return nil, err
	}
	if cb.OwnerKey != "" && entry.OwnerKey != cb.OwnerKey {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	ctx = o.logg.WithFields(ctx, map[string]any{"intent_ref": entry.IntentRef, "owner_key": entry.OwnerKey})

	switch entry.Status {
	case enums.LedgerStatusCommitted:
		return &Resolution{Outcome: enums.PaymentOutcomeConfirmed, Entry: entry, AlreadyCommitted: true}, nil
	case enums.LedgerStatusCaptured, enums.LedgerStatusCommitFailed:
		if cb.Outcome == enums.PaymentOutcomeCancelled {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already captured")
		}
		return &Resolution{Outcome: enums.PaymentOutcomeConfirmed, Entry: entry}, nil
	case enums.LedgerStatusCancelled, enums.LedgerStatusExpired:
		if cb.Outcome == enums.PaymentOutcomeCancelled {
			return &Resolution{Outcome: enums.PaymentOutcomeCancelled, Entry: entry}, nil
		}
		return o.reopen(ctx, entry)
	case enums.LedgerStatusPending:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown ledger status %q", entry.Status))
	}

	if cb.Outcome == enums.PaymentOutcomeCancelled {
		return o.cancel(ctx, entry)
	}
	if o.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unavailable")
	}

	status, err := o.gateway.Retrieve(ctx, entry.IntentRef)
	if err != nil {
		o.logg.Error(ctx, "payment verification failed", err)
		return o.failed(entry, "payment could not be verified"), nil
	}
	switch status.State {
	case IntentStateSucceeded:
		return o.capture(ctx, entry, status, enums.LedgerStatusPending)
	case IntentStateCanceled:
		return o.closeEntry(ctx, entry)
	default:
		o.logg.Warn(ctx, fmt.Sprintf("payment not completed (gateway state %s)", status.State))
		return o.failed(entry, "payment not completed"), nil
	}
}

// MarkCommitted links the order created for a captured payment.
func (o *Orchestrator) MarkCommitted(ctx context.Context, intentRef string, orderID uuid.UUID) error {
	_, err := o.repo.Transition(ctx, intentRef,
		[]enums.LedgerStatus{enums.LedgerStatusCaptured, enums.LedgerStatusCommitFailed},
		map[string]any{
			"status":     enums.LedgerStatusCommitted,
			"order_id":   orderID,
			"last_error": nil,
			"updated_at": o.now().UTC(),
		})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment committed")
	}
	return nil
}

// MarkCommitFailed records a failed commit after capture for reconciliation.
func (o *Orchestrator) MarkCommitFailed(ctx context.Context, intentRef string, cause error) error {
	msg := "order commit failed"
	if cause != nil {
		msg = cause.Error()
	}
	_, err := o.repo.Transition(ctx, intentRef,
		[]enums.LedgerStatus{enums.LedgerStatusCaptured, enums.LedgerStatusCommitFailed},
		map[string]any{
			"status":     enums.LedgerStatusCommitFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
			"updated_at": o.now().UTC(),
		})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment commit failed")
	}
	return nil
}

// Reconcilable lists captured payments with no order that have been idle for grace.
func (o *Orchestrator) Reconcilable(ctx context.Context, grace time.Duration, limit int) ([]models.PaymentLedgerEntry, error) {
	entries, err := o.repo.ListForReconciliation(ctx, o.now().UTC().Add(-grace), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments to reconcile")
	}
	return entries, nil
}

// ExpirePending closes pending intents older than maxAge. Each intent is
// cancelled at the gateway before its entry expires; one that turns out to
// have succeeded is captured and left for reconciliation instead.
func (o *Orchestrator) ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	entries, err := o.repo.ListPending(ctx, o.now().UTC().Add(-maxAge), expireBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}

	var expired int64
	var errs error
	for i := range entries {
		entry := &entries[i]
		entryCtx := o.logg.WithField(ctx, "intent_ref", entry.IntentRef)

		status, err := o.stopIntent(entryCtx, entry.IntentRef)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", entry.IntentRef, err))
			continue
		}
		if status != nil && status.State == IntentStateSucceeded {
			o.logg.Warn(entryCtx, "stale pending payment had succeeded, capturing it")
			if _, err := o.capture(entryCtx, entry, status, enums.LedgerStatusPending); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("capture %s: %w", entry.IntentRef, err))
			}
			continue
		}

		moved, err := o.repo.Transition(ctx, entry.IntentRef, []enums.LedgerStatus{enums.LedgerStatusPending}, map[string]any{
			"status":     enums.LedgerStatusExpired,
			"updated_at": o.now().UTC(),
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", entry.IntentRef, err))
			continue
		}
		if moved {
			expired++
		}
	}
	return expired, errs
}

func (o *Orchestrator) find(ctx context.Context, intentRef string) (*models.PaymentLedgerEntry, error) {
	if strings.TrimSpace(intentRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent reference required")
	}
	entry, err := o.repo.FindByIntent(ctx, intentRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return entry, nil
}

// capture moves an entry whose intent succeeded at the gateway to captured.
// from lists the statuses the entry may be leaving.
func (o *Orchestrator) capture(ctx context.Context, entry *models.PaymentLedgerEntry, status *IntentStatus, from ...enums.LedgerStatus) (*Resolution, error) {
	if !status.Amount.Equal(entry.Amount) || !strings.EqualFold(status.Currency, entry.Currency) {
		o.logg.Error(ctx, "payment amount mismatch",
			fmt.Errorf("charged %s %s, expected %s %s", status.Amount, status.Currency, entry.Amount, entry.Currency))
		return o.failed(entry, "payment amount mismatch"), nil
	}

	ref := entry.IntentRef
	moved, err := o.repo.Transition(ctx, entry.IntentRef, from, map[string]any{
		"status":            enums.LedgerStatusCaptured,
		"payment_reference": ref,
		"updated_at":        o.now().UTC(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record captured payment")
	}
	if !moved {
		// a concurrent callback settled it first
		return o.Resolve(ctx, Callback{IntentRef: entry.IntentRef, Outcome: enums.PaymentOutcomeConfirmed})
	}
	entry.Status = enums.LedgerStatusCaptured
	entry.PaymentReference = &ref
	o.count(enums.PaymentOutcomeConfirmed)
	return &Resolution{Outcome: enums.PaymentOutcomeConfirmed, Entry: entry}, nil
}

// reopen handles a success reported for an entry the ledger already closed.
// A charge the gateway confirms is captured so an order still gets committed.
func (o *Orchestrator) reopen(ctx context.Context, entry *models.PaymentLedgerEntry) (*Resolution, error) {
	closed := pkgerrors.New(pkgerrors.CodeStateConflict, "payment was cancelled")
	if entry.Status == enums.LedgerStatusExpired {
		closed = pkgerrors.New(pkgerrors.CodeStateConflict, "payment session expired")
	}
	if o.gateway == nil {
		return nil, closed
	}
	status, err := o.gateway.Retrieve(ctx, entry.IntentRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify payment")
	}
	if status.State != IntentStateSucceeded {
		return nil, closed
	}
	o.logg.Warn(ctx, fmt.Sprintf("payment succeeded after its ledger entry was %s", entry.Status))
	return o.capture(ctx, entry, status, entry.Status)
}

// cancel stops the intent at the gateway, then closes the entry. An intent
// that succeeded before it could be stopped is captured instead.
func (o *Orchestrator) cancel(ctx context.Context, entry *models.PaymentLedgerEntry) (*Resolution, error) {
	status, err := o.stopIntent(ctx, entry.IntentRef)
	if err != nil {
		return nil, err
	}
	if status != nil && status.State == IntentStateSucceeded {
		o.logg.Warn(ctx, "payment succeeded before it could be cancelled")
		return o.capture(ctx, entry, status, enums.LedgerStatusPending)
	}
	return o.closeEntry(ctx, entry)
}

// stopIntent cancels an intent at the gateway and returns its final state.
// It errors while the intent could still be paid.
func (o *Orchestrator) stopIntent(ctx context.Context, intentRef string) (*IntentStatus, error) {
	if o.gateway == nil {
		return nil, nil
	}
	status, err := o.gateway.Cancel(ctx, intentRef)
	if err != nil {
		o.logg.Warn(ctx, fmt.Sprintf("gateway refused to cancel %s: %v", intentRef, err))
		status, err = o.gateway.Retrieve(ctx, intentRef)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payment")
		}
	}
	switch status.State {
	case IntentStateSucceeded, IntentStateCanceled:
		return status, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeDependency,
		fmt.Sprintf("payment could not be cancelled (gateway state %s)", status.State))
}

func (o *Orchestrator) closeEntry(ctx context.Context, entry *models.PaymentLedgerEntry) (*Resolution, error) {
	moved, err := o.repo.Transition(ctx, entry.IntentRef, []enums.LedgerStatus{enums.LedgerStatusPending}, map[string]any{
		"status":     enums.LedgerStatusCancelled,
		"updated_at": o.now().UTC(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cancelled payment")
	}
	if !moved {
		return o.Resolve(ctx, Callback{IntentRef: entry.IntentRef, Outcome: enums.PaymentOutcomeCancelled})
	}
	entry.Status = enums.LedgerStatusCancelled
	o.count(enums.PaymentOutcomeCancelled)
	return &Resolution{Outcome: enums.PaymentOutcomeCancelled, Entry: entry}, nil
}

func (o *Orchestrator) failed(entry *models.PaymentLedgerEntry, reason string) *Resolution {
	o.count(enums.PaymentOutcomeFailed)
	return &Resolution{Outcome: enums.PaymentOutcomeFailed, Entry: entry, Reason: reason}
}

func (o *Orchestrator) count(outcome enums.PaymentOutcome) {
	if o.metrics != nil {
		o.metrics.IncPaymentOutcome(outcome.String())
	}
}

// NewReceipt builds the merchant-side receipt id, rcpt_<unix millis>_<random>.
func NewReceipt(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("rcpt_%d_%s", now.UnixMilli(), random)
}
