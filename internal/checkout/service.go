package checkout

import (
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payment"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Service drives a shopper from cart to a committed order.
type Service interface {
	Start(ctx context.Context, owner identity.Owner) (*Session, error)
	Get(ctx context.Context, owner identity.Owner) (*Session, error)
	Advance(ctx context.Context, owner identity.Owner, input AdvanceInput) (*Session, error)
	Retreat(ctx context.Context, owner identity.Owner) (*Session, error)
	PlaceOrder(ctx context.Context, owner identity.Owner) (*PlaceResult, error)
	ConfirmPayment(ctx context.Context, owner identity.Owner, intentRef string) (*PlaceResult, error)
	CancelPayment(ctx context.Context, owner identity.Owner, intentRef string) (*Session, error)
	Abandon(ctx context.Context, owner identity.Owner) error
	SettleIntent(ctx context.Context, intentRef string, outcome enums.PaymentOutcome) error
	ReconcileCaptured(ctx context.Context, entry *models.PaymentLedgerEntry) (*orders.CommitResult, error)
}

type cartReader interface {
	Get(ctx context.Context, owner identity.Owner) (cart.Cart, error)
}

type orderCommitter interface {
	Commit(ctx context.Context, input orders.CommitInput) (*orders.CommitResult, error)
}

type paymentOrchestrator interface {
	Currency() string
	Begin(ctx context.Context, req payment.BeginRequest) (*payment.Intent, error)
	Resolve(ctx context.Context, cb payment.Callback) (*payment.Resolution, error)
	MarkCommitted(ctx context.Context, intentRef string, orderID uuid.UUID) error
	MarkCommitFailed(ctx context.Context, intentRef string, cause error) error
}

// AdvanceInput carries the fields submitted with a step. Only the fields of
// the current step are applied.
type AdvanceInput struct {
	Shipping      *types.Address       `json:"shipping,omitempty"`
	GuestContact  *string              `json:"guest_contact,omitempty"`
	PaymentMethod *enums.PaymentMethod `json:"payment_method,omitempty"`
}

// PlaceResult is either a committed order or a gateway hand-off.
type PlaceResult struct {
	Session   *Session            `json:"session"`
	Order     *orders.OrderDetail `json:"order,omitempty"`
	Payment   *payment.Intent     `json:"payment,omitempty"`
	Duplicate bool                `json:"duplicate,omitempty"`
}

// Options carries the optional collaborators of the checkout service.
type Options struct {
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	carts    cartReader
	orders   orderCommitter
	payments paymentOrchestrator
	sessions SessionStore
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the checkout service.
func NewService(carts cartReader, ordersSvc orderCommitter, payments paymentOrchestrator, sessions SessionStore, opts Options) (Service, error) {
	if carts == nil {
		return nil, fmt.Errorf("cart reader required")
	}
	if ordersSvc == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment orchestrator required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	svc := &service{
		carts:    carts,
		orders:   ordersSvc,
		payments: payments,
		sessions: sessions,
		logg:     opts.Logger,
		now:      opts.Now,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Start resumes the owner's checkout or opens a new one.
func (s *service) Start(ctx context.Context, owner identity.Owner) (*Session, error) {
	c, err := s.carts.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		if err := s.sessions.Delete(ctx, owner.Key); err != nil {
			s.logg.Warn(ctx, "failed to drop checkout session for empty cart")
		}
		return nil, emptyCartError()
	}

	existing, err := s.sessions.Load(ctx, owner.Key)
	switch {
	case err == nil && existing.Step != enums.CheckoutStepCommitted:
		return existing, nil
	case err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return nil, err
	}

	session, err := NewSession(owner, c, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOwnerKey(ctx, owner.Key), "checkout started")
	return session, nil
}

func (s *service) Get(ctx context.Context, owner identity.Owner) (*Session, error) {
	return s.sessions.Load(ctx, owner.Key)
}

// Advance applies the submitted fields to the current step and moves on.
// Nothing is stored when the step does not validate.
func (s *service) Advance(ctx context.Context, owner identity.Owner, input AdvanceInput) (*Session, error) {
	session, err := s.sessions.Load(ctx, owner.Key)
	if err != nil {
		return nil, err
	}

	switch session.Step {
	case enums.CheckoutStepShipping:
		if input.Shipping != nil {
			addr := *input.Shipping
			session.Shipping = &addr
		}
		if input.GuestContact != nil {
			session.GuestContact = *input.GuestContact
		}
	case enums.CheckoutStepPayment:
		if input.PaymentMethod != nil && *input.PaymentMethod != session.PaymentMethod {
			session.PaymentMethod = *input.PaymentMethod
			session.Pending = nil
		}
	}

	if err := session.Advance(); err != nil {
		return nil, err
	}
	session.UpdatedAt = s.now().UTC()
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *service) Retreat(ctx context.Context, owner identity.Owner) (*Session, error) {
	session, err := s.sessions.Load(ctx, owner.Key)
	if err != nil {
		return nil, err
	}
	pending := session.Pending
	if err := session.Retreat(); err != nil {
		return nil, err
	}
	session.UpdatedAt = s.now().UTC()
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	if pending != nil {
		s.dropIntent(ctx, owner, pending.IntentRef)
	}
	return session, nil
}

// PlaceOrder commits cash-on-delivery orders directly and opens a gateway
// payment otherwise.
func (s *service) PlaceOrder(ctx context.Context, owner identity.Owner) (*PlaceResult, error) {
	session, err := s.sessions.Load(ctx, owner.Key)
	if err != nil {
		return nil, err
	}
	if session.Step != enums.CheckoutStepReview {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout is not ready for review").
			WithDetails(map[string]any{"step": session.Step})
	}
	if session.Shipping == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shipping details missing").
			WithDetails(map[string]any{"step": enums.CheckoutStepShipping})
	}

	c, err := s.carts.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, emptyCartError()
	}
	ctx = s.logg.WithOwnerKey(ctx, owner.Key)

	if session.PaymentMethod == enums.PaymentMethodCOD {
		return s.placeCashOnDelivery(ctx, owner, session, c)
	}
	return s.placeGateway(ctx, owner, session, c)
}

func (s *service) placeCashOnDelivery(ctx context.Context, owner identity.Owner, session *Session, c cart.Cart) (*PlaceResult, error) {
	result, err := s.orders.Commit(ctx, orders.CommitInput{
		Owner:           owner,
		Contact:         session.Contact(owner),
		Lines:           c.Lines,
		ShippingAddress: *session.Shipping,
		PaymentMethod:   enums.PaymentMethodCOD,
		Currency:        s.payments.Currency(),
	})
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, session, result), nil
}

func (s *service) placeGateway(ctx context.Context, owner identity.Owner, session *Session, c cart.Cart) (*PlaceResult, error) {
	total := cart.Total(c)
	currency := s.payments.Currency()

	digest := linesDigest(c.Lines)

	if p := session.Pending; p != nil {
		if p.LinesDigest == digest && p.Amount.Equal(total) && p.Currency == currency {
			return &PlaceResult{Session: session, Payment: p.intent()}, nil
		}
		s.dropIntent(ctx, owner, p.IntentRef)
		session.Pending = nil
	}

	intent, err := s.payments.Begin(ctx, payment.BeginRequest{Snapshot: payment.Snapshot{
		Owner:           owner,
		Contact:         session.Contact(owner),
		Lines:           c.Lines,
		Total:           total,
		Currency:        currency,
		ShippingAddress: *session.Shipping,
		PaymentMethod:   enums.PaymentMethodGateway,
	}})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session.Pending = &PendingPayment{
		IntentRef:    intent.Ref,
		ClientSecret: intent.ClientSecret,
		Receipt:      intent.Receipt,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		LinesDigest:  digest,
		StartedAt:    now,
	}
	session.UpdatedAt = now
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return &PlaceResult{Session: session, Payment: intent}, nil
}

// ConfirmPayment handles the shopper returning from the gateway.
func (s *service) ConfirmPayment(ctx context.Context, owner identity.Owner, intentRef string) (*PlaceResult, error) {
	res, err := s.payments.Resolve(ctx, payment.Callback{
		IntentRef: intentRef,
		Outcome:   enums.PaymentOutcomeConfirmed,
		OwnerKey:  owner.Key,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Load(ctx, owner.Key)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	switch res.Outcome {
	case enums.PaymentOutcomeCancelled:
		if session != nil {
			session.Pending = nil
			session.UpdatedAt = s.now().UTC()
			_ = s.sessions.Save(ctx, session)
		}
		return nil, pkgerrors.New(pkgerrors.CodePaymentCancelled, "payment cancelled")
	case enums.PaymentOutcomeFailed:
		return nil, pkgerrors.New(pkgerrors.CodePaymentGateway, res.Reason)
	}

	result, err := s.commitCaptured(ctx, res.Entry, false)
	if err != nil {
		return nil, err
	}
	if session == nil {
		detail := orders.ToDetail(result.Order)
		return &PlaceResult{Order: &detail, Duplicate: result.Duplicate}, nil
	}
	return s.finish(ctx, session, result), nil
}

// CancelPayment handles the shopper dismissing the gateway. They land back on
// review, unless the charge went through first; then the order is committed
// and a conflict carrying its id is returned.
func (s *service) CancelPayment(ctx context.Context, owner identity.Owner, intentRef string) (*Session, error) {
	res, err := s.payments.Resolve(ctx, payment.Callback{
		IntentRef: intentRef,
		Outcome:   enums.PaymentOutcomeCancelled,
		OwnerKey:  owner.Key,
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome == enums.PaymentOutcomeConfirmed {
		return nil, s.paidWhileCancelling(ctx, owner, res.Entry)
	}

	session, err := s.sessions.Load(ctx, owner.Key)
	if err != nil {
		return nil, err
	}
	if session.Pending != nil && session.Pending.IntentRef == intentRef {
		session.Pending = nil
		session.UpdatedAt = s.now().UTC()
		if err := s.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (s *service) paidWhileCancelling(ctx context.Context, owner identity.Owner, entry *models.PaymentLedgerEntry) error {
	result, err := s.commitCaptured(ctx, entry, false)
	if err != nil {
		return err
	}
	session, err := s.sessions.Load(ctx, owner.Key)
	if err == nil {
		s.finish(ctx, session, result)
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already completed").
		WithDetails(map[string]any{"order_id": result.Order.ID})
}

// Abandon drops the session and any gateway payment still open for it.
func (s *service) Abandon(ctx context.Context, owner identity.Owner) error {
	session, err := s.sessions.Load(ctx, owner.Key)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	if session.Pending != nil {
		s.dropIntent(ctx, owner, session.Pending.IntentRef)
	}
	return s.sessions.Delete(ctx, owner.Key)
}

// SettleIntent applies a gateway webhook. It follows the same path as the
// shopper's redirect, so whichever arrives first commits the order.
func (s *service) SettleIntent(ctx context.Context, intentRef string, outcome enums.PaymentOutcome) error {
	res, err := s.payments.Resolve(ctx, payment.Callback{IntentRef: intentRef, Outcome: outcome})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			s.logg.Warn(ctx, fmt.Sprintf("webhook for %s ignored: %v", intentRef, err))
			return nil
		}
		return err
	}
	if res.Outcome != enums.PaymentOutcomeConfirmed {
		return nil
	}
	_, err = s.commitCaptured(ctx, res.Entry, false)
	return err
}

// ReconcileCaptured retries the commit of a captured payment. The shopper
// has left, so their current cart is not touched.
func (s *service) ReconcileCaptured(ctx context.Context, entry *models.PaymentLedgerEntry) (*orders.CommitResult, error) {
	return s.commitCaptured(ctx, entry, true)
}

func (s *service) commitCaptured(ctx context.Context, entry *models.PaymentLedgerEntry, keepCart bool) (*orders.CommitResult, error) {
	snap, err := payment.DecodeSnapshot(entry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeOrderCommit, err, "order failed, please retry")
	}
	ref := entry.IntentRef
	if entry.PaymentReference != nil && *entry.PaymentReference != "" {
		ref = *entry.PaymentReference
	}
	paid := enums.OrderStatusPaid
	ctx = s.logg.WithFields(ctx, map[string]any{"intent_ref": entry.IntentRef, "owner_key": entry.OwnerKey})

	result, err := s.orders.Commit(ctx, orders.CommitInput{
		Owner:            snap.Owner,
		Contact:          snap.Contact,
		Lines:            snap.Lines,
		ShippingAddress:  snap.ShippingAddress,
		PaymentMethod:    enums.PaymentMethodGateway,
		Currency:         snap.Currency,
		StatusOverride:   &paid,
		PaymentReference: &ref,
		KeepCart:         keepCart,
	})
	if err != nil {
		if markErr := s.payments.MarkCommitFailed(ctx, entry.IntentRef, err); markErr != nil {
			s.logg.Error(ctx, "failed to record commit failure", markErr)
		}
		return nil, err
	}
	if entry.Status != enums.LedgerStatusCommitted {
		if err := s.payments.MarkCommitted(ctx, entry.IntentRef, result.Order.ID); err != nil {
			s.logg.Error(ctx, "failed to link order to payment", err)
		}
	}
	return result, nil
}

func (s *service) finish(ctx context.Context, session *Session, result *orders.CommitResult) *PlaceResult {
	session.complete(result.Order.ID, s.now().UTC())
	if err := s.sessions.Delete(ctx, session.OwnerKey); err != nil {
		s.logg.Error(ctx, "failed to drop completed checkout session", err)
	}
	detail := orders.ToDetail(result.Order)
	return &PlaceResult{Session: session, Order: &detail, Duplicate: result.Duplicate}
}

// dropIntent cancels a gateway payment the shopper walked away from. If the
// gateway reports it paid, the order is committed from its snapshot and the
// current cart is kept.
func (s *service) dropIntent(ctx context.Context, owner identity.Owner, intentRef string) {
	res, err := s.payments.Resolve(ctx, payment.Callback{
		IntentRef: intentRef,
		Outcome:   enums.PaymentOutcomeCancelled,
		OwnerKey:  owner.Key,
	})
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("could not cancel payment %s: %v", intentRef, err))
		return
	}
	if res.Outcome != enums.PaymentOutcomeConfirmed {
		return
	}
	if _, err := s.commitCaptured(ctx, res.Entry, true); err != nil {
		s.logg.Error(ctx, "failed to commit payment that settled before cancellation", err)
	}
}

func (p *PendingPayment) intent() *payment.Intent {
	return &payment.Intent{
		Ref:          p.IntentRef,
		ClientSecret: p.ClientSecret,
		Receipt:      p.Receipt,
		Amount:       p.Amount,
		Currency:     p.Currency,
	}
}

// linesDigest fingerprints what the shopper is paying for: product, quantity
// and effective price of every line, independent of line order.
func linesDigest(lines []cart.Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s|%d|%s", l.ProductID, l.Quantity, l.EffectivePrice().String()))
	}
	slices.Sort(parts)
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}
