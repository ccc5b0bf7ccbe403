package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const commitFailedMessage = "order failed, please retry"

// Service is the order commit and status authority.
type Service interface {
	Commit(ctx context.Context, input CommitInput) (*CommitResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByOwner(ctx context.Context, ownerKey string, params pagination.Params) (*OrderList, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to enums.OrderStatus, note string) (*models.Order, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	carts    CartClearer
	metrics  commitMetrics
	logg     *logger.Logger
	currency string
	now      func() time.Time
}

// Options carries the optional collaborators of the order service.
type Options struct {
	Metrics  commitMetrics
	Logger   *logger.Logger
	Currency string
	Now      func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, carts CartClearer, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart clearer required")
	}
	svc := &service{
		repo:     repo,
		tx:       tx,
		outbox:   outbox,
		carts:    carts,
		metrics:  opts.Metrics,
		logg:     opts.Logger,
		currency: strings.ToLower(strings.TrimSpace(opts.Currency)),
		now:      opts.Now,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.currency == "" {
		svc.currency = "usd"
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

func (s *service) Commit(ctx context.Context, input CommitInput) (*CommitResult, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no lines")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	if input.Owner.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner identity missing")
	}

	if ref := paymentReference(input.PaymentReference); ref != "" {
		existing, err := s.repo.FindByPaymentReference(ctx, ref)
		switch {
		case err == nil:
			return &CommitResult{Order: existing, Duplicate: true}, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, s.commitFailed(ctx, err)
		}
	}

	order := s.buildOrder(input)
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorFor(input.Owner),
			Data:          placedEvent(order),
			OccurredAt:    order.CreatedAt,
		})
	})
	if err != nil {
		ref := paymentReference(input.PaymentReference)
		if ref != "" && db.IsUniqueViolation(err, "") {
			// a concurrent confirmation committed the same payment first
			if existing, findErr := s.repo.FindByPaymentReference(ctx, ref); findErr == nil {
				return &CommitResult{Order: existing, Duplicate: true}, nil
			}
		}
		return nil, s.commitFailed(ctx, err)
	}

	if s.metrics != nil {
		s.metrics.IncOrderCommitted(order.PaymentMethod.String())
	}
	s.logg.Info(ctx, "order committed")

	if !input.KeepCart {
		if err := s.carts.Clear(ctx, input.Owner); err != nil {
			s.logg.Error(s.logg.WithOwnerKey(ctx, input.Owner.Key), "clear cart after commit", err)
		}
	}
	return &CommitResult{Order: order}, nil
}

func (s *service) commitFailed(ctx context.Context, err error) error {
	if s.metrics != nil {
		s.metrics.IncOrderCommitFailure()
	}
	s.logg.Error(ctx, "order commit failed", err)
	return pkgerrors.Wrap(pkgerrors.CodeOrderCommit, err, commitFailedMessage)
}

func (s *service) buildOrder(input CommitInput) *models.Order {
	now := s.now().UTC()
	orderID := uuid.New()

	ownerKey := input.Owner.Key
	if !input.Owner.Authenticated {
		ownerKey = identity.NewGuestKey()
	}
	status := input.PaymentMethod.InitialOrderStatus()
	if input.StatusOverride != nil && input.StatusOverride.IsValid() {
		status = *input.StatusOverride
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}

	order := &models.Order{
		ID:               orderID,
		OwnerKey:         ownerKey,
		Currency:         currency,
		ShippingAddress:  input.ShippingAddress.Normalize(),
		PaymentMethod:    input.PaymentMethod,
		PaymentReference: input.PaymentReference,
		Status:           status,
		Lines:            make([]models.OrderLine, 0, len(input.Lines)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if contact := strings.TrimSpace(input.Contact); contact != "" {
		order.Contact = &contact
	}

	total := decimal.Zero
	for i, line := range input.Lines {
		lineTotal := line.Subtotal()
		total = total.Add(lineTotal)
		order.Lines = append(order.Lines, models.OrderLine{
			ID:            uuid.New(),
			OrderID:       orderID,
			Position:      i,
			ProductID:     line.ProductID,
			Name:          line.Name,
			UnitPrice:     line.UnitPrice,
			DiscountPrice: line.DiscountPrice,
			Quantity:      line.Quantity,
			LineTotal:     lineTotal,
		})
	}
	order.Total = total
	order.Timeline = []models.OrderStatusEvent{{
		ID:         uuid.New(),
		OrderID:    orderID,
		Status:     status,
		Note:       "order placed",
		OccurredAt: now,
	}}
	return order
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) ListByOwner(ctx context.Context, ownerKey string, params pagination.Params) (*OrderList, error) {
	if strings.TrimSpace(ownerKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner key required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.ListByOwner(ctx, ownerKey, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	list := &OrderList{Orders: make([]OrderDetail, 0, len(rows))}
	for i := range rows {
		list.Orders = append(list.Orders, ToDetail(&rows[i]))
	}
	if next != nil {
		list.NextCursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, to enums.OrderStatus, note string) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": "unknown status"})
	}
	ctx = s.logg.WithOrderID(ctx, id.String())

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		from := order.Status
		if !from.CanTransitionTo(to) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", from, to)).
				WithDetails(map[string]any{"from": from, "to": to})
		}

		now := s.now().UTC()
		moved, err := repo.UpdateStatus(ctx, id, from, to, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order status changed concurrently")
		}

		event := models.OrderStatusEvent{
			ID:         uuid.New(),
			OrderID:    id,
			Status:     to,
			Note:       strings.TrimSpace(note),
			OccurredAt: now,
		}
		if err := repo.AppendTimeline(ctx, &event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order timeline")
		}

		order.Status = to
		order.UpdatedAt = now
		order.Timeline = append(order.Timeline, event)

		contact := ""
		if order.Contact != nil {
			contact = *order.Contact
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   id,
			Actor:         &outbox.ActorRef{Role: string(enums.ShopperRoleOperator)},
			Data: payloads.OrderStatusChangedEvent{
				OrderID:   id,
				OwnerKey:  order.OwnerKey,
				Contact:   contact,
				From:      from,
				To:        to,
				Note:      event.Note,
				ChangedAt: now,
			},
			OccurredAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status change")
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, fmt.Sprintf("order status changed to %s", to))
	return updated, nil
}

func paymentReference(ref *string) string {
	if ref == nil {
		return ""
	}
	return strings.TrimSpace(*ref)
}

func actorFor(owner identity.Owner) *outbox.ActorRef {
	actor := &outbox.ActorRef{OwnerKey: owner.Key}
	if owner.Authenticated {
		userID := owner.UserID
		actor.UserID = &userID
		actor.Role = string(enums.ShopperRoleCustomer)
	}
	return actor
}

func placedEvent(order *models.Order) payloads.OrderPlacedEvent {
	event := payloads.OrderPlacedEvent{
		OrderID:         order.ID,
		OwnerKey:        order.OwnerKey,
		Status:          order.Status,
		PaymentMethod:   order.PaymentMethod,
		Total:           order.Total,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		Lines:           make([]payloads.OrderLine, 0, len(order.Lines)),
		PlacedAt:        order.CreatedAt,
	}
	if order.Contact != nil {
		event.Contact = *order.Contact
	}
	if order.PaymentReference != nil {
		event.PaymentReference = *order.PaymentReference
	}
	for _, line := range order.Lines {
		unit := line.UnitPrice
		if line.DiscountPrice != nil {
			unit = *line.DiscountPrice
		}
		event.Lines = append(event.Lines, payloads.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: unit,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		})
	}
	return event
}
