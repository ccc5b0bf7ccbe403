// Package notifications turns order events into buyer emails and operator alerts.
package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

type notificationMetrics interface {
	IncNotification(channel, result string)
}

// Dispatcher renders and sends notifications. Every send is best effort:
// failures are logged and counted, and returned so the caller can record
// an incomplete delivery. Nothing is retried.
type Dispatcher struct {
	email   Sender
	inApp   Sender
	cfg     config.NotificationsConfig
	metrics notificationMetrics
	logg    *logger.Logger
}

func NewDispatcher(email, inApp Sender, cfg config.NotificationsConfig, logg *logger.Logger, metrics notificationMetrics) (*Dispatcher, error) {
	if email == nil {
		return nil, fmt.Errorf("email sender required")
	}
	if inApp == nil {
		return nil, fmt.Errorf("in-app sender required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{email: email, inApp: inApp, cfg: cfg, metrics: metrics, logg: logg}, nil
}

// Deliver notifies the buyer and the operator of a new order concurrently.
// One failing channel never stops the other; the first failure is returned.
func (d *Dispatcher) Deliver(ctx context.Context, eventID uuid.UUID, contact string, snap OrderSnapshot) error {
	var g errgroup.Group
	g.Go(func() error {
		return d.NotifyBuyer(ctx, contact, snap)
	})
	g.Go(func() error {
		return d.NotifyOperator(ctx, eventID, snap)
	})
	return g.Wait()
}

// NotifyBuyer emails the order confirmation.
func (d *Dispatcher) NotifyBuyer(ctx context.Context, contact string, snap OrderSnapshot) error {
	ctx = d.logg.WithOrderID(ctx, snap.OrderID.String())
	if strings.TrimSpace(contact) == "" {
		d.logg.Warn(ctx, "order has no contact, buyer confirmation skipped")
		d.count(enums.NotificationChannelEmail, "skipped")
		return nil
	}
	data := d.orderData(snap)
	if snap.PaymentMethod == enums.PaymentMethodCOD {
		data.PaymentNote = fmt.Sprintf("Please have %s ready on delivery.", data.Total)
	}
	return d.send(ctx, d.email, contact, buyerConfirmation, data, Message{Type: enums.NotificationTypeOrderAlert})
}

// NotifyOperator raises the new-order alert in the admin inbox and, when an
// operator address is configured, by email.
func (d *Dispatcher) NotifyOperator(ctx context.Context, eventID uuid.UUID, snap OrderSnapshot) error {
	ctx = d.logg.WithOrderID(ctx, snap.OrderID.String())
	data := d.orderData(snap)
	link := fmt.Sprintf("/admin/orders/%s", snap.OrderID)
	base := Message{Type: enums.NotificationTypeOrderAlert, Link: &link, EventID: eventRef(eventID)}
	return d.sendOperator(ctx, operatorNewOrder, data, base)
}

// NotifyStatusChange emails the buyer about an operator status update.
func (d *Dispatcher) NotifyStatusChange(ctx context.Context, evt payloads.OrderStatusChangedEvent) error {
	ctx = d.logg.WithOrderID(ctx, evt.OrderID.String())
	if strings.TrimSpace(evt.Contact) == "" {
		d.count(enums.NotificationChannelEmail, "skipped")
		return nil
	}
	data := TemplateData{
		StoreName:   d.cfg.StoreName,
		OrderID:     evt.OrderID.String(),
		OrderURL:    d.orderURL(evt.OrderID),
		StatusLabel: evt.To.DisplayLabel(),
		Note:        evt.Note,
	}
	return d.send(ctx, d.email, evt.Contact, buyerStatusChange, data, Message{Type: enums.NotificationTypeOrderAlert})
}

// NotifyReconciliation alerts the operator about a captured payment with no order.
func (d *Dispatcher) NotifyReconciliation(ctx context.Context, eventID uuid.UUID, evt payloads.PaymentReconciliationRequiredEvent) error {
	ctx = d.logg.WithFields(ctx, map[string]any{"intent_ref": evt.IntentRef, "owner_key": evt.OwnerKey})
	alert := evt
	data := TemplateData{StoreName: d.cfg.StoreName, Alert: &alert}
	link := fmt.Sprintf("/admin/payments/%s", evt.IntentRef)
	base := Message{Type: enums.NotificationTypePaymentAlert, Link: &link, EventID: eventRef(eventID)}
	return d.sendOperator(ctx, operatorReconciliation, data, base)
}

func (d *Dispatcher) sendOperator(ctx context.Context, tmpl messageTemplate, data TemplateData, base Message) error {
	var g errgroup.Group
	g.Go(func() error {
		return d.send(ctx, d.inApp, "", tmpl, data, base)
	})
	if operator := strings.TrimSpace(d.cfg.OperatorEmail); operator != "" {
		g.Go(func() error {
			return d.send(ctx, d.email, operator, tmpl, data, base)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) send(ctx context.Context, sender Sender, recipient string, tmpl messageTemplate, data TemplateData, msg Message) error {
	channel := sender.Channel()
	ctx = d.logg.WithField(ctx, "channel", channel.String())
	subject, body, err := tmpl.render(data)
	if err != nil {
		d.logg.Error(ctx, "failed to render notification", err)
		d.count(channel, "failed")
		return fmt.Errorf("render %s notification: %w", channel, err)
	}
	msg.Subject = subject
	msg.Body = body
	if err := sender.Send(ctx, recipient, msg); err != nil {
		d.logg.Error(ctx, "notification delivery failed", err)
		d.count(channel, "failed")
		return fmt.Errorf("send %s notification: %w", channel, err)
	}
	d.count(channel, "sent")
	return nil
}

func (d *Dispatcher) orderData(snap OrderSnapshot) TemplateData {
	return TemplateData{
		StoreName:   d.cfg.StoreName,
		OrderID:     snap.OrderID.String(),
		OrderURL:    d.orderURL(snap.OrderID),
		StatusLabel: snap.Status.DisplayLabel(),
		Total:       formatTotal(snap.Total, snap.Currency),
		Lines:       snap.Lines,
		ShipTo:      snap.ShippingAddress.OneLine(),
	}
}

func (d *Dispatcher) orderURL(orderID uuid.UUID) string {
	return strings.TrimRight(d.cfg.OrderURLBase, "/") + "/" + orderID.String()
}

func (d *Dispatcher) count(channel enums.NotificationChannel, result string) {
	if d.metrics != nil {
		d.metrics.IncNotification(channel.String(), result)
	}
}

func eventRef(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
