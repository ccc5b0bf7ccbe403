package notifications

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// OrderSnapshot is the order as it appears in messages.
type OrderSnapshot struct {
	OrderID         uuid.UUID
	Status          enums.OrderStatus
	PaymentMethod   enums.PaymentMethod
	Total           decimal.Decimal
	Currency        string
	ShippingAddress types.Address
	Lines           []payloads.OrderLine
	PlacedAt        time.Time
}

// SnapshotFromPlaced maps an order_placed payload.
func SnapshotFromPlaced(evt payloads.OrderPlacedEvent) OrderSnapshot {
	return OrderSnapshot{
		OrderID:         evt.OrderID,
		Status:          evt.Status,
		PaymentMethod:   evt.PaymentMethod,
		Total:           evt.Total,
		Currency:        evt.Currency,
		ShippingAddress: evt.ShippingAddress,
		Lines:           evt.Lines,
		PlacedAt:        evt.PlacedAt,
	}
}

// TemplateData is what message templates render from.
type TemplateData struct {
	StoreName   string
	OrderID     string
	OrderURL    string
	StatusLabel string
	Total       string
	Lines       []payloads.OrderLine
	ShipTo      string
	PaymentNote string
	Note        string
	Alert       *payloads.PaymentReconciliationRequiredEvent
}

// Message is a rendered notification ready for a sender.
type Message struct {
	Type    enums.NotificationType
	Subject string
	Body    string
	Link    *string
	EventID *uuid.UUID
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) messageTemplate {
	funcs := template.FuncMap{"money": func(d decimal.Decimal) string { return d.StringFixed(2) }}
	return messageTemplate{
		subject: template.Must(template.New(name + "_subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New(name + "_body").Funcs(funcs).Parse(body)),
	}
}

var (
	buyerConfirmation = mustTemplate("buyer_confirmation",
		`{{.StoreName}}: order {{.OrderID}} confirmed`,
		`Thank you for your order.

Order: {{.OrderID}}
Status: {{.StatusLabel}}
{{range .Lines}}- {{.Name}} x{{.Quantity}}  {{money .LineTotal}}
{{end}}Total: {{.Total}}
{{if .PaymentNote}}{{.PaymentNote}}
{{end}}Shipping to: {{.ShipTo}}

Track your order at {{.OrderURL}}
`)

	operatorNewOrder = mustTemplate("operator_new_order",
		`New order {{.OrderID}} ({{.Total}})`,
		`A new order was placed.

Order: {{.OrderID}}
Status: {{.StatusLabel}}
Total: {{.Total}}
{{range .Lines}}- {{.Name}} x{{.Quantity}}
{{end}}Ship to: {{.ShipTo}}
{{.OrderURL}}
`)

	buyerStatusChange = mustTemplate("buyer_status_change",
		`{{.StoreName}}: order {{.OrderID}} is now {{.StatusLabel}}`,
		`Your order {{.OrderID}} is now: {{.StatusLabel}}.
{{if .Note}}
{{.Note}}
{{end}}
Track your order at {{.OrderURL}}
`)

	operatorReconciliation = mustTemplate("operator_reconciliation",
		`Payment {{.Alert.IntentRef}} needs reconciliation`,
		`A captured payment could not be turned into an order.

Intent: {{.Alert.IntentRef}}
Receipt: {{.Alert.Receipt}}
Amount: {{money .Alert.Amount}} {{.Alert.Currency}}
Ledger status: {{.Alert.Status}}
Attempts: {{.Alert.Attempts}}
{{if .Alert.LastError}}Last error: {{.Alert.LastError}}
{{end}}`)
)

func (t messageTemplate) render(data TemplateData) (string, string, error) {
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}

func formatTotal(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(2), strings.ToUpper(currency))
}
