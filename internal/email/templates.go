package email

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"sync"
	texttemplate "text/template"
)

const (
	TemplatePaymentReceived = "payment_received"
	TemplateShipmentCreated = "shipment_created"
)

// OrderInfo contains all the information needed for order email templates
type OrderInfo struct {
	OrderNumber        string
	OrderDate          string
	CustomerName       string
	CustomerEmail      string
	StoreName          string
	StoreURL           string
	PaymentMethod      string
	Items              []OrderItem
	Subtotal           string
	Shipping           string
	Total              string
	ShippingAddress    string
	PickupStore        string
	PickupStoreAddress string
	LogisticsID        string
	PickupCode         string
}

// OrderItem represents a single line in an order
type OrderItem struct {
	Name       string
	Options    string
	Quantity   int
	TotalPrice string
}

type emailTemplate struct {
	subject string
	html    string
	text    string
}

var templates = map[string]emailTemplate{
	TemplatePaymentReceived: {
		subject: "Payment received - %s - %s",
		html:    paymentReceivedHTML,
		text:    paymentReceivedText,
	},
	TemplateShipmentCreated: {
		subject: "Your order is on its way - %s - %s",
		html:    shipmentCreatedHTML,
		text:    shipmentCreatedText,
	},
}

// Renderer renders the built-in order templates. HTML bodies are escaped by
// html/template.
type Renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func NewRenderer() (*Renderer, error) {
	html := htmltemplate.New("email")
	text := texttemplate.New("email")

	for key, t := range templates {
		if _, err := html.New(key).Parse(t.html); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", key, err)
		}
		if _, err := text.New(key).Parse(t.text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", key, err)
		}
	}

	return &Renderer{html: html, text: text}, nil
}

var defaultRenderer = sync.OnceValues(NewRenderer)

// Render renders an email template with the given data
func (r *Renderer) Render(_ context.Context, templateName string, data *OrderInfo) (*Email, error) {
	t, ok := templates[templateName]
	if !ok {
		return nil, fmt.Errorf("unknown email template %q", templateName)
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.ExecuteTemplate(&htmlBuf, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}
	if err := r.text.ExecuteTemplate(&textBuf, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: fmt.Sprintf(t.subject, data.OrderNumber, data.StoreName),
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
		Tags: map[string]string{
			"template": templateName,
			"order_no": data.OrderNumber,
		},
	}, nil
}

// Send renders templateName and hands it to p. A nil provider or a missing
// recipient is a no-op.
func Send(ctx context.Context, p Provider, templateName string, info *OrderInfo) error {
	if p == nil || info == nil || info.CustomerEmail == "" {
		return nil
	}

	renderer, err := defaultRenderer()
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	email, err := renderer.Render(ctx, templateName, info)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}

	return p.SendEmail(ctx, email)
}

const paymentReceivedText = `Thank you, {{.CustomerName}}! We received your payment.

Order Number: {{.OrderNumber}}
Order Date: {{.OrderDate}}
Payment: {{.PaymentMethod}}

Items:
{{range .Items}}- {{.Name}}{{if .Options}} ({{.Options}}){{end}} x{{.Quantity}} - {{.TotalPrice}}
{{end}}
Subtotal: {{.Subtotal}}
Shipping: {{.Shipping}}
Total: {{.Total}}

{{if .PickupStore}}Pickup store: {{.PickupStore}}{{if .PickupStoreAddress}}, {{.PickupStoreAddress}}{{end}}{{else if .ShippingAddress}}Shipping to: {{.ShippingAddress}}{{end}}

We'll email you again when your order ships.

{{.StoreName}}
{{.StoreURL}}
`

const paymentReceivedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Payment Received</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #2563eb; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .items-table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    .items-table th { text-align: left; padding: 10px; background: #f3f4f6; border-bottom: 2px solid #e5e7eb; }
    .items-table td { padding: 10px; border-bottom: 1px solid #e5e7eb; }
    .total { text-align: right; padding: 15px 0; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Payment Received</h1>
    <p>Thank you, {{.CustomerName}}</p>
  </div>
  <div class="content">
    <p><strong>Order Number:</strong> {{.OrderNumber}}<br>
    <strong>Order Date:</strong> {{.OrderDate}}<br>
    <strong>Payment:</strong> {{.PaymentMethod}}</p>

    <table class="items-table">
      <thead>
        <tr><th>Item</th><th>Qty</th><th>Amount</th></tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr>
          <td>{{.Name}}{{if .Options}}<br><small>{{.Options}}</small>{{end}}</td>
          <td>{{.Quantity}}</td>
          <td>{{.TotalPrice}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="total">
      <p>Subtotal: {{.Subtotal}}<br>Shipping: {{.Shipping}}<br><strong>Total: {{.Total}}</strong></p>
    </div>

    {{if .PickupStore}}<p><strong>Pickup store:</strong> {{.PickupStore}}{{if .PickupStoreAddress}}<br>{{.PickupStoreAddress}}{{end}}</p>
    {{else if .ShippingAddress}}<p><strong>Shipping to:</strong> {{.ShippingAddress}}</p>{{end}}
    <p>We'll email you again when your order ships.</p>
  </div>
  <div class="footer">
    <p>{{if .StoreURL}}<a href="{{.StoreURL}}">{{.StoreName}}</a>{{else}}{{.StoreName}}{{end}}</p>
  </div>
</body>
</html>
`

const shipmentCreatedText = `Good news, {{.CustomerName}}! Your order is on its way.

Order Number: {{.OrderNumber}}
{{if .PickupStore}}Pickup store: {{.PickupStore}}{{if .PickupStoreAddress}}, {{.PickupStoreAddress}}{{end}}
{{end}}{{if .LogisticsID}}Shipment: {{.LogisticsID}}
{{end}}{{if .PickupCode}}Pickup code: {{.PickupCode}}
{{end}}
We'll let the store know you're coming. Bring your ID when you collect the parcel.

{{.StoreName}}
{{.StoreURL}}
`

const shipmentCreatedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Shipped</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #059669; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .tracking { background: white; padding: 20px; border-radius: 6px; margin: 15px 0; border-left: 4px solid #059669; }
    .tracking-number { font-size: 24px; font-weight: bold; color: #059669; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Your Order Is On Its Way</h1>
    <p>Good news, {{.CustomerName}}!</p>
  </div>
  <div class="content">
    <p><strong>Order Number:</strong> {{.OrderNumber}}</p>
    <div class="tracking">
      {{if .PickupStore}}<p><strong>Pickup store:</strong> {{.PickupStore}}{{if .PickupStoreAddress}}<br>{{.PickupStoreAddress}}{{end}}</p>{{end}}
      {{if .PickupCode}}<p class="tracking-number">{{.PickupCode}}</p>{{end}}
      {{if .LogisticsID}}<p><small>Shipment {{.LogisticsID}}</small></p>{{end}}
    </div>
    <p>Bring your ID when you collect the parcel.</p>
  </div>
  <div class="footer">
    <p>{{if .StoreURL}}<a href="{{.StoreURL}}">{{.StoreName}}</a>{{else}}{{.StoreName}}{{end}}</p>
  </div>
</body>
</html>
`
