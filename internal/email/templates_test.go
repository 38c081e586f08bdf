package email

import (
	"context"
	"strings"
	"testing"
)

type recordingProvider struct {
	sent []*Email
}

func (p *recordingProvider) SendEmail(_ context.Context, email *Email) error {
	p.sent = append(p.sent, email)
	return nil
}

func (p *recordingProvider) ValidateAPIKey(context.Context) error {
	return nil
}

func sampleInfo() *OrderInfo {
	return &OrderInfo{
		OrderNumber:   "ORD20251209001",
		OrderDate:     "2025-12-09",
		CustomerName:  "Chen <script>",
		CustomerEmail: "buyer@example.com",
		StoreName:     "ShopHub",
		PaymentMethod: "Credit card",
		Items: []OrderItem{
			{Name: "Linen Shirt", Options: "M", Quantity: 1, TotalPrice: "NT$300"},
		},
		Subtotal:    "NT$300",
		Shipping:    "NT$60",
		Total:       "NT$360",
		PickupStore: "7-ELEVEN Xinyi",
		PickupCode:  "F0001234",
		LogisticsID: "1718546",
	}
}

func TestRenderPaymentReceived(t *testing.T) {
	t.Parallel()

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	msg, err := renderer.Render(context.Background(), TemplatePaymentReceived, sampleInfo())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if msg.To != "buyer@example.com" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if msg.Subject != "Payment received - ORD20251209001 - ShopHub" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "Linen Shirt (M) x1 - NT$300") {
		t.Fatalf("text body missing line item:\n%s", msg.Text)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatal("expected customer name to be escaped in HTML body")
	}
	if !strings.Contains(msg.HTML, "Chen &lt;script&gt;") {
		t.Fatalf("expected escaped customer name in HTML body")
	}
}

func TestRenderShipmentCreated(t *testing.T) {
	t.Parallel()

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	msg, err := renderer.Render(context.Background(), TemplateShipmentCreated, sampleInfo())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"7-ELEVEN Xinyi", "Pickup code: F0001234", "Shipment: 1718546"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("text body missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	t.Parallel()

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	if _, err := renderer.Render(context.Background(), "order_delivered", sampleInfo()); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestSendSkipsWithoutProviderOrRecipient(t *testing.T) {
	t.Parallel()

	if err := Send(context.Background(), nil, TemplatePaymentReceived, sampleInfo()); err != nil {
		t.Fatalf("Send() with nil provider error = %v", err)
	}

	provider := &recordingProvider{}
	info := sampleInfo()
	info.CustomerEmail = ""
	if err := Send(context.Background(), provider, TemplatePaymentReceived, info); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(provider.sent) != 0 {
		t.Fatalf("expected no email without recipient, got %d", len(provider.sent))
	}

	if err := Send(context.Background(), provider, TemplateShipmentCreated, sampleInfo()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(provider.sent))
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(Config{Provider: "none"})
	if err != nil || p != nil {
		t.Fatalf("NewProvider(none) = %v, %v; want nil, nil", p, err)
	}
	if _, err := NewProvider(Config{Provider: "resend"}); err == nil {
		t.Fatal("expected error for resend without credentials")
	}
	if _, err := NewProvider(Config{Provider: "postmark", APIKey: "k", From: "a@b.c"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	p, err = NewProvider(Config{Provider: "resend", APIKey: "re_test", From: "shop@example.com"})
	if err != nil {
		t.Fatalf("NewProvider(resend) error = %v", err)
	}
	if _, ok := p.(*ResendProvider); !ok {
		t.Fatalf("expected *ResendProvider, got %T", p)
	}
}
