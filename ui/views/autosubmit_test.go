package views

import (
	"context"
	"strings"
	"testing"
)

func TestPaymentRedirect(t *testing.T) {
	t.Parallel()

	form := GatewayForm{
		ActionURL: "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5",
		Fields: map[string]string{
			"TotalAmount":     "310",
			"MerchantTradeNo": "ORD20251209001",
			"ItemName":        `Socks x 3#"Cap" <b>`,
		},
	}

	var b strings.Builder
	if err := PaymentRedirect("ShopHub", form).Render(context.Background(), &b); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	html := b.String()

	for _, want := range []string{
		`<title>Redirecting to payment | ShopHub</title>`,
		`action="https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"`,
		`name="TotalAmount" value="310"`,
		`document.getElementById("gateway-form").submit()`,
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("page missing %q:\n%s", want, html)
		}
	}
	if strings.Contains(html, "<b>") {
		t.Fatal("field values must be escaped")
	}

	itemName := strings.Index(html, `name="ItemName"`)
	tradeNo := strings.Index(html, `name="MerchantTradeNo"`)
	total := strings.Index(html, `name="TotalAmount"`)
	if !(itemName < tradeNo && tradeNo < total) {
		t.Fatal("expected fields in name order")
	}
}

func TestShippingLabel(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	form := GatewayForm{ActionURL: "https://logistics-stage.ecpay.com.tw/Express/PrintUniMartC2COrderInfo", Fields: map[string]string{"AllPayLogisticsID": "1718501"}}
	if err := ShippingLabel("ORD20251209001", form).Render(context.Background(), &b); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(b.String(), "Shipping label ORD20251209001") {
		t.Fatalf("unexpected page:\n%s", b.String())
	}
}
