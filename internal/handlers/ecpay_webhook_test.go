package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sky940714/shophub/internal/cache"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/models"
)

func TestPaymentCallback(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentCredit)
	fields := paymentFields(order.OrderNo, order.Total)

	rec := postForm(t, env.h.PaymentCallback, ecpay.PaymentCallbackPath, fields)
	if rec.Code != http.StatusOK || rec.Body.String() != ecpay.AckOK {
		t.Fatalf("unexpected ack %d %q", rec.Code, rec.Body.String())
	}
	stored := env.store.Order(order.OrderNo)
	if stored.Status != models.StatusPaid || stored.PaymentStatus != models.PaymentPaid {
		t.Fatalf("expected paid order, got %s/%s", stored.Status, stored.PaymentStatus)
	}
	if _, err := env.cache.Get(context.Background(), cache.DeliveryKey("ecpay-payment", fields)); err != nil {
		t.Fatalf("expected delivery to be remembered: %v", err)
	}

	// A replay is answered from the cache even when the store is down.
	env.store.FailOn("GetOrder", errors.New("connection refused"))
	rec = postForm(t, env.h.PaymentCallback, ecpay.PaymentCallbackPath, fields)
	if rec.Code != http.StatusOK || rec.Body.String() != ecpay.AckOK {
		t.Fatalf("unexpected replay ack %d %q", rec.Code, rec.Body.String())
	}
}

func TestPaymentCallbackAcknowledgesInFlightCopy(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentCredit)
	fields := paymentFields(order.OrderNo, order.Total)
	key := cache.DeliveryKey("ecpay-payment", fields)
	if _, err := env.cache.Claim(context.Background(), key, deliveryProcessing, time.Minute); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	for range 2 {
		rec := postForm(t, env.h.PaymentCallback, ecpay.PaymentCallbackPath, fields)
		if rec.Code != http.StatusOK || rec.Body.String() != ecpay.AckOK {
			t.Fatalf("unexpected ack %d %q", rec.Code, rec.Body.String())
		}
		if got := env.store.Order(order.OrderNo).Status; got != models.StatusPaid {
			t.Fatalf("in-flight copy left status %s, want paid", got)
		}
	}

	got, err := env.cache.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != deliveryProcessing {
		t.Fatalf("copy must leave the owner's claim alone, cache value = %q", got)
	}
}

func TestPaymentCallbackInFlightCopyFailureKeepsClaim(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentCredit)
	fields := paymentFields(order.OrderNo, order.Total)
	key := cache.DeliveryKey("ecpay-payment", fields)
	if _, err := env.cache.Claim(context.Background(), key, deliveryProcessing, time.Minute); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	env.store.FailOn("MarkPaid", errors.New("connection reset"))
	rec := postForm(t, env.h.PaymentCallback, ecpay.PaymentCallbackPath, fields)
	if rec.Code != http.StatusInternalServerError || rec.Body.String() != ecpay.AckRejected {
		t.Fatalf("unexpected ack %d %q", rec.Code, rec.Body.String())
	}
	if got, err := env.cache.Get(context.Background(), key); err != nil || got != deliveryProcessing {
		t.Fatalf("cache value = %q, %v; want the owner's claim", got, err)
	}
}

func TestPaymentCallbackRejectsTampering(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentCredit)
	fields := paymentFields(order.OrderNo, order.Total)
	fields["TradeAmt"] = "1"

	rec := postForm(t, env.h.PaymentCallback, ecpay.PaymentCallbackPath, fields)
	if rec.Code != http.StatusOK || rec.Body.String() != ecpay.AckRejected {
		t.Fatalf("unexpected ack %d %q", rec.Code, rec.Body.String())
	}
	if got := env.store.Order(order.OrderNo).Status; got != models.StatusPending {
		t.Fatalf("tampered notification changed status to %s", got)
	}
	if _, err := env.cache.Get(context.Background(), cache.DeliveryKey("ecpay-payment", fields)); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("rejected delivery must not be remembered, got %v", err)
	}
}

func TestPaymentCallbackAcknowledgesIgnoredNotifications(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := postForm(t, env.h.PaymentCallback, ecpay.PaymentCallbackPath, paymentFields("ORD20991231999", 310))
	if rec.Code != http.StatusOK || rec.Body.String() != ecpay.AckOK {
		t.Fatalf("unknown order must still be acknowledged, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestPaymentCallbackStoreFailureAsksForRetry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentCredit)
	fields := paymentFields(order.OrderNo, order.Total)
	env.store.FailOn("MarkPaid", errors.New("connection reset"))

	rec := postForm(t, env.h.PaymentCallback, ecpay.PaymentCallbackPath, fields)
	if rec.Code != http.StatusInternalServerError || rec.Body.String() != ecpay.AckRejected {
		t.Fatalf("unexpected ack %d %q", rec.Code, rec.Body.String())
	}
	if _, err := env.cache.Get(context.Background(), cache.DeliveryKey("ecpay-payment", fields)); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("failed delivery must not be remembered, got %v", err)
	}
}

func TestLogisticsCallbackAlwaysAcknowledges(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	order := env.createOrder(t, models.PaymentCOD)
	if _, err := env.h.logisticsService.CreateShipment(context.Background(), order.OrderNo); err != nil {
		t.Fatalf("CreateShipment() error = %v", err)
	}

	tampered := logisticsFields(order.OrderNo, "1718501", "2030")
	tampered["RtnCode"] = "2067"

	tests := []struct {
		name   string
		fields map[string]string
		want   models.OrderStatus
	}{
		{name: "tampered", fields: tampered, want: models.StatusShipped},
		{name: "unknown shipment", fields: logisticsFields(order.OrderNo, "9999999", "2030"), want: models.StatusShipped},
		{name: "unmapped code", fields: logisticsFields(order.OrderNo, "1718501", "300"), want: models.StatusShipped},
		{name: "arrived", fields: logisticsFields(order.OrderNo, "1718501", "2030"), want: models.StatusArrived},
		{name: "arrived replay", fields: logisticsFields(order.OrderNo, "1718501", "2030"), want: models.StatusArrived},
		{name: "completed", fields: logisticsFields(order.OrderNo, "1718501", "2067"), want: models.StatusCompleted},
	}
	for _, tt := range tests {
		rec := postForm(t, env.h.LogisticsCallback, ecpay.LogisticsCallbackPath, tt.fields)
		if rec.Code != http.StatusOK || rec.Body.String() != ecpay.AckOK {
			t.Fatalf("%s: unexpected ack %d %q", tt.name, rec.Code, rec.Body.String())
		}
		if got := env.store.Order(order.OrderNo).Status; got != tt.want {
			t.Fatalf("%s: status = %s, want %s", tt.name, got, tt.want)
		}
	}

	if points := env.store.Points(buyer); points != 2 {
		t.Fatalf("expected 2 points after completion, got %d", points)
	}

	env.store.FailOn("TransitionStatus", errors.New("connection reset"))
	rec := postForm(t, env.h.LogisticsCallback, ecpay.LogisticsCallbackPath, logisticsFields(order.OrderNo, "1718501", "2063"))
	if rec.Code != http.StatusOK || rec.Body.String() != ecpay.AckOK {
		t.Fatalf("store failure must still be acknowledged, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestPaymentPage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	online := env.createOrder(t, models.PaymentCredit)
	cod := env.createOrder(t, models.PaymentCOD)

	rec := serve(t, http.HandlerFunc(env.h.PaymentPage), request{
		method: http.MethodGet, target: "/api/ecpay/pay/" + online.OrderNo, vars: map[string]string{"orderNo": online.OrderNo},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{
		`name="MerchantTradeNo" value="` + online.OrderNo + `"`,
		`name="TotalAmount" value="310"`,
		`Redirecting to payment | ShopHub`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("payment page missing %q:\n%s", want, body)
		}
	}

	tests := []struct {
		name    string
		orderNo string
		want    int
	}{
		{name: "cash on delivery", orderNo: cod.OrderNo, want: http.StatusConflict},
		{name: "unknown order", orderNo: "ORD20991231999", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := serve(t, http.HandlerFunc(env.h.PaymentPage), request{
			method: http.MethodGet, target: "/api/ecpay/pay/" + tt.orderNo, vars: map[string]string{"orderNo": tt.orderNo},
		})
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}
