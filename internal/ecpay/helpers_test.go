package ecpay

import (
	"testing"
	"time"

	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/models"
)

var (
	testPayment   = Credentials{MerchantID: "3002607", HashKey: "pwFHCqoQZGmho4w6", HashIV: "EkRm7iFT261dpevs"}
	testLogistics = Credentials{MerchantID: "2000132", HashKey: "5294y06JbISpM5x9", HashIV: "v77hoKGq4kWxNNIS"}
	taipei        = time.FixedZone("CST", 8*60*60)
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Mode:        ModeStage,
		Payment:     testPayment,
		Logistics:   testLogistics,
		BaseURL:     "https://shop.example.com/",
		StoreName:   "ShopHub",
		SenderName:  "ShopHub",
		SenderPhone: "0912345678",
		Timeout:     2 * time.Second,
		Location:    taipei,
	}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	client.now = func() time.Time { return time.Date(2025, 12, 9, 2, 30, 0, 0, time.UTC) }
	return client
}

func testOrder() *models.Order {
	return &models.Order{
		OrderNo:         "ORD20251209001",
		MemberID:        7,
		ShippingMethod:  models.ShippingCVS,
		ShippingSubType: "UNIMART",
		PaymentMethod:   models.PaymentCredit,
		PaymentStatus:   models.PaymentPaid,
		Status:          models.StatusPaid,
		Subtotal:        450,
		ShippingFee:     60,
		Total:           510,
		Receiver: models.Receiver{
			Name:    "王小明",
			Phone:   "0911222333",
			Email:   "buyer@example.com",
			StoreID: "131386",
		},
		Items: []models.OrderItem{
			{ProductName: "Linen Shirt", VariantName: "M", Quantity: 1, Price: 300},
			{ProductName: "Socks", Quantity: 3, Price: 50},
		},
	}
}

func signed(fields map[string]string, creds Credentials, method HashMethod) map[string]string {
	fields[checkMacField] = CheckMacValue(fields, creds.HashKey, creds.HashIV, method)
	return fields
}
