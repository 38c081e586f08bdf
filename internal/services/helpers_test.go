package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sky940714/shophub/internal/crypto"
	"github.com/sky940714/shophub/internal/db/dbtest"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/observability"
)

const testMember int64 = 7

var (
	testPayment   = ecpay.Credentials{MerchantID: "3002607", HashKey: "pwFHCqoQZGmho4w6", HashIV: "EkRm7iFT261dpevs"}
	testLogistics = ecpay.Credentials{MerchantID: "2000132", HashKey: "5294y06JbISpM5x9", HashIV: "v77hoKGq4kWxNNIS"}
	taipei        = time.FixedZone("CST", 8*60*60)
	fixedNow      = time.Date(2025, 12, 9, 2, 30, 0, 0, time.UTC)
	orderDay      = time.Date(2025, 12, 9, 0, 0, 0, 0, taipei)
)

type fixture struct {
	store     *dbtest.Store
	client    *ecpay.Client
	gateway   *fakeLogistics
	notifier  *recordingNotifier
	metrics   *observability.Metrics
	orders    *OrderService
	admin     *AdminService
	payments  *PaymentService
	logistics *LogisticsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	client, err := ecpay.NewClient(ecpay.Config{
		Mode:        ecpay.ModeStage,
		Payment:     testPayment,
		Logistics:   testLogistics,
		BaseURL:     "https://shop.example.com",
		StoreName:   "ShopHub",
		SenderName:  "ShopHub",
		SenderPhone: "0912345678",
		Timeout:     time.Second,
		Location:    taipei,
	}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create gateway client: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	store := dbtest.New()
	store.SetNow(func() time.Time { return fixedNow })
	store.SeedMember(testMember, 0)
	store.SeedMember(8, 0)
	store.SeedProduct(1, 10)
	store.SeedProduct(2, 5)
	store.SeedVariant(11, 3)

	metrics := observability.NewMetrics()
	logger := logging.Discard()
	inventory := NewInventoryLedger(metrics)
	points := NewPointLedger()
	numberer := NewOrderNumberer("ORD", taipei)
	numberer.now = func() time.Time { return fixedNow }

	gateway := &fakeLogistics{Client: client}
	notifier := &recordingNotifier{}

	f := &fixture{
		store:     store,
		client:    client,
		gateway:   gateway,
		notifier:  notifier,
		metrics:   metrics,
		orders:    NewOrderService(store, numberer, inventory, points, client, encryptor, 100, metrics, logger),
		admin:     NewAdminService(store, inventory, points, encryptor, metrics, logger),
		payments:  NewPaymentService(store, client, notifier, false, metrics, logger),
		logistics: NewLogisticsService(store, gateway, inventory, points, notifier, time.Second, metrics, logger),
	}
	f.payments.now = func() time.Time { return fixedNow }
	return f
}

// cvsInput is a convenience-store order for testMember: three units of
// product 1 at 50 and one unit of product 2 at 100.
func cvsInput() CreateOrderInput {
	return CreateOrderInput{
		MemberID: testMember,
		Receiver: models.Receiver{
			Name:      "王小明",
			Phone:     "0911222333",
			Email:     "buyer@example.com",
			StoreID:   "131386",
			StoreName: "7-ELEVEN Xinyi",
		},
		ShippingMethod:  models.ShippingCVS,
		ShippingSubType: "UNIMART",
		PaymentMethod:   models.PaymentCredit,
		InvoiceType:     models.InvoicePersonal,
		Subtotal:        250,
		Items: []CreateOrderItem{
			{ProductID: 1, Quantity: 3, Price: 50, Name: "Socks"},
			{ProductID: 2, Quantity: 1, Price: 100, Name: "Cap"},
		},
	}
}

func (f *fixture) createOrder(t *testing.T, input CreateOrderInput) *models.Order {
	t.Helper()

	result, err := f.orders.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return result.Order
}

func (f *fixture) setStatus(t *testing.T, orderNo string, status models.OrderStatus) {
	t.Helper()

	if _, err := f.admin.SetStatus(context.Background(), orderNo, string(status)); err != nil {
		t.Fatalf("SetStatus(%s) error = %v", status, err)
	}
}

func (f *fixture) pay(t *testing.T, order *models.Order) {
	t.Helper()

	outcome, err := f.payments.HandleNotification(context.Background(), paymentFields(order.OrderNo, order.Total))
	if err != nil || outcome != PaymentApplied {
		t.Fatalf("HandleNotification() = %q, %v; want applied", outcome, err)
	}
}

func (f *fixture) ship(t *testing.T, orderNo string) {
	t.Helper()

	if _, err := f.logistics.CreateShipment(context.Background(), orderNo); err != nil {
		t.Fatalf("CreateShipment() error = %v", err)
	}
}

func paymentFields(orderNo string, amount int64) map[string]string {
	fields := map[string]string{
		"MerchantID":           testPayment.MerchantID,
		"MerchantTradeNo":      orderNo,
		"StoreID":              "",
		"RtnCode":              "1",
		"RtnMsg":               "交易成功",
		"TradeNo":              "2512091035001234",
		"TradeAmt":             strconv.FormatInt(amount, 10),
		"PaymentDate":          "2025/12/09 10:35:00",
		"PaymentType":          "Credit_CreditCard",
		"PaymentTypeChargeFee": "8",
		"TradeDate":            "2025/12/09 10:31:00",
		"SimulatePaid":         "0",
	}
	return signPayment(fields)
}

func signPayment(fields map[string]string) map[string]string {
	fields["CheckMacValue"] = ecpay.CheckMacValue(fields, testPayment.HashKey, testPayment.HashIV, ecpay.HashSHA256)
	return fields
}

func logisticsFields(orderNo, logisticsID, code string) map[string]string {
	fields := map[string]string{
		"MerchantID":        testLogistics.MerchantID,
		"MerchantTradeNo":   orderNo,
		"RtnCode":           code,
		"RtnMsg":            "status update",
		"AllPayLogisticsID": logisticsID,
		"GoodsAmount":       "310",
		"UpdateStatusDate":  "2025/12/11 14:20:00",
	}
	fields["CheckMacValue"] = ecpay.CheckMacValue(fields, testLogistics.HashKey, testLogistics.HashIV, ecpay.HashMD5)
	return fields
}

// fakeLogistics answers shipment creation locally and delegates signing and
// parsing to the real client.
type fakeLogistics struct {
	*ecpay.Client

	mu     sync.Mutex
	calls  int
	err    error
	nextID int
}

func (g *fakeLogistics) CreateShipment(_ context.Context, order *models.Order) (*ecpay.ShipmentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	g.nextID++
	shipment := models.Shipment{
		LogisticsID:    fmt.Sprintf("17185%02d", g.nextID),
		PickupCode:     "F000" + order.OrderNo[len(order.OrderNo)-3:],
		ValidationCode: "8871",
	}
	return &ecpay.ShipmentResult{Shipment: shipment, Raw: "1|AllPayLogisticsID=" + shipment.LogisticsID}, nil
}

func (g *fakeLogistics) failWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeLogistics) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	payments []string
	shipped  []string
}

func (n *recordingNotifier) PaymentReceived(_ context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, order.OrderNo)
	return nil
}

func (n *recordingNotifier) ShipmentCreated(_ context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shipped = append(n.shipped, order.OrderNo)
	return nil
}
