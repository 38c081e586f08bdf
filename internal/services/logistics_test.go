package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/models"
)

func TestCreateShipment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	outcome, err := f.logistics.CreateShipment(context.Background(), order.OrderNo)
	if err != nil {
		t.Fatalf("CreateShipment() error = %v", err)
	}
	want := &ShipmentOutcome{
		OrderNo:        order.OrderNo,
		LogisticsID:    "1718501",
		PickupCode:     "F000001",
		ValidationCode: "8871",
	}
	if diff := cmp.Diff(want, outcome); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}

	stored := f.store.Order(order.OrderNo)
	if stored.Status != models.StatusShipped || stored.LogisticsID != "1718501" {
		t.Fatalf("order = %s/%q, want shipped/1718501", stored.Status, stored.LogisticsID)
	}
	if stored.ShippedAt == nil {
		t.Fatal("expected shipped_at to be set")
	}
	if f.store.ShipmentClaimed(order.OrderNo) {
		t.Fatal("claim should be cleared once the shipment is recorded")
	}
	if diff := cmp.Diff([]string{order.OrderNo}, f.notifier.shipped); diff != "" {
		t.Fatalf("shipment emails mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateShipmentTwiceCallsGatewayOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)
	f.ship(t, order.OrderNo)

	_, err := f.logistics.CreateShipment(context.Background(), order.OrderNo)
	if !errors.Is(err, ErrAlreadyCreated) {
		t.Fatalf("second CreateShipment() error = %v, want ErrAlreadyCreated", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ErrAlreadyCreated should also match ErrConflict: %v", err)
	}
	if got := f.gateway.callCount(); got != 1 {
		t.Fatalf("gateway calls = %d, want 1", got)
	}
}

func TestCreateShipmentPreconditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   func() CreateOrderInput
		prepare func(*testing.T, *fixture, *models.Order)
		wantErr error
	}{
		{
			name:    "unpaid online order",
			input:   cvsInput,
			wantErr: ErrConflict,
		},
		{
			name:  "cancelled order",
			input: cvsInput,
			prepare: func(t *testing.T, f *fixture, order *models.Order) {
				f.setStatus(t, order.OrderNo, models.StatusCancelled)
			},
			wantErr: ErrConflict,
		},
		{
			name: "home delivery",
			input: func() CreateOrderInput {
				in := cvsInput()
				in.ShippingMethod = models.ShippingHome
				in.Receiver.Address = "No. 7, Section 5, Xinyi Road, Taipei"
				return in
			},
			prepare: func(t *testing.T, f *fixture, order *models.Order) { f.pay(t, order) },
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			order := f.createOrder(t, tt.input())
			if tt.prepare != nil {
				tt.prepare(t, f, order)
			}

			_, err := f.logistics.CreateShipment(context.Background(), order.OrderNo)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateShipment() error = %v, want %v", err, tt.wantErr)
			}
			if f.gateway.callCount() != 0 {
				t.Fatal("gateway must not be called when preconditions fail")
			}
		})
	}
}

func TestCreateShipmentCashOnDeliveryShipsUnpaid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	input := cvsInput()
	input.PaymentMethod = models.PaymentCOD
	order := f.createOrder(t, input)

	f.ship(t, order.OrderNo)
	if got := f.store.Order(order.OrderNo).Status; got != models.StatusShipped {
		t.Fatalf("status = %s, want shipped", got)
	}
}

func TestCreateShipmentUnknownOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.logistics.CreateShipment(context.Background(), "ORD20991231001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CreateShipment() error = %v, want ErrNotFound", err)
	}
}

func TestCreateShipmentGatewayFailureReleasesClaim(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	f.gateway.failWith(ecpay.ClassifyFailure("0|廠商餘額為負數，不足支付運費"))
	_, err := f.logistics.CreateShipment(context.Background(), order.OrderNo)

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("CreateShipment() error = %v, want *GatewayError", err)
	}
	if gwErr.Category != "insufficient_balance" {
		t.Fatalf("category = %q, want insufficient_balance", gwErr.Category)
	}
	if gwErr.Raw == "" {
		t.Fatal("expected raw gateway text to be preserved")
	}
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected error to match ErrGateway: %v", err)
	}

	stored := f.store.Order(order.OrderNo)
	if stored.Status != models.StatusPaid || stored.LogisticsID != "" {
		t.Fatalf("order = %s/%q, want paid without shipment", stored.Status, stored.LogisticsID)
	}
	if f.store.ShipmentClaimed(order.OrderNo) {
		t.Fatal("claim should be released after a gateway failure")
	}

	f.gateway.failWith(nil)
	f.ship(t, order.OrderNo)
	if got := f.gateway.callCount(); got != 2 {
		t.Fatalf("gateway calls = %d, want 2", got)
	}
}

func TestCreateShipmentTransportFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	f.gateway.failWith(context.DeadlineExceeded)
	_, err := f.logistics.CreateShipment(context.Background(), order.OrderNo)

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("CreateShipment() error = %v, want *GatewayError", err)
	}
	if gwErr.Category != ecpay.CategoryUnknown || !gwErr.Retryable {
		t.Fatalf("gateway error = %+v, want retryable unknown", gwErr)
	}
}

func TestCreateShipmentRecordFailureKeepsClaim(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	f.store.FailOn("RecordShipment", errors.New("connection reset"))
	if _, err := f.logistics.CreateShipment(context.Background(), order.OrderNo); err == nil {
		t.Fatal("expected error when the shipment cannot be recorded")
	}
	if !f.store.ShipmentClaimed(order.OrderNo) {
		t.Fatal("claim must survive so the shipment is not booked twice")
	}

	_, err := f.logistics.CreateShipment(context.Background(), order.OrderNo)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("retry error = %v, want ErrConflict", err)
	}
	if got := f.gateway.callCount(); got != 1 {
		t.Fatalf("gateway calls = %d, want 1", got)
	}
}

func TestCreateShipmentStuckClaimIsNeverReclaimed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	f.store.FailOn("RecordShipment", errors.New("connection reset"))
	if _, err := f.logistics.CreateShipment(ctx, order.OrderNo); err == nil {
		t.Fatal("expected error when the shipment cannot be recorded")
	}
	f.store.FailOn("RecordShipment", nil)
	f.store.SetNow(func() time.Time { return fixedNow.Add(24 * time.Hour) })

	if _, err := f.logistics.CreateShipment(ctx, order.OrderNo); !errors.Is(err, ErrConflict) {
		t.Fatalf("retry a day later error = %v, want ErrConflict", err)
	}
	if got := f.gateway.callCount(); got != 1 {
		t.Fatalf("gateway calls = %d, want 1", got)
	}
	if _, err := f.admin.SetStatus(ctx, order.OrderNo, "cancelled"); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancel with unresolved claim error = %v, want ErrConflict", err)
	}

	detail, err := f.admin.GetOrder(ctx, order.OrderNo)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if detail.Order.ShipmentClaimedAt == nil {
		t.Fatal("admin view should expose the pending shipment claim")
	}
}

func TestResolveShipmentRecordsBooking(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	f.store.FailOn("RecordShipment", errors.New("connection reset"))
	if _, err := f.logistics.CreateShipment(ctx, order.OrderNo); err == nil {
		t.Fatal("expected error when the shipment cannot be recorded")
	}
	f.store.FailOn("RecordShipment", nil)

	outcome, err := f.logistics.ResolveShipment(ctx, order.OrderNo, ResolveShipmentInput{
		LogisticsID:    " 1718501 ",
		PickupCode:     "F000001",
		ValidationCode: "8871",
	})
	if err != nil {
		t.Fatalf("ResolveShipment() error = %v", err)
	}
	want := &ShipmentOutcome{
		OrderNo:        order.OrderNo,
		LogisticsID:    "1718501",
		PickupCode:     "F000001",
		ValidationCode: "8871",
	}
	if diff := cmp.Diff(want, outcome); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}

	stored := f.store.Order(order.OrderNo)
	if stored.Status != models.StatusShipped || stored.LogisticsID != "1718501" {
		t.Fatalf("order = %s/%q, want shipped/1718501", stored.Status, stored.LogisticsID)
	}
	if f.store.ShipmentClaimed(order.OrderNo) {
		t.Fatal("claim should be cleared once the booking is recorded")
	}
	if diff := cmp.Diff([]string{order.OrderNo}, f.notifier.shipped); diff != "" {
		t.Fatalf("shipment emails mismatch (-want +got):\n%s", diff)
	}
	if got := f.gateway.callCount(); got != 1 {
		t.Fatalf("gateway calls = %d, want 1", got)
	}
}

func TestResolveShipmentReleasesClaim(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		after  func(*testing.T, *fixture, string)
		status models.OrderStatus
	}{
		{
			name: "cancel",
			after: func(t *testing.T, f *fixture, orderNo string) {
				f.setStatus(t, orderNo, models.StatusCancelled)
			},
			status: models.StatusCancelled,
		},
		{
			name: "ship again",
			after: func(t *testing.T, f *fixture, orderNo string) {
				f.ship(t, orderNo)
			},
			status: models.StatusShipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			order := f.createOrder(t, cvsInput())
			f.pay(t, order)

			f.store.FailOn("RecordShipment", errors.New("connection reset"))
			if _, err := f.logistics.CreateShipment(ctx, order.OrderNo); err == nil {
				t.Fatal("expected error when the shipment cannot be recorded")
			}
			f.store.FailOn("RecordShipment", nil)

			outcome, err := f.logistics.ResolveShipment(ctx, order.OrderNo, ResolveShipmentInput{})
			if err != nil {
				t.Fatalf("ResolveShipment() error = %v", err)
			}
			if diff := cmp.Diff(&ShipmentOutcome{OrderNo: order.OrderNo}, outcome); diff != "" {
				t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
			}
			if f.store.ShipmentClaimed(order.OrderNo) {
				t.Fatal("claim should be released")
			}

			tt.after(t, f, order.OrderNo)
			if got := f.store.Order(order.OrderNo).Status; got != tt.status {
				t.Fatalf("status = %s, want %s", got, tt.status)
			}
		})
	}
}

func TestResolveShipmentRefused(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	if _, err := f.logistics.ResolveShipment(ctx, order.OrderNo, ResolveShipmentInput{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("ResolveShipment() without claim error = %v, want ErrConflict", err)
	}

	f.ship(t, order.OrderNo)
	_, err := f.logistics.ResolveShipment(ctx, order.OrderNo, ResolveShipmentInput{LogisticsID: "1718599"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ResolveShipment() on shipped order error = %v, want ErrConflict", err)
	}
	if got := f.store.Order(order.OrderNo).LogisticsID; got != "1718501" {
		t.Fatalf("logistics id = %q, want 1718501", got)
	}

	if _, err := f.logistics.ResolveShipment(ctx, "ORD20991231001", ResolveShipmentInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ResolveShipment() unknown order error = %v, want ErrNotFound", err)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)

	if _, err := f.logistics.Label(context.Background(), order.OrderNo); !errors.Is(err, ErrConflict) {
		t.Fatalf("Label() before shipment error = %v, want ErrConflict", err)
	}

	f.ship(t, order.OrderNo)
	form, err := f.logistics.Label(context.Background(), order.OrderNo)
	if err != nil {
		t.Fatalf("Label() error = %v", err)
	}
	if form.Fields["AllPayLogisticsID"] != "1718501" || form.Fields["CVSValidationNo"] != "8871" {
		t.Fatalf("unexpected label fields: %v", form.Fields)
	}
	if form.Fields["CheckMacValue"] == "" {
		t.Fatal("label form is not signed")
	}
}

func TestLogisticsNotificationsAdvanceOrder(t *testing.T) {
	t.Parallel()

	type step struct {
		code    string
		want    LogisticsOutcome
		status  models.OrderStatus
		balance int64
	}
	tests := []struct {
		name    string
		prepare func(*testing.T, *fixture, string)
		steps   []step
	}{
		{
			name: "arrival then pickup",
			steps: []step{
				{code: "2030", want: LogisticsApplied, status: models.StatusArrived},
				{code: "2030", want: LogisticsDuplicate, status: models.StatusArrived},
				{code: "3001", want: LogisticsIgnored, status: models.StatusArrived},
				{code: "2067", want: LogisticsApplied, status: models.StatusCompleted, balance: 2},
				{code: "2067", want: LogisticsDuplicate, status: models.StatusCompleted, balance: 2},
			},
		},
		{
			name: "carrier collection moves paid to shipped",
			prepare: func(t *testing.T, f *fixture, orderNo string) {
				f.setStatus(t, orderNo, models.StatusPaid)
			},
			steps: []step{
				{code: "3001", want: LogisticsApplied, status: models.StatusShipped},
				{code: "3024", want: LogisticsDuplicate, status: models.StatusShipped},
				{code: "2030", want: LogisticsApplied, status: models.StatusArrived},
			},
		},
		{
			name: "pickup straight from shipped",
			steps: []step{
				{code: "2067", want: LogisticsApplied, status: models.StatusCompleted, balance: 2},
				{code: "2030", want: LogisticsIgnored, status: models.StatusCompleted, balance: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			order := f.createOrder(t, cvsInput())
			f.pay(t, order)
			f.ship(t, order.OrderNo)
			if tt.prepare != nil {
				tt.prepare(t, f, order.OrderNo)
			}

			for _, step := range tt.steps {
				outcome, err := f.logistics.HandleStatusNotification(ctx, logisticsFields(order.OrderNo, "1718501", step.code))
				if err != nil {
					t.Fatalf("code %s: HandleStatusNotification() error = %v", step.code, err)
				}
				if outcome != step.want {
					t.Fatalf("code %s: outcome = %q, want %q", step.code, outcome, step.want)
				}
				if got := f.store.Order(order.OrderNo).Status; got != step.status {
					t.Fatalf("code %s: status = %s, want %s", step.code, got, step.status)
				}
				if got := f.store.Points(testMember); got != step.balance {
					t.Fatalf("code %s: points = %d, want %d", step.code, got, step.balance)
				}
			}
		})
	}
}

func TestLogisticsNotificationReturned(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)
	f.ship(t, order.OrderNo)

	outcome, err := f.logistics.HandleStatusNotification(context.Background(), logisticsFields(order.OrderNo, "1718501", "2073"))
	if err != nil || outcome != LogisticsApplied {
		t.Fatalf("HandleStatusNotification() = %q, %v; want applied", outcome, err)
	}
	if got := f.store.Order(order.OrderNo).Status; got != models.StatusReturned {
		t.Fatalf("status = %s, want returned", got)
	}
	if got := f.store.Stock(models.ItemRef{ProductID: 1}); got != 7 {
		t.Fatalf("returned parcel must not restock automatically, stock = %d", got)
	}
}

func TestLogisticsNotificationIgnoredAndRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields func(orderNo string) map[string]string
		want   LogisticsOutcome
	}{
		{
			name:   "unmapped code",
			fields: func(orderNo string) map[string]string { return logisticsFields(orderNo, "1718501", "300") },
			want:   LogisticsIgnored,
		},
		{
			name:   "unknown shipment",
			fields: func(orderNo string) map[string]string { return logisticsFields(orderNo, "9999999", "2067") },
			want:   LogisticsIgnored,
		},
		{
			name: "missing logistics id",
			fields: func(orderNo string) map[string]string {
				return logisticsFields(orderNo, "", "2067")
			},
			want: LogisticsIgnored,
		},
		{
			name: "tampered signature",
			fields: func(orderNo string) map[string]string {
				fields := logisticsFields(orderNo, "1718501", "2030")
				fields["RtnCode"] = "2067"
				return fields
			},
			want: LogisticsRejected,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			order := f.createOrder(t, cvsInput())
			f.pay(t, order)
			f.ship(t, order.OrderNo)

			outcome, err := f.logistics.HandleStatusNotification(context.Background(), tt.fields(order.OrderNo))
			if err != nil {
				t.Fatalf("HandleStatusNotification() error = %v", err)
			}
			if outcome != tt.want {
				t.Fatalf("outcome = %q, want %q", outcome, tt.want)
			}
			if got := f.store.Order(order.OrderNo).Status; got != models.StatusShipped {
				t.Fatalf("status = %s, want shipped", got)
			}
			if got := f.store.Points(testMember); got != 0 {
				t.Fatalf("points = %d, want 0", got)
			}
		})
	}
}

func TestLogisticsNotificationStoreFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.createOrder(t, cvsInput())
	f.pay(t, order)
	f.ship(t, order.OrderNo)
	f.store.FailOn("TransitionStatus", errors.New("connection reset"))

	outcome, err := f.logistics.HandleStatusNotification(context.Background(), logisticsFields(order.OrderNo, "1718501", "2030"))
	if err == nil || outcome != LogisticsFailed {
		t.Fatalf("HandleStatusNotification() = %q, %v; want failed with error", outcome, err)
	}
}
