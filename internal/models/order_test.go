package models

import (
	"testing"
	"time"
)

func TestFormatOrderNo(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 12, 9, 23, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		seq  int64
		want string
	}{
		{name: "first of day", seq: 1, want: "ORD20251209001"},
		{name: "padded", seq: 42, want: "ORD20251209042"},
		{name: "full width", seq: 999, want: "ORD20251209999"},
		{name: "past padded width widens", seq: 1000, want: "ORD202512091000"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := FormatOrderNo("ORD", day, tt.seq); got != tt.want {
				t.Fatalf("FormatOrderNo() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	t.Parallel()

	for _, status := range OrderStatuses() {
		got, ok := ParseOrderStatus(string(status))
		if !ok || got != status {
			t.Fatalf("expected %q to parse, got %q %v", status, got, ok)
		}
	}
	if _, ok := ParseOrderStatus("delivered"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestPaymentMethodOnline(t *testing.T) {
	t.Parallel()

	if !PaymentCredit.Online() || !PaymentATM.Online() {
		t.Fatal("expected gateway methods to be online")
	}
	if PaymentCOD.Online() || PaymentStorePay.Online() {
		t.Fatal("expected offline methods to skip the gateway")
	}
}

func TestPointsForSubtotal(t *testing.T) {
	t.Parallel()

	tests := map[int64]int64{0: 0, 99: 0, 100: 1, 250: 2, 1999: 19, -5: 0}
	for subtotal, want := range tests {
		if got := PointsForSubtotal(subtotal); got != want {
			t.Fatalf("PointsForSubtotal(%d) = %d, want %d", subtotal, got, want)
		}
	}
}

func TestShippableStatuses(t *testing.T) {
	t.Parallel()

	if ContainsStatus(ShippableStatuses(PaymentCredit), StatusPending) {
		t.Fatal("prepaid orders must be paid before shipping")
	}
	if !ContainsStatus(ShippableStatuses(PaymentCOD), StatusPending) {
		t.Fatal("cash on delivery orders ship while pending")
	}
}

func TestLogisticsPredecessors(t *testing.T) {
	t.Parallel()

	if !ContainsStatus(LogisticsPredecessors(StatusCompleted), StatusArrived) {
		t.Fatal("expected arrived -> completed")
	}
	if ContainsStatus(LogisticsPredecessors(StatusShipped), StatusCancelled) {
		t.Fatal("cancelled orders must not be revived by carrier updates")
	}
	if len(LogisticsPredecessors(StatusRefunded)) != 0 {
		t.Fatal("logistics updates never refund")
	}
}
