package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusPaid            OrderStatus = "paid"
	StatusShipped         OrderStatus = "shipped"
	StatusArrived         OrderStatus = "arrived"
	StatusCompleted       OrderStatus = "completed"
	StatusCancelled       OrderStatus = "cancelled"
	StatusReturnRequested OrderStatus = "return_requested"
	StatusReturned        OrderStatus = "returned"
	StatusRefunded        OrderStatus = "refunded"
)

var orderStatuses = []OrderStatus{
	StatusPending,
	StatusPaid,
	StatusShipped,
	StatusArrived,
	StatusCompleted,
	StatusCancelled,
	StatusReturnRequested,
	StatusReturned,
	StatusRefunded,
}

// OrderStatuses lists every enumerated status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	for _, status := range orderStatuses {
		if string(status) == raw {
			return status, true
		}
	}
	return "", false
}

func (s OrderStatus) Valid() bool {
	_, ok := ParseOrderStatus(string(s))
	return ok
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type PaymentMethod string

const (
	PaymentCredit   PaymentMethod = "Credit"
	PaymentATM      PaymentMethod = "ATM"
	PaymentCOD      PaymentMethod = "cod"
	PaymentStorePay PaymentMethod = "store_pay"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCredit, PaymentATM, PaymentCOD, PaymentStorePay:
		return true
	default:
		return false
	}
}

// Online reports whether the buyer settles through the gateway checkout.
// Cash on delivery and pay-at-store orders never produce checkout params.
func (m PaymentMethod) Online() bool {
	return m == PaymentCredit || m == PaymentATM
}

type ShippingMethod string

const (
	ShippingCVS    ShippingMethod = "cvs"
	ShippingHome   ShippingMethod = "home"
	ShippingPickup ShippingMethod = "pickup"
)

func (m ShippingMethod) Valid() bool {
	return m == ShippingCVS || m == ShippingHome || m == ShippingPickup
}

type InvoiceType string

const (
	InvoicePersonal InvoiceType = "personal"
	InvoiceCompany  InvoiceType = "company"
	InvoiceDonation InvoiceType = "donation"
)

func (t InvoiceType) Valid() bool {
	return t == InvoicePersonal || t == InvoiceCompany || t == InvoiceDonation
}

// Receiver is the shipping snapshot captured at checkout.
type Receiver struct {
	Name         string `json:"name" validate:"required,max=50"`
	Phone        string `json:"phone" validate:"required,max=20"`
	Email        string `json:"email" validate:"required,email,max=100"`
	Address      string `json:"address,omitempty" validate:"max=255"`
	StoreID      string `json:"store_id,omitempty" validate:"max=20"`
	StoreName    string `json:"store_name,omitempty" validate:"max=100"`
	StoreAddress string `json:"store_address,omitempty" validate:"max=255"`
}

type Order struct {
	ID                uuid.UUID      `json:"id"`
	OrderNo           string         `json:"order_no"`
	MemberID          int64          `json:"member_id"`
	Receiver          Receiver       `json:"receiver"`
	ShippingMethod    ShippingMethod `json:"shipping_method"`
	ShippingSubType   string         `json:"shipping_sub_type,omitempty"`
	ShippingFee       int64          `json:"shipping_fee"`
	PaymentMethod     PaymentMethod  `json:"payment_method"`
	PaymentStatus     PaymentStatus  `json:"payment_status"`
	InvoiceType       InvoiceType    `json:"invoice_type"`
	CompanyName       string         `json:"company_name,omitempty"`
	TaxID             string         `json:"tax_id,omitempty"`
	Subtotal          int64          `json:"subtotal"`
	Total             int64          `json:"total"`
	Status            OrderStatus    `json:"status"`
	GatewayTradeNo    string         `json:"gateway_trade_no,omitempty"`
	LogisticsID       string         `json:"logistics_id,omitempty"`
	PickupCode        string         `json:"pickup_code,omitempty"`
	ValidationCode    string         `json:"validation_code,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	ShippedAt         *time.Time     `json:"shipped_at,omitempty"`
	// ShipmentClaimedAt is set while a shipment booking is unresolved.
	ShipmentClaimedAt *time.Time     `json:"shipment_claimed_at,omitempty"`
	Items             []OrderItem    `json:"items,omitempty"`
}

func (o *Order) HasShipment() bool {
	return o.LogisticsID != ""
}

type OrderItem struct {
	ID           int64     `json:"id"`
	OrderID      uuid.UUID `json:"order_id"`
	ProductID    int64     `json:"product_id"`
	VariantID    int64     `json:"variant_id,omitempty"`
	ProductName  string    `json:"product_name"`
	ProductImage string    `json:"product_image,omitempty"`
	VariantName  string    `json:"variant_name,omitempty"`
	Price        int64     `json:"price"`
	Quantity     int       `json:"quantity"`
	Subtotal     int64     `json:"subtotal"`
}

func (i OrderItem) Ref() ItemRef {
	return ItemRef{ProductID: i.ProductID, VariantID: i.VariantID}
}

// ItemRef addresses a stock record. A non-zero VariantID selects the
// variant row, otherwise the product row holds the stock.
type ItemRef struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id,omitempty"`
}

func (r ItemRef) HasVariant() bool {
	return r.VariantID != 0
}

func (r ItemRef) String() string {
	if r.HasVariant() {
		return fmt.Sprintf("product %d variant %d", r.ProductID, r.VariantID)
	}
	return fmt.Sprintf("product %d", r.ProductID)
}

// FormatOrderNo renders prefix + YYYYMMDD + a sequence padded to three
// digits. Sequences past 999 widen instead of wrapping.
func FormatOrderNo(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s%s%03d", prefix, day.Format("20060102"), seq)
}

// Shipment holds the identifiers returned by the logistics gateway.
type Shipment struct {
	LogisticsID    string `json:"logistics_id"`
	PickupCode     string `json:"pickup_code"`
	ValidationCode string `json:"validation_code,omitempty"`
}

type DashboardStats struct {
	TotalProducts  int64                 `json:"total_products"`
	TotalOrders    int64                 `json:"total_orders"`
	TotalMembers   int64                 `json:"total_members"`
	TotalRevenue   int64                 `json:"total_revenue"`
	OrdersByStatus map[OrderStatus]int64 `json:"orders_by_status"`
}
