package services

import (
	"strconv"
	"strings"
	"time"

	"github.com/sky940714/shophub/internal/email"
	"github.com/sky940714/shophub/internal/models"
)

// OrderInfoOverrides carries store-level values that are not on the order.
type OrderInfoOverrides struct {
	StoreName string
	StoreURL  string
	Location  *time.Location
}

// BuildOrderInfo builds a consistent OrderInfo payload for email templates.
func BuildOrderInfo(order *models.Order, overrides OrderInfoOverrides) *email.OrderInfo {
	if order == nil {
		return &email.OrderInfo{StoreName: overrides.StoreName, StoreURL: overrides.StoreURL}
	}

	loc := overrides.Location
	if loc == nil {
		loc = time.UTC
	}
	orderDate := order.CreatedAt
	if orderDate.IsZero() {
		orderDate = time.Now()
	}

	items := make([]email.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, email.OrderItem{
			Name:       item.ProductName,
			Options:    item.VariantName,
			Quantity:   item.Quantity,
			TotalPrice: formatPrice(item.Subtotal),
		})
	}

	info := &email.OrderInfo{
		OrderNumber:   order.OrderNo,
		OrderDate:     orderDate.In(loc).Format("2006-01-02 15:04"),
		CustomerName:  strings.TrimSpace(order.Receiver.Name),
		CustomerEmail: strings.TrimSpace(order.Receiver.Email),
		StoreName:     overrides.StoreName,
		StoreURL:      overrides.StoreURL,
		PaymentMethod: paymentMethodLabel(order.PaymentMethod),
		Items:         items,
		Subtotal:      formatPrice(order.Subtotal),
		Shipping:      formatPrice(order.ShippingFee),
		Total:         formatPrice(order.Total),
		LogisticsID:   order.LogisticsID,
		PickupCode:    order.PickupCode,
	}

	switch order.ShippingMethod {
	case models.ShippingCVS:
		info.PickupStore = strings.TrimSpace(order.Receiver.StoreName)
		info.PickupStoreAddress = strings.TrimSpace(order.Receiver.StoreAddress)
	case models.ShippingHome:
		info.ShippingAddress = strings.TrimSpace(order.Receiver.Address)
	}
	return info
}

// formatPrice renders whole dollars with thousands separators, e.g. NT$1,280.
func formatPrice(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "NT$" + b.String()
}

func paymentMethodLabel(method models.PaymentMethod) string {
	switch method {
	case models.PaymentCredit:
		return "Credit card"
	case models.PaymentATM:
		return "ATM transfer"
	case models.PaymentCOD:
		return "Cash on delivery"
	case models.PaymentStorePay:
		return "Pay at store"
	default:
		return string(method)
	}
}
