package ecpay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sky940714/shophub/internal/models"
)

const (
	PaymentCallbackPath   = "/api/ecpay/callback"
	LogisticsCallbackPath = "/api/ecpay/logistics-callback"

	// Acknowledgments the gateway expects verbatim.
	AckOK       = "1|OK"
	AckRejected = "0|ErrorMessage"

	maxItemNameLength = 400
)

// ErrIntegrity reports a notification whose CheckMacValue or merchant does
// not match ours.
var ErrIntegrity = errors.New("ecpay: integrity check failed")

// FieldError reports a required notification field that is missing or
// malformed.
type FieldError struct {
	Field string
	Value string
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("ecpay: missing field %s", e.Field)
	}
	return fmt.Sprintf("ecpay: malformed field %s=%q", e.Field, e.Value)
}

// Form is an auto-submitted POST the browser sends to the gateway.
type Form struct {
	ActionURL string            `json:"action_url"`
	Fields    map[string]string `json:"fields"`
}

// CheckoutForm builds the all-in-one checkout fields for an order.
func (c *Client) CheckoutForm(order *models.Order) (*Form, error) {
	if order == nil || order.OrderNo == "" {
		return nil, fmt.Errorf("order is required")
	}
	if order.Total <= 0 {
		return nil, fmt.Errorf("order %s has no payable amount", order.OrderNo)
	}

	fields := map[string]string{
		"MerchantID":        c.cfg.Payment.MerchantID,
		"MerchantTradeNo":   order.OrderNo,
		"MerchantTradeDate": c.tradeDate(),
		"PaymentType":       "aio",
		"TotalAmount":       strconv.FormatInt(order.Total, 10),
		"TradeDesc":         tradeDescription(c.cfg.StoreName),
		"ItemName":          itemName(order),
		"ReturnURL":         c.callbackURL(PaymentCallbackPath),
		"ChoosePayment":     choosePayment(order.PaymentMethod),
		"EncryptType":       "1",
	}
	if c.cfg.ClientBackURL != "" {
		fields["ClientBackURL"] = c.cfg.ClientBackURL
	}
	fields[checkMacField] = CheckMacValue(fields, c.cfg.Payment.HashKey, c.cfg.Payment.HashIV, HashSHA256)

	return &Form{ActionURL: c.endpoints.Checkout, Fields: fields}, nil
}

func choosePayment(method models.PaymentMethod) string {
	switch method {
	case models.PaymentCredit:
		return "Credit"
	case models.PaymentATM:
		return "ATM"
	default:
		return "ALL"
	}
}

func tradeDescription(storeName string) string {
	if storeName == "" {
		return "Online order"
	}
	return storeName + " order"
}

// itemName joins line items with '#', the gateway's item separator.
func itemName(order *models.Order) string {
	if len(order.Items) == 0 {
		return "Order " + order.OrderNo
	}

	parts := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		name := strings.ReplaceAll(item.ProductName, "#", " ")
		if item.VariantName != "" {
			name += " (" + strings.ReplaceAll(item.VariantName, "#", " ") + ")"
		}
		parts = append(parts, fmt.Sprintf("%s x %d", name, item.Quantity))
	}
	joined := strings.Join(parts, "#")
	if utf8.RuneCountInString(joined) > maxItemNameLength {
		runes := []rune(joined)
		joined = string(runes[:maxItemNameLength-3]) + "..."
	}
	return joined
}

// PaymentNotification is the verified body of a checkout ReturnURL call.
type PaymentNotification struct {
	MerchantID      string
	MerchantTradeNo string
	TradeNo         string
	RtnCode         int
	RtnMsg          string
	TradeAmount     int64
	PaymentType     string
	PaymentDate     time.Time
	Simulated       bool
	Fields          map[string]string
}

func (n *PaymentNotification) Succeeded() bool {
	return n.RtnCode == 1
}

// ParsePaymentNotification authenticates fields and decodes the ones the
// order engine relies on. Unknown fields are ignored.
func (c *Client) ParsePaymentNotification(fields map[string]string) (*PaymentNotification, error) {
	if !VerifyCheckMacValue(fields, c.cfg.Payment.HashKey, c.cfg.Payment.HashIV, HashSHA256) {
		return nil, fmt.Errorf("%w: CheckMacValue mismatch", ErrIntegrity)
	}
	if merchant := fields["MerchantID"]; merchant != c.cfg.Payment.MerchantID {
		return nil, fmt.Errorf("%w: unexpected merchant %q", ErrIntegrity, merchant)
	}

	n := &PaymentNotification{
		MerchantID:      fields["MerchantID"],
		MerchantTradeNo: strings.TrimSpace(fields["MerchantTradeNo"]),
		TradeNo:         strings.TrimSpace(fields["TradeNo"]),
		RtnMsg:          fields["RtnMsg"],
		PaymentType:     fields["PaymentType"],
		Simulated:       fields["SimulatePaid"] == "1",
		Fields:          fields,
	}
	if n.MerchantTradeNo == "" {
		return nil, &FieldError{Field: "MerchantTradeNo"}
	}

	code, err := requiredInt(fields, "RtnCode")
	if err != nil {
		return nil, err
	}
	n.RtnCode = int(code)

	if n.Succeeded() {
		if n.TradeAmount, err = requiredInt(fields, "TradeAmt"); err != nil {
			return nil, err
		}
	}
	if raw := strings.TrimSpace(fields["PaymentDate"]); raw != "" {
		if paidAt, err := time.ParseInLocation("2006/01/02 15:04:05", raw, c.cfg.Location); err == nil {
			n.PaymentDate = paidAt
		}
	}
	return n, nil
}

func requiredInt(fields map[string]string, name string) (int64, error) {
	raw := strings.TrimSpace(fields[name])
	if raw == "" {
		return 0, &FieldError{Field: name}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &FieldError{Field: name, Value: raw}
	}
	return v, nil
}
