package ecpay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sky940714/shophub/internal/models"
)

const maxResponseBytes = 64 << 10

// Shipment failure categories that are not driven by the failure table.
const (
	CategoryGatewayRejected    = "gateway_rejected"
	CategoryUnknown            = "unknown"
	CategoryUnavailable        = "gateway_unavailable"
	CategoryUnexpectedResponse = "unexpected_response"
)

var parenthesizedDetail = regexp.MustCompile(`\(([^)]+)\)`)

// ShipmentError describes a failed shipment creation. Raw always carries the
// gateway's text so operators can diagnose categories the table misses.
type ShipmentError struct {
	Category  string
	Message   string
	Detail    string
	Raw       string
	Retryable bool
	Err       error
}

func (e *ShipmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ecpay shipment %s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("ecpay shipment %s: %s", e.Category, e.Message)
}

func (e *ShipmentError) Unwrap() error {
	return e.Err
}

type ShipmentResult struct {
	Shipment models.Shipment
	Raw      string
}

// CreateShipment submits a C2C convenience-store shipment for order. The
// gateway does not deduplicate, so callers must ensure it runs at most once
// per order.
func (c *Client) CreateShipment(ctx context.Context, order *models.Order) (*ShipmentResult, error) {
	subType, err := C2CSubType(order.ShippingSubType)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{
		"MerchantID":        c.cfg.Logistics.MerchantID,
		"MerchantTradeNo":   order.OrderNo,
		"MerchantTradeDate": c.tradeDate(),
		"LogisticsType":     "CVS",
		"LogisticsSubType":  subType,
		"GoodsAmount":       strconv.FormatInt(order.Total, 10),
		"GoodsName":         tradeDescription(c.cfg.StoreName),
		"IsCollection":      "N",
		"SenderName":        c.cfg.SenderName,
		"SenderCellPhone":   c.cfg.SenderPhone,
		"ReceiverName":      order.Receiver.Name,
		"ReceiverCellPhone": order.Receiver.Phone,
		"ReceiverEmail":     order.Receiver.Email,
		"ReceiverStoreID":   order.Receiver.StoreID,
		"ServerReplyURL":    c.callbackURL(LogisticsCallbackPath),
	}
	if !order.PaymentMethod.Online() && order.PaymentStatus != models.PaymentPaid {
		fields["IsCollection"] = "Y"
		fields["CollectionAmount"] = strconv.FormatInt(order.Total, 10)
	}
	fields[checkMacField] = CheckMacValue(fields, c.cfg.Logistics.HashKey, c.cfg.Logistics.HashIV, HashMD5)

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.LogisticsCreate, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build shipment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveGateway("create_shipment", time.Since(started).Seconds())
	if err != nil {
		return nil, &ShipmentError{
			Category:  CategoryUnavailable,
			Message:   "logistics gateway did not respond",
			Retryable: true,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ShipmentError{
			Category:  CategoryUnavailable,
			Message:   "failed to read logistics gateway response",
			Retryable: true,
			Err:       err,
		}
	}
	raw := strings.TrimSpace(string(body))

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &ShipmentError{
			Category:  CategoryUnavailable,
			Message:   fmt.Sprintf("logistics gateway returned HTTP %d", resp.StatusCode),
			Raw:       raw,
			Retryable: true,
		}
	}

	shipment, err := ParseShipmentResponse(raw)
	if err != nil {
		return nil, err
	}
	return &ShipmentResult{Shipment: shipment, Raw: raw}, nil
}

// ParseShipmentResponse decodes "<flag>|<query string>". A flag other than 1
// is classified through the failure table.
func ParseShipmentResponse(raw string) (models.Shipment, error) {
	flag, payload, found := strings.Cut(strings.TrimSpace(raw), "|")
	if !found || flag != "1" {
		return models.Shipment{}, ClassifyFailure(raw)
	}

	values, err := url.ParseQuery(payload)
	if err != nil {
		return models.Shipment{}, &ShipmentError{
			Category: CategoryUnexpectedResponse,
			Message:  "could not decode logistics gateway payload",
			Raw:      raw,
			Err:      err,
		}
	}

	shipment := models.Shipment{
		LogisticsID:    values.Get("AllPayLogisticsID"),
		PickupCode:     values.Get("CVSPaymentNo"),
		ValidationCode: values.Get("CVSValidationNo"),
	}
	if shipment.LogisticsID == "" {
		return models.Shipment{}, &ShipmentError{
			Category: CategoryUnexpectedResponse,
			Message:  "logistics gateway accepted the request without a shipment id",
			Raw:      raw,
		}
	}
	return shipment, nil
}

// ClassifyFailure maps gateway failure text to a category. It is best
// effort: unknown texts fall back to the parenthesized detail if present.
func ClassifyFailure(raw string) *ShipmentError {
	for _, rule := range gatewayTables.Failures {
		for _, sub := range rule.Substrings {
			if strings.Contains(raw, sub) {
				return &ShipmentError{Category: rule.Category, Message: rule.Message, Raw: raw}
			}
		}
	}

	if match := parenthesizedDetail.FindStringSubmatch(raw); match != nil {
		return &ShipmentError{
			Category: CategoryGatewayRejected,
			Message:  match[1],
			Detail:   match[1],
			Raw:      raw,
		}
	}
	return &ShipmentError{Category: CategoryUnknown, Message: "logistics gateway rejected the shipment", Raw: raw}
}

// LabelForm builds the print request for an order that already has a
// shipment.
func (c *Client) LabelForm(order *models.Order) (*Form, error) {
	if !order.HasShipment() {
		return nil, fmt.Errorf("order %s has no shipment", order.OrderNo)
	}
	carrier, ok := carrierFor(order.ShippingSubType)
	if !ok {
		return nil, fmt.Errorf("unsupported convenience store carrier %q", order.ShippingSubType)
	}

	fields := map[string]string{
		"MerchantID":        c.cfg.Logistics.MerchantID,
		"AllPayLogisticsID": order.LogisticsID,
		"CVSPaymentNo":      order.PickupCode,
	}
	if carrier.NeedsValidationCode {
		fields["CVSValidationNo"] = order.ValidationCode
	}
	fields[checkMacField] = CheckMacValue(fields, c.cfg.Logistics.HashKey, c.cfg.Logistics.HashIV, HashMD5)

	return &Form{
		ActionURL: strings.TrimRight(c.endpoints.LogisticsPrint, "/") + "/" + carrier.PrintPath,
		Fields:    fields,
	}, nil
}

// LogisticsNotification is the body of a ServerReplyURL status update.
type LogisticsNotification struct {
	MerchantID      string
	MerchantTradeNo string
	LogisticsID     string
	RtnCode         string
	RtnMsg          string
	UpdateStatusAt  string
	Fields          map[string]string
}

// ParseLogisticsNotification authenticates a status update and checks the
// fields needed to locate the order.
func (c *Client) ParseLogisticsNotification(fields map[string]string) (*LogisticsNotification, error) {
	if !VerifyCheckMacValue(fields, c.cfg.Logistics.HashKey, c.cfg.Logistics.HashIV, HashMD5) {
		return nil, fmt.Errorf("%w: CheckMacValue mismatch", ErrIntegrity)
	}

	n := &LogisticsNotification{
		MerchantID:      fields["MerchantID"],
		MerchantTradeNo: strings.TrimSpace(fields["MerchantTradeNo"]),
		LogisticsID:     strings.TrimSpace(fields["AllPayLogisticsID"]),
		RtnCode:         strings.TrimSpace(fields["RtnCode"]),
		RtnMsg:          fields["RtnMsg"],
		UpdateStatusAt:  fields["UpdateStatusDate"],
		Fields:          fields,
	}
	if n.LogisticsID == "" {
		return nil, &FieldError{Field: "AllPayLogisticsID"}
	}
	if n.RtnCode == "" {
		return nil, &FieldError{Field: "RtnCode"}
	}
	return n, nil
}
