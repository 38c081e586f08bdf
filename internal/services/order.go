package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/sky940714/shophub/internal/crypto"
	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/observability"
)

// txRunner is the transactional surface of db.Store.
type txRunner interface {
	InTx(ctx context.Context, fn func(db.Tx) error) error
	View(ctx context.Context, fn func(db.Tx) error) error
}

type checkoutBuilder interface {
	CheckoutForm(order *models.Order) (*ecpay.Form, error)
}

type OrderService struct {
	store     txRunner
	numberer  *OrderNumberer
	inventory *InventoryLedger
	lifecycle *lifecycle
	checkout  checkoutBuilder
	encryptor crypto.Encryptor
	homeFee   int64
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewOrderService(store txRunner, numberer *OrderNumberer, inventory *InventoryLedger, points *PointLedger, checkout checkoutBuilder, encryptor crypto.Encryptor, homeFee int64, metrics *observability.Metrics, logger *slog.Logger) *OrderService {
	return &OrderService{
		store:     store,
		numberer:  numberer,
		inventory: inventory,
		lifecycle: newLifecycle(inventory, points, metrics),
		checkout:  checkout,
		encryptor: encryptor,
		homeFee:   homeFee,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type CreateOrderInput struct {
	MemberID        int64                 `json:"-"`
	Receiver        models.Receiver       `json:"shipping_info"`
	ShippingMethod  models.ShippingMethod `json:"shipping_method" validate:"required,oneof=cvs home pickup"`
	ShippingSubType string                `json:"shipping_sub_type" validate:"max=20"`
	PaymentMethod   models.PaymentMethod  `json:"payment_method" validate:"required,oneof=Credit ATM cod store_pay"`
	InvoiceType     models.InvoiceType    `json:"invoice_type" validate:"omitempty,oneof=personal company donation"`
	CompanyName     string                `json:"company_name" validate:"max=100"`
	TaxID           string                `json:"tax_id" validate:"omitempty,len=8,numeric"`
	Subtotal        int64                 `json:"subtotal" validate:"gt=0"`
	Items           []CreateOrderItem     `json:"items" validate:"required,min=1,max=50,dive"`
}

type CreateOrderItem struct {
	ProductID   int64  `json:"product_id" validate:"gt=0"`
	VariantID   int64  `json:"variant_id" validate:"gte=0"`
	Quantity    int    `json:"quantity" validate:"gt=0,max=999"`
	Price       int64  `json:"price" validate:"gte=0"`
	Name        string `json:"name" validate:"required,max=200"`
	ImageURL    string `json:"image_url" validate:"max=500"`
	VariantName string `json:"variant_name" validate:"max=100"`
}

type CreateOrderResult struct {
	OrderNo  string        `json:"order_no"`
	Order    *models.Order `json:"order"`
	Checkout *ecpay.Form   `json:"checkout"`
}

func validateCreateOrder(input *CreateOrderInput) error {
	if input.MemberID <= 0 {
		return invalid("member_id", "is required")
	}
	if input.InvoiceType == "" {
		input.InvoiceType = models.InvoicePersonal
	}
	if err := validateStruct(input); err != nil {
		return err
	}

	switch input.ShippingMethod {
	case models.ShippingCVS:
		if strings.TrimSpace(input.Receiver.StoreID) == "" {
			return invalid("shipping_info.store_id", "is required for convenience-store delivery")
		}
		if _, err := ecpay.C2CSubType(input.ShippingSubType); err != nil {
			return invalid("shipping_sub_type", "is not a supported convenience-store carrier")
		}
	case models.ShippingHome:
		if strings.TrimSpace(input.Receiver.Address) == "" {
			return invalid("shipping_info.address", "is required for home delivery")
		}
	}

	if input.InvoiceType == models.InvoiceCompany {
		if strings.TrimSpace(input.CompanyName) == "" {
			return invalid("company_name", "is required for company invoices")
		}
		if input.TaxID == "" {
			return invalid("tax_id", "is required for company invoices")
		}
	}

	var sum int64
	for _, item := range input.Items {
		sum += item.Price * int64(item.Quantity)
	}
	if sum != input.Subtotal {
		return invalid("subtotal", fmt.Sprintf("does not match the items total %d", sum))
	}
	return nil
}

// Create places an order. Sequence allocation, the order row, its items and
// every stock reservation commit together or not at all.
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Create"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	recordFailure := func(reason string) {
		meter.Count("order.create.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	if err := validateCreateOrder(&input); err != nil {
		recordFailure("validation")
		return nil, err
	}

	receiver := input.Receiver
	if input.ShippingMethod != models.ShippingCVS {
		receiver.StoreID, receiver.StoreName, receiver.StoreAddress = "", "", ""
	}

	order := &models.Order{
		ID:              uuid.New(),
		MemberID:        input.MemberID,
		Receiver:        receiver,
		ShippingMethod:  input.ShippingMethod,
		ShippingSubType: input.ShippingSubType,
		PaymentMethod:   input.PaymentMethod,
		PaymentStatus:   models.PaymentUnpaid,
		InvoiceType:     input.InvoiceType,
		CompanyName:     input.CompanyName,
		TaxID:           input.TaxID,
		Subtotal:        input.Subtotal,
		Status:          models.StatusPending,
	}
	if order.InvoiceType != models.InvoiceCompany {
		order.CompanyName, order.TaxID = "", ""
	}

	err := s.store.InTx(ctx, func(tx db.Tx) error {
		homeFee, err := homeDeliveryFee(ctx, tx, s.homeFee, logger)
		if err != nil {
			return fmt.Errorf("failed to read delivery fee: %w", err)
		}
		order.ShippingFee = ShippingFee(order.ShippingMethod, order.Subtotal, homeFee)
		order.Total = order.Subtotal + order.ShippingFee

		orderNo, err := s.numberer.Next(ctx, tx)
		if err != nil {
			return err
		}
		order.OrderNo = orderNo

		if err := tx.InsertOrder(ctx, order); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("%w: member %d", ErrNotFound, order.MemberID)
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		items := make([]models.OrderItem, 0, len(input.Items))
		for _, in := range input.Items {
			item := models.OrderItem{
				OrderID:      order.ID,
				ProductID:    in.ProductID,
				VariantID:    in.VariantID,
				ProductName:  in.Name,
				ProductImage: in.ImageURL,
				VariantName:  in.VariantName,
				Price:        in.Price,
				Quantity:     in.Quantity,
				Subtotal:     in.Price * int64(in.Quantity),
			}
			if err := s.inventory.Reserve(ctx, tx, item); err != nil {
				return err
			}
			if err := tx.InsertOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
			items = append(items, item)
		}
		order.Items = items
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			recordFailure("insufficient_stock")
			logger.Info("order rejected for insufficient stock", "member_id", input.MemberID, "error", err)
		case errors.Is(err, ErrNotFound):
			recordFailure("not_found")
		default:
			recordFailure("store_error")
			logger.Error("failed to create order", "member_id", input.MemberID, "error", err)
		}
		return nil, err
	}

	s.metrics.OrderCreated(string(order.PaymentMethod))
	meter.Count("order.created", 1, sentry.WithAttributes(
		attribute.String("payment_method", string(order.PaymentMethod)),
	))
	logger.Info("order created",
		"order_no", order.OrderNo,
		"member_id", order.MemberID,
		"total", order.Total,
		"payment_method", order.PaymentMethod,
	)

	result := &CreateOrderResult{OrderNo: order.OrderNo, Order: order}
	if order.PaymentMethod.Online() {
		form, err := s.checkout.CheckoutForm(order)
		if err != nil {
			return nil, fmt.Errorf("failed to build checkout for %s: %w", order.OrderNo, err)
		}
		result.Checkout = form
	}
	return result, nil
}

// Get returns one of the member's orders with its items. Orders owned by
// someone else are reported as missing.
func (s *OrderService) Get(ctx context.Context, memberID int64, orderNo string) (*models.Order, error) {
	var order *models.Order
	err := s.store.View(ctx, func(tx db.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, orderNo, false)
		if err != nil {
			return err
		}
		if order.MemberID != memberID {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderNo)
		}
		order.Items, err = tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) ListForMember(ctx context.Context, memberID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.store.View(ctx, func(tx db.Tx) error {
		var err error
		orders, err = tx.ListMemberOrders(ctx, memberID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// Cancel lets a member cancel an order that has not shipped. Reserved stock
// goes back on the shelf in the same transaction.
func (s *OrderService) Cancel(ctx context.Context, memberID int64, orderNo string) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.cancel",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Cancel"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_no", orderNo)

	var order *models.Order
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, orderNo, true)
		if err != nil {
			return err
		}
		if order.MemberID != memberID {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderNo)
		}
		allowed := models.MemberCancellableStatuses()
		if !models.ContainsStatus(allowed, order.Status) {
			return fmt.Errorf("%w: order %s is %s and can no longer be cancelled", ErrConflict, orderNo, order.Status)
		}
		return s.lifecycle.transition(ctx, tx, order, allowed, models.StatusCancelled, logger)
	})
	if err != nil {
		return nil, err
	}

	s.lifecycle.record("member", models.StatusCancelled)
	observability.MeterFromContext(ctx).Count("order.cancelled", 1)
	logger.Info("order cancelled by member", "member_id", memberID)
	return order, nil
}

type ReturnInput struct {
	Reason        string `json:"reason" validate:"required,max=500"`
	BankCode      string `json:"bank_code" validate:"required,len=3,numeric"`
	AccountName   string `json:"account_name" validate:"required,max=50"`
	AccountNumber string `json:"account_number" validate:"required,min=6,max=20,numeric"`
}

// RequestReturn records a return with the refund account and moves the
// order to return_requested. The account number is stored encrypted.
func (s *OrderService) RequestReturn(ctx context.Context, memberID int64, orderNo string, input ReturnInput) (*models.ReturnRequest, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	input.AccountNumber = strings.ReplaceAll(strings.TrimSpace(input.AccountNumber), "-", "")
	if err := validateStruct(&input); err != nil {
		return nil, err
	}
	if s.encryptor == nil {
		return nil, fmt.Errorf("refund account encryption is not configured")
	}

	encrypted, err := s.encryptor.Encrypt(input.AccountNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refund account: %w", err)
	}

	logger := s.loggerFromContext(ctx).With("order_no", orderNo)
	req := &models.ReturnRequest{
		OrderNo:          orderNo,
		MemberID:         memberID,
		Reason:           input.Reason,
		BankCode:         input.BankCode,
		AccountName:      input.AccountName,
		AccountLast4:     lastDigits(input.AccountNumber, 4),
		AccountEncrypted: encrypted,
	}

	err = s.store.InTx(ctx, func(tx db.Tx) error {
		order, err := loadOrder(ctx, tx, orderNo, true)
		if err != nil {
			return err
		}
		if order.MemberID != memberID {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderNo)
		}
		allowed := models.ReturnableStatuses()
		if !models.ContainsStatus(allowed, order.Status) {
			return fmt.Errorf("%w: order %s is %s and cannot be returned", ErrConflict, orderNo, order.Status)
		}
		if err := s.lifecycle.transition(ctx, tx, order, allowed, models.StatusReturnRequested, logger); err != nil {
			return err
		}
		if err := tx.InsertReturnRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to record return request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lifecycle.record("member", models.StatusReturnRequested)
	logger.Info("return requested", "member_id", memberID, "account", crypto.Mask(input.AccountNumber, 4))
	return req, nil
}

// PaymentForm rebuilds the checkout form for an order that still awaits
// online payment.
func (s *OrderService) PaymentForm(ctx context.Context, orderNo string) (*ecpay.Form, error) {
	var order *models.Order
	err := s.store.View(ctx, func(tx db.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, orderNo, false)
		if err != nil {
			return err
		}
		order.Items, err = tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case !order.PaymentMethod.Online():
		return nil, fmt.Errorf("%w: order %s is paid offline", ErrConflict, orderNo)
	case order.PaymentStatus == models.PaymentPaid:
		return nil, fmt.Errorf("%w: order %s is already paid", ErrConflict, orderNo)
	case order.Status == models.StatusCancelled:
		return nil, fmt.Errorf("%w: order %s is cancelled", ErrConflict, orderNo)
	}

	form, err := s.checkout.CheckoutForm(order)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout for %s: %w", orderNo, err)
	}
	return form, nil
}

func loadOrder(ctx context.Context, tx db.Tx, orderNo string, forUpdate bool) (*models.Order, error) {
	order, err := tx.GetOrder(ctx, orderNo, forUpdate)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderNo)
		}
		return nil, fmt.Errorf("failed to load order %s: %w", orderNo, err)
	}
	return order, nil
}

func lastDigits(value string, n int) string {
	if utf8.RuneCountInString(value) <= n {
		return value
	}
	runes := []rune(value)
	return string(runes[len(runes)-n:])
}
