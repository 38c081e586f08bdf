package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/observability"
)

const defaultGatewayTimeout = 15 * time.Second

type LogisticsOutcome string

const (
	LogisticsApplied   LogisticsOutcome = "applied"
	LogisticsDuplicate LogisticsOutcome = "duplicate"
	LogisticsIgnored   LogisticsOutcome = "ignored"
	LogisticsRejected  LogisticsOutcome = "rejected"
	LogisticsFailed    LogisticsOutcome = "failed"
)

type logisticsGateway interface {
	CreateShipment(ctx context.Context, order *models.Order) (*ecpay.ShipmentResult, error)
	LabelForm(order *models.Order) (*ecpay.Form, error)
	ParseLogisticsNotification(fields map[string]string) (*ecpay.LogisticsNotification, error)
}

type LogisticsService struct {
	store     txRunner
	gateway   logisticsGateway
	lifecycle *lifecycle
	notifier  OrderNotifier
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewLogisticsService(store txRunner, gateway logisticsGateway, inventory *InventoryLedger, points *PointLedger, notifier OrderNotifier, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *LogisticsService {
	if notifier == nil {
		notifier = noopOrderNotifier{}
	}
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &LogisticsService{
		store:     store,
		gateway:   gateway,
		lifecycle: newLifecycle(inventory, points, metrics),
		notifier:  notifier,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *LogisticsService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type ShipmentOutcome struct {
	OrderNo        string `json:"order_no"`
	LogisticsID    string `json:"logistics_id"`
	PickupCode     string `json:"pickup_code"`
	ValidationCode string `json:"validation_code,omitempty"`
}

// CreateShipment books a C2C convenience-store shipment. The gateway does
// not deduplicate, so the order is claimed before the call and an order that
// already holds a shipment id is refused with ErrAlreadyCreated.
func (s *LogisticsService) CreateShipment(ctx context.Context, orderNo string) (*ShipmentOutcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.logistics.create_shipment",
		sentry.WithOpName("service.logistics"),
		sentry.WithDescription("CreateShipment"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_no", orderNo)
	meter := observability.MeterFromContext(ctx)

	var order *models.Order
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, orderNo, true)
		if err != nil {
			return err
		}
		if order.HasShipment() {
			return fmt.Errorf("%w: order %s has logistics id %s", ErrAlreadyCreated, orderNo, order.LogisticsID)
		}
		if order.ShippingMethod != models.ShippingCVS {
			return invalid("shipping_method", "only convenience-store orders ship through C2C logistics")
		}
		if order.Receiver.StoreID == "" {
			return invalid("store_id", "pickup store is not set")
		}
		if _, err := ecpay.C2CSubType(order.ShippingSubType); err != nil {
			return invalid("shipping_sub_type", err.Error())
		}

		from := models.ShippableStatuses(order.PaymentMethod)
		if !models.ContainsStatus(from, order.Status) {
			return fmt.Errorf("%w: order %s is %s and cannot ship", ErrConflict, orderNo, order.Status)
		}
		err = tx.ClaimShipment(ctx, orderNo, from)
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return fmt.Errorf("%w: a shipment request for order %s is already in progress or awaits resolution", ErrConflict, orderNo)
		}
		if err != nil {
			return fmt.Errorf("failed to claim shipment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.gateway.CreateShipment(callCtx, order)
	if err != nil {
		s.releaseClaim(context.WithoutCancel(ctx), orderNo, logger)

		gwErr := toGatewayError(err)
		s.metrics.ShipmentResult(gwErr.Category)
		meter.Count("shipment.failed", 1, sentry.WithAttributes(
			attribute.String("category", gwErr.Category),
		))
		logger.Error("shipment creation failed",
			"category", gwErr.Category,
			"retryable", gwErr.Retryable,
			"raw", gwErr.Raw,
			"error", err,
		)
		return nil, gwErr
	}

	from := models.ShippableStatuses(order.PaymentMethod)
	recordCtx := context.WithoutCancel(ctx)
	err = s.store.InTx(recordCtx, func(tx db.Tx) error {
		return tx.RecordShipment(recordCtx, orderNo, result.Shipment, from)
	})
	if err != nil {
		// The booking exists at the carrier. The claim stays until an
		// operator records it through ResolveShipment.
		logger.Error("failed to record created shipment",
			"logistics_id", result.Shipment.LogisticsID,
			"pickup_code", result.Shipment.PickupCode,
			"raw", result.Raw,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record shipment %s for order %s: %w", result.Shipment.LogisticsID, orderNo, err)
	}

	s.metrics.ShipmentResult("ok")
	meter.Count("shipment.created", 1)
	logger.Info("shipment created", "logistics_id", result.Shipment.LogisticsID)
	return s.shipped(ctx, order, result.Shipment, logger), nil
}

func (s *LogisticsService) shipped(ctx context.Context, order *models.Order, shipment models.Shipment, logger *slog.Logger) *ShipmentOutcome {
	s.lifecycle.record("logistics", models.StatusShipped)

	order.LogisticsID = shipment.LogisticsID
	order.PickupCode = shipment.PickupCode
	order.ValidationCode = shipment.ValidationCode
	order.Status = models.StatusShipped
	order.ShipmentClaimedAt = nil
	if err := s.notifier.ShipmentCreated(ctx, order); err != nil {
		observability.MeterFromContext(ctx).Count("email.failed", 1, sentry.WithAttributes(attribute.String("template", "shipment_created")))
		logger.Warn("failed to send shipment email", "error", err)
	}

	return &ShipmentOutcome{
		OrderNo:        order.OrderNo,
		LogisticsID:    shipment.LogisticsID,
		PickupCode:     shipment.PickupCode,
		ValidationCode: shipment.ValidationCode,
	}
}

// ResolveShipmentInput settles a shipment claim left behind when the booking
// outcome was never stored. An empty LogisticsID means nothing was booked.
type ResolveShipmentInput struct {
	LogisticsID    string `json:"logistics_id" validate:"omitempty,max=64"`
	PickupCode     string `json:"pickup_code" validate:"omitempty,max=32"`
	ValidationCode string `json:"validation_code" validate:"omitempty,max=16"`
}

// ResolveShipment is the operator path for an order stuck behind a shipment
// claim. With a logistics id the carrier booking is recorded and the order
// ships; without one the claim is released so the order can be shipped again
// or cancelled. Orders without a claim are refused with ErrConflict.
func (s *LogisticsService) ResolveShipment(ctx context.Context, orderNo string, input ResolveShipmentInput) (*ShipmentOutcome, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	logger := s.loggerFromContext(ctx).With("order_no", orderNo)
	shipment := models.Shipment{
		LogisticsID:    strings.TrimSpace(input.LogisticsID),
		PickupCode:     strings.TrimSpace(input.PickupCode),
		ValidationCode: strings.TrimSpace(input.ValidationCode),
	}

	var order *models.Order
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, orderNo, true)
		if err != nil {
			return err
		}
		if order.ShipmentClaimedAt == nil {
			return fmt.Errorf("%w: order %s has no pending shipment request", ErrConflict, orderNo)
		}

		if shipment.LogisticsID == "" {
			err = tx.ReleaseShipmentClaim(ctx, orderNo)
		} else {
			err = tx.RecordShipment(ctx, orderNo, shipment, models.ShippableStatuses(order.PaymentMethod))
		}
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return fmt.Errorf("%w: shipment request for order %s changed concurrently", ErrConflict, orderNo)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if shipment.LogisticsID == "" {
		logger.Warn("shipment claim released by operator")
		return &ShipmentOutcome{OrderNo: orderNo}, nil
	}
	logger.Warn("shipment recorded by operator", "logistics_id", shipment.LogisticsID)
	return s.shipped(ctx, order, shipment, logger), nil
}

func (s *LogisticsService) releaseClaim(ctx context.Context, orderNo string, logger *slog.Logger) {
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		return tx.ReleaseShipmentClaim(ctx, orderNo)
	})
	if err != nil {
		logger.Error("failed to release shipment claim", "error", err)
	}
}

func toGatewayError(err error) *GatewayError {
	var shipErr *ecpay.ShipmentError
	if errors.As(err, &shipErr) {
		return &GatewayError{
			Category:  shipErr.Category,
			Message:   shipErr.Message,
			Detail:    shipErr.Detail,
			Raw:       shipErr.Raw,
			Retryable: shipErr.Retryable,
			Err:       err,
		}
	}
	return &GatewayError{
		Category:  ecpay.CategoryUnknown,
		Message:   err.Error(),
		Retryable: errors.Is(err, context.DeadlineExceeded),
		Err:       err,
	}
}

// Label builds the carrier print form for a shipped order.
func (s *LogisticsService) Label(ctx context.Context, orderNo string) (*ecpay.Form, error) {
	var order *models.Order
	err := s.store.View(ctx, func(tx db.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, orderNo, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !order.HasShipment() {
		return nil, fmt.Errorf("%w: order %s has no shipment yet", ErrConflict, orderNo)
	}

	form, err := s.gateway.LabelForm(order)
	if err != nil {
		return nil, fmt.Errorf("failed to build label for %s: %w", orderNo, err)
	}
	return form, nil
}

// HandleStatusNotification applies a carrier status update. The gateway is
// always acknowledged; the outcome only drives logging and metrics.
func (s *LogisticsService) HandleStatusNotification(ctx context.Context, fields map[string]string) (LogisticsOutcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.logistics.handle_status",
		sentry.WithOpName("service.logistics"),
		sentry.WithDescription("HandleStatusNotification"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	outcome, target, err := s.reconcile(ctx, fields)
	s.metrics.WebhookDelivery("logistics", string(outcome))
	observability.MeterFromContext(ctx).Count("webhook.logistics."+string(outcome), 1)
	if outcome == LogisticsApplied {
		s.lifecycle.record("logistics", target)
	}
	return outcome, err
}

func (s *LogisticsService) reconcile(ctx context.Context, fields map[string]string) (LogisticsOutcome, models.OrderStatus, error) {
	logger := s.loggerFromContext(ctx)

	n, err := s.gateway.ParseLogisticsNotification(fields)
	if err != nil {
		if errors.Is(err, ecpay.ErrIntegrity) {
			logger.Warn("rejected logistics notification", "logistics_id", fields["AllPayLogisticsID"], "error", err)
			return LogisticsRejected, "", nil
		}
		logger.Warn("ignoring malformed logistics notification", "error", err)
		return LogisticsIgnored, "", nil
	}

	logger = logger.With("logistics_id", n.LogisticsID, "rtn_code", n.RtnCode)
	target, ok := ecpay.StatusForLogisticsCode(n.RtnCode)
	if !ok {
		logger.Info("logistics code has no status mapping", "rtn_msg", n.RtnMsg)
		return LogisticsIgnored, "", nil
	}

	outcome := LogisticsIgnored
	err = s.store.InTx(ctx, func(tx db.Tx) error {
		order, err := tx.GetOrderByLogisticsID(ctx, n.LogisticsID, true)
		if errors.Is(err, db.ErrNotFound) {
			logger.Warn("logistics notification for unknown shipment", "merchant_trade_no", n.MerchantTradeNo)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}

		orderLogger := logger.With("order_no", order.OrderNo)
		if order.Status == target {
			outcome = LogisticsDuplicate
			return nil
		}
		from := models.LogisticsPredecessors(target)
		if !models.ContainsStatus(from, order.Status) {
			orderLogger.Warn("logistics update out of sequence", "status", order.Status, "target", target)
			return nil
		}

		err = s.lifecycle.transition(ctx, tx, order, from, target, orderLogger)
		if errors.Is(err, ErrConflict) {
			orderLogger.Warn("logistics update lost a race", "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		orderLogger.Info("order status updated from logistics", "status", target, "rtn_msg", n.RtnMsg)
		outcome = LogisticsApplied
		return nil
	})
	if err != nil {
		logger.Error("failed to apply logistics notification", "error", err)
		return LogisticsFailed, "", err
	}
	return outcome, target, nil
}
