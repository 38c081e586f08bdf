package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/observability"
)

// PaymentOutcome describes what a payment notification did. Every outcome
// except PaymentRejected is acknowledged positively to the gateway.
type PaymentOutcome string

const (
	PaymentApplied   PaymentOutcome = "applied"
	PaymentDuplicate PaymentOutcome = "duplicate"
	PaymentIgnored   PaymentOutcome = "ignored"
	PaymentRejected  PaymentOutcome = "rejected"
	PaymentFailed    PaymentOutcome = "failed"
)

type paymentNotificationParser interface {
	ParsePaymentNotification(fields map[string]string) (*ecpay.PaymentNotification, error)
}

type PaymentService struct {
	store           txRunner
	gateway         paymentNotificationParser
	notifier        OrderNotifier
	acceptSimulated bool
	metrics         *observability.Metrics
	logger          *slog.Logger
	now             func() time.Time
}

func NewPaymentService(store txRunner, gateway paymentNotificationParser, notifier OrderNotifier, acceptSimulated bool, metrics *observability.Metrics, logger *slog.Logger) *PaymentService {
	if notifier == nil {
		notifier = noopOrderNotifier{}
	}
	return &PaymentService{
		store:           store,
		gateway:         gateway,
		notifier:        notifier,
		acceptSimulated: acceptSimulated,
		metrics:         metrics,
		logger:          logger,
		now:             time.Now,
	}
}

func (s *PaymentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// HandleNotification reconciles a checkout notification. Only an
// authenticity failure returns ErrIntegrity; business disagreements are
// logged and reported as PaymentIgnored.
func (s *PaymentService) HandleNotification(ctx context.Context, fields map[string]string) (PaymentOutcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.payment.handle_notification",
		sentry.WithOpName("service.payment"),
		sentry.WithDescription("HandleNotification"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	outcome, order, err := s.reconcile(ctx, fields, logger)
	s.metrics.WebhookDelivery("payment", string(outcome))
	meter.Count("webhook.payment."+string(outcome), 1)
	if err != nil {
		return outcome, err
	}

	if outcome == PaymentApplied {
		if order.Status == models.StatusPaid {
			s.metrics.StatusTransition("payment", string(models.StatusPaid))
		}
		if err := s.notifier.PaymentReceived(ctx, order); err != nil {
			meter.Count("email.failed", 1, sentry.WithAttributes(attribute.String("template", "payment_received")))
			logger.Warn("failed to send payment email", "order_no", order.OrderNo, "error", err)
		}
	}
	return outcome, nil
}

func (s *PaymentService) reconcile(ctx context.Context, fields map[string]string, logger *slog.Logger) (PaymentOutcome, *models.Order, error) {
	n, err := s.gateway.ParsePaymentNotification(fields)
	if err != nil {
		var fieldErr *ecpay.FieldError
		switch {
		case errors.Is(err, ecpay.ErrIntegrity):
			logger.Warn("rejected payment notification", "merchant_trade_no", fields["MerchantTradeNo"], "error", err)
			return PaymentRejected, nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
		case errors.As(err, &fieldErr):
			logger.Warn("ignoring malformed payment notification", "field", fieldErr.Field, "error", err)
			return PaymentIgnored, nil, nil
		default:
			return PaymentFailed, nil, fmt.Errorf("failed to parse payment notification: %w", err)
		}
	}

	logger = logger.With("order_no", n.MerchantTradeNo, "trade_no", n.TradeNo)
	if !n.Succeeded() {
		logger.Info("payment not successful", "rtn_code", n.RtnCode, "rtn_msg", n.RtnMsg)
		return PaymentIgnored, nil, nil
	}
	if n.Simulated && !s.acceptSimulated {
		logger.Warn("ignoring simulated payment")
		return PaymentIgnored, nil, nil
	}

	paidAt := n.PaymentDate
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	outcome := PaymentIgnored
	var settled *models.Order
	err = s.store.InTx(ctx, func(tx db.Tx) error {
		order, err := tx.GetOrder(ctx, n.MerchantTradeNo, true)
		if errors.Is(err, db.ErrNotFound) {
			logger.Warn("payment notification for unknown order")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}

		if order.PaymentStatus == models.PaymentPaid {
			outcome = PaymentDuplicate
			return nil
		}
		if n.TradeAmount != order.Total {
			logger.Warn("payment amount mismatch", "expected", order.Total, "received", n.TradeAmount)
			return nil
		}

		status, err := tx.MarkPaid(ctx, order.OrderNo, n.TradeNo, paidAt)
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			outcome = PaymentDuplicate
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		if status != models.StatusPaid {
			logger.Warn("payment settled on an order that was no longer pending", "status", status)
		}

		order.Status = status
		order.PaymentStatus = models.PaymentPaid
		order.GatewayTradeNo = n.TradeNo
		order.PaidAt = &paidAt
		order.Items, err = tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		settled = order
		outcome = PaymentApplied
		return nil
	})
	if err != nil {
		return PaymentFailed, nil, err
	}

	switch outcome {
	case PaymentApplied:
		logger.Info("payment applied", "amount", n.TradeAmount, "payment_type", n.PaymentType)
	case PaymentDuplicate:
		logger.Info("duplicate payment notification")
	}
	return outcome, settled, nil
}
