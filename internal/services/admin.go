package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/sky940714/shophub/internal/crypto"
	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/observability"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type AdminService struct {
	store     txRunner
	lifecycle *lifecycle
	encryptor crypto.Encryptor
	logger    *slog.Logger
}

func NewAdminService(store txRunner, inventory *InventoryLedger, points *PointLedger, encryptor crypto.Encryptor, metrics *observability.Metrics, logger *slog.Logger) *AdminService {
	return &AdminService{
		store:     store,
		lifecycle: newLifecycle(inventory, points, metrics),
		encryptor: encryptor,
		logger:    logger,
	}
}

func (s *AdminService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type ListOrdersInput struct {
	Page   int
	Limit  int
	Search string
	Status string
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

type OrderPage struct {
	Orders     []models.Order `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

func (s *AdminService) ListOrders(ctx context.Context, input ListOrdersInput) (*OrderPage, error) {
	page := max(input.Page, 1)
	limit := input.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	filter := db.OrderFilter{
		Search: strings.TrimSpace(input.Search),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if raw := strings.TrimSpace(input.Status); raw != "" && raw != "all" {
		status, ok := models.ParseOrderStatus(raw)
		if !ok {
			return nil, invalid("status", "is not a known order status")
		}
		filter.Status = status
	}

	var (
		orders []models.Order
		total  int64
	)
	err := s.store.View(ctx, func(tx db.Tx) error {
		var err error
		orders, total, err = tx.ListOrders(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}

	return &OrderPage{
		Orders: orders,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + int64(limit) - 1) / int64(limit),
		},
	}, nil
}

type AdminOrderDetail struct {
	Order  *models.Order         `json:"order"`
	Return *models.ReturnRequest `json:"return_request,omitempty"`
}

func (s *AdminService) GetOrder(ctx context.Context, orderNo string) (*AdminOrderDetail, error) {
	detail := &AdminOrderDetail{}
	err := s.store.View(ctx, func(tx db.Tx) error {
		order, err := loadOrder(ctx, tx, orderNo, false)
		if err != nil {
			return err
		}
		order.Items, err = tx.ListOrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		detail.Order = order

		req, err := tx.GetReturnRequest(ctx, orderNo)
		switch {
		case err == nil:
			detail.Return = req
		case !errors.Is(err, db.ErrNotFound):
			return fmt.Errorf("failed to load return request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// SetStatus moves an order to any enumerated status. Entering completed
// issues points, entering cancelled or refunded reverses them.
func (s *AdminService) SetStatus(ctx context.Context, orderNo, rawStatus string) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.admin.set_status",
		sentry.WithOpName("service.admin"),
		sentry.WithDescription("SetStatus"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	target, ok := models.ParseOrderStatus(strings.TrimSpace(rawStatus))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, rawStatus)
	}

	logger := s.loggerFromContext(ctx).With("order_no", orderNo)
	var (
		order   *models.Order
		changed bool
		from    models.OrderStatus
	)
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, orderNo, true)
		if err != nil {
			return err
		}
		from = order.Status
		if from == target {
			return nil
		}
		changed = true
		return s.lifecycle.transition(ctx, tx, order, []models.OrderStatus{from}, target, logger)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.lifecycle.record("admin", target)
		observability.MeterFromContext(ctx).Count("order.status.changed", 1, sentry.WithAttributes(
			attribute.String("to", string(target)),
		))
		logger.Info("order status changed by admin", "from", from, "to", target)
	}
	return order, nil
}

func (s *AdminService) DeleteOrder(ctx context.Context, orderNo string) error {
	err := s.store.InTx(ctx, func(tx db.Tx) error {
		return tx.DeleteOrder(ctx, orderNo)
	})
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderNo)
	}
	if err != nil {
		return fmt.Errorf("failed to delete order %s: %w", orderNo, err)
	}
	s.loggerFromContext(ctx).Info("order deleted", "order_no", orderNo)
	return nil
}

func (s *AdminService) Stats(ctx context.Context) (models.DashboardStats, error) {
	var stats models.DashboardStats
	err := s.store.View(ctx, func(tx db.Tx) error {
		var err error
		stats, err = tx.DashboardStats(ctx)
		return err
	})
	if err != nil {
		return models.DashboardStats{}, fmt.Errorf("failed to load dashboard stats: %w", err)
	}
	return stats, nil
}

// RevealRefundAccount decrypts the bank account recorded with a return so an
// operator can wire the refund.
func (s *AdminService) RevealRefundAccount(ctx context.Context, orderNo string) (string, error) {
	var req *models.ReturnRequest
	err := s.store.View(ctx, func(tx db.Tx) error {
		var err error
		req, err = tx.GetReturnRequest(ctx, orderNo)
		return err
	})
	if errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("%w: no return request for order %s", ErrNotFound, orderNo)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load return request: %w", err)
	}
	if s.encryptor == nil {
		return "", fmt.Errorf("refund account encryption is not configured")
	}

	account, err := s.encryptor.Decrypt(req.AccountEncrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refund account: %w", err)
	}
	s.loggerFromContext(ctx).Info("refund account revealed", "order_no", orderNo)
	return account, nil
}
