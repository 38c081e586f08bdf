package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/observability"
)

// lifecycle applies a status change together with the ledger effects tied to
// it. Every caller runs it inside the transaction that read the order.
type lifecycle struct {
	inventory *InventoryLedger
	points    *PointLedger
	metrics   *observability.Metrics
}

func newLifecycle(inventory *InventoryLedger, points *PointLedger, metrics *observability.Metrics) *lifecycle {
	return &lifecycle{inventory: inventory, points: points, metrics: metrics}
}

// transition moves order from one of from to to. Losing a race against a
// concurrent update reports ErrConflict.
func (l *lifecycle) transition(ctx context.Context, tx db.Tx, order *models.Order, from []models.OrderStatus, to models.OrderStatus, logger *slog.Logger) error {
	prev := order.Status

	if err := tx.TransitionStatus(ctx, order.OrderNo, from, to); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return fmt.Errorf("%w: order %s cannot move from %s to %s", ErrConflict, order.OrderNo, prev, to)
		}
		return fmt.Errorf("failed to update order status: %w", err)
	}

	switch {
	case to == models.StatusCompleted && prev != models.StatusCompleted:
		points := models.PointsForSubtotal(order.Subtotal)
		if err := l.points.Earn(ctx, tx, order.MemberID, order.OrderNo, points, "Order "+order.OrderNo+" completed"); err != nil {
			return err
		}
		if points > 0 {
			logger.Info("points issued", "order_no", order.OrderNo, "member_id", order.MemberID, "points", points)
		}

	case to == models.StatusCancelled && prev != models.StatusCancelled:
		if err := l.reversePoints(ctx, tx, order, "Order "+order.OrderNo+" cancelled", logger); err != nil {
			return err
		}
		if models.ReleasesStockOnCancel(prev) {
			items, err := tx.ListOrderItems(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("failed to load order items: %w", err)
			}
			if err := l.inventory.Release(ctx, tx, items, logger); err != nil {
				return err
			}
		}

	case to == models.StatusRefunded && prev != models.StatusRefunded:
		if err := l.reversePoints(ctx, tx, order, "Order "+order.OrderNo+" refunded", logger); err != nil {
			return err
		}
	}

	order.Status = to
	return nil
}

func (l *lifecycle) reversePoints(ctx context.Context, tx db.Tx, order *models.Order, description string, logger *slog.Logger) error {
	reversed, err := l.points.Reverse(ctx, tx, order.MemberID, order.OrderNo, description)
	if err != nil {
		return err
	}
	if reversed > 0 {
		logger.Info("points reversed", "order_no", order.OrderNo, "member_id", order.MemberID, "points", reversed)
	}
	return nil
}

// record counts a committed transition.
func (l *lifecycle) record(source string, to models.OrderStatus) {
	l.metrics.StatusTransition(source, string(to))
}
