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

type InventoryLedger struct {
	metrics *observability.Metrics
}

func NewInventoryLedger(metrics *observability.Metrics) *InventoryLedger {
	return &InventoryLedger{metrics: metrics}
}

// Reserve takes qty units of item out of stock in one conditional update.
func (l *InventoryLedger) Reserve(ctx context.Context, tx db.Tx, item models.OrderItem) error {
	err := tx.ReserveStock(ctx, item.Ref(), item.Quantity)
	if err == nil {
		return nil
	}

	var shortage *db.StockShortageError
	switch {
	case errors.As(err, &shortage):
		l.metrics.StockRejected()
		return &InsufficientStockError{
			Item:      item.Ref(),
			Name:      displayName(item),
			Requested: shortage.Requested,
			Available: shortage.Available,
		}
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, item.Ref())
	default:
		return fmt.Errorf("failed to reserve %s: %w", item.Ref(), err)
	}
}

// Release puts every line back in stock. A product deleted since the order
// was placed is skipped.
func (l *InventoryLedger) Release(ctx context.Context, tx db.Tx, items []models.OrderItem, logger *slog.Logger) error {
	for _, item := range items {
		err := tx.ReleaseStock(ctx, item.Ref(), item.Quantity)
		if errors.Is(err, db.ErrNotFound) {
			logger.Warn("skipping restock for missing item", "item", item.Ref().String(), "quantity", item.Quantity)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to release %s: %w", item.Ref(), err)
		}
	}
	return nil
}

func displayName(item models.OrderItem) string {
	if item.VariantName != "" {
		return item.ProductName + " (" + item.VariantName + ")"
	}
	return item.ProductName
}
