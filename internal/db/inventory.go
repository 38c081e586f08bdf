package db

import (
	"context"
	"fmt"

	"github.com/sky940714/shophub/internal/models"
)

func (t *pgTx) ReserveStock(ctx context.Context, ref models.ItemRef, qty int) error {
	table, id := stockRow(ref)
	query := fmt.Sprintf(`UPDATE %s SET stock = stock - $1 WHERE id = $2 AND stock >= $1`, table)

	cmdTag, err := t.tx.Exec(ctx, query, qty, id)
	if err != nil {
		return fmt.Errorf("reserve stock for %s: %w", ref, err)
	}
	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var available int
	lookup := fmt.Sprintf(`SELECT stock FROM %s WHERE id = $1`, table)
	if err := t.tx.QueryRow(ctx, lookup, id).Scan(&available); err != nil {
		return fmt.Errorf("%s: %w", ref, notFound(err))
	}
	return &StockShortageError{
		ProductID: ref.ProductID,
		VariantID: ref.VariantID,
		Requested: qty,
		Available: available,
	}
}

func (t *pgTx) ReleaseStock(ctx context.Context, ref models.ItemRef, qty int) error {
	table, id := stockRow(ref)
	query := fmt.Sprintf(`UPDATE %s SET stock = stock + $1 WHERE id = $2`, table)

	cmdTag, err := t.tx.Exec(ctx, query, qty, id)
	if err != nil {
		return fmt.Errorf("release stock for %s: %w", ref, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return nil
}

func stockRow(ref models.ItemRef) (string, int64) {
	if ref.HasVariant() {
		return "product_variants", ref.VariantID
	}
	return "products", ref.ProductID
}
