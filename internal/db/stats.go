package db

import (
	"context"
	"fmt"

	"github.com/sky940714/shophub/internal/models"
)

func (t *pgTx) DashboardStats(ctx context.Context) (models.DashboardStats, error) {
	const totals = `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM orders),
			(SELECT COUNT(*) FROM members),
			(SELECT COALESCE(SUM(total), 0) FROM orders WHERE status <> 'cancelled')
	`

	stats := models.DashboardStats{OrdersByStatus: make(map[models.OrderStatus]int64)}
	err := t.tx.QueryRow(ctx, totals).Scan(&stats.TotalProducts, &stats.TotalOrders, &stats.TotalMembers, &stats.TotalRevenue)
	if err != nil {
		return stats, fmt.Errorf("dashboard totals: %w", err)
	}

	rows, err := t.tx.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("dashboard status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.OrdersByStatus[models.OrderStatus(status)] = count
	}
	return stats, rows.Err()
}
