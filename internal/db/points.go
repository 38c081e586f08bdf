package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sky940714/shophub/internal/models"
)

func (t *pgTx) AppendPointTransaction(ctx context.Context, txn *models.PointTransaction) error {
	const query = `
		INSERT INTO point_transactions (member_id, order_no, points, type, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := t.tx.QueryRow(ctx, query, txn.MemberID, txn.OrderNo, txn.Points, string(txn.Type), txn.Description).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append point transaction: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustMemberPoints(ctx context.Context, memberID, delta int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx, `UPDATE members SET points = points + $2 WHERE id = $1 RETURNING points`, memberID, delta).
		Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("adjust points for member %d: %w", memberID, notFound(err))
	}
	return balance, nil
}

func (t *pgTx) MemberPoints(ctx context.Context, memberID int64, forUpdate bool) (int64, error) {
	query := `SELECT points FROM members WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var balance int64
	if err := t.tx.QueryRow(ctx, query, memberID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("member %d points: %w", memberID, notFound(err))
	}
	return balance, nil
}

func (t *pgTx) SumOrderPoints(ctx context.Context, orderNo string, typ models.PointType) (int64, error) {
	const query = `SELECT COALESCE(SUM(points), 0) FROM point_transactions WHERE order_no = $1 AND type = $2`

	var total int64
	if err := t.tx.QueryRow(ctx, query, orderNo, string(typ)).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum %s points for %s: %w", typ, orderNo, err)
	}
	return total, nil
}

func (t *pgTx) ListPointTransactions(ctx context.Context, memberID int64) ([]models.PointTransaction, error) {
	const query = `
		SELECT id, member_id, order_no, points, type, description, created_at
		FROM point_transactions
		WHERE member_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := t.tx.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("list point transactions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PointTransaction, error) {
		var txn models.PointTransaction
		var typ string
		err := row.Scan(&txn.ID, &txn.MemberID, &txn.OrderNo, &txn.Points, &typ, &txn.Description, &txn.CreatedAt)
		txn.Type = models.PointType(typ)
		return txn, err
	})
}
