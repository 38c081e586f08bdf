package db

import (
	"context"
	"fmt"

	"github.com/sky940714/shophub/internal/models"
)

func (t *pgTx) InsertReturnRequest(ctx context.Context, req *models.ReturnRequest) error {
	const query = `
		INSERT INTO order_returns (order_no, member_id, reason, bank_code, account_name, account_last4, account_encrypted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := t.tx.QueryRow(ctx, query,
		req.OrderNo, req.MemberID, req.Reason, req.BankCode, req.AccountName, req.AccountLast4, req.AccountEncrypted,
	).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert return request for %s: %w", req.OrderNo, err)
	}
	return nil
}

func (t *pgTx) GetReturnRequest(ctx context.Context, orderNo string) (*models.ReturnRequest, error) {
	const query = `
		SELECT id, order_no, member_id, reason, bank_code, account_name, account_last4, account_encrypted, created_at
		FROM order_returns
		WHERE order_no = $1
	`

	var req models.ReturnRequest
	err := t.tx.QueryRow(ctx, query, orderNo).Scan(
		&req.ID, &req.OrderNo, &req.MemberID, &req.Reason, &req.BankCode,
		&req.AccountName, &req.AccountLast4, &req.AccountEncrypted, &req.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}
