package services

import (
	"context"
	"fmt"

	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/models"
)

// PointLedger appends signed rows to the point journal and keeps the member's
// cached balance in step within the same transaction.
type PointLedger struct{}

func NewPointLedger() *PointLedger {
	return &PointLedger{}
}

func (l *PointLedger) Earn(ctx context.Context, tx db.Tx, memberID int64, orderNo string, points int64, description string) error {
	if points <= 0 {
		return nil
	}
	return l.append(ctx, tx, memberID, orderNo, points, models.PointEarn, description)
}

// Deduct removes up to points from the member and returns the amount actually
// deducted. The balance never goes negative.
func (l *PointLedger) Deduct(ctx context.Context, tx db.Tx, memberID int64, orderNo string, points int64, description string) (int64, error) {
	if points <= 0 {
		return 0, nil
	}

	balance, err := tx.MemberPoints(ctx, memberID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to read point balance: %w", err)
	}
	points = min(points, balance)
	if points <= 0 {
		return 0, nil
	}

	if err := l.append(ctx, tx, memberID, orderNo, -points, models.PointDeduct, description); err != nil {
		return 0, err
	}
	return points, nil
}

func (l *PointLedger) TotalEarnedFor(ctx context.Context, tx db.Tx, orderNo string) (int64, error) {
	total, err := tx.SumOrderPoints(ctx, orderNo, models.PointEarn)
	if err != nil {
		return 0, fmt.Errorf("failed to sum earned points: %w", err)
	}
	return total, nil
}

// Reverse takes back what the order earned minus what was already taken back,
// rather than the plain sum of its earn rows. An order cycled through
// completed and cancelled twice therefore never loses the same points twice.
// The deduction is clamped to the member's balance.
func (l *PointLedger) Reverse(ctx context.Context, tx db.Tx, memberID int64, orderNo, description string) (int64, error) {
	earned, err := l.TotalEarnedFor(ctx, tx, orderNo)
	if err != nil {
		return 0, err
	}
	deducted, err := tx.SumOrderPoints(ctx, orderNo, models.PointDeduct)
	if err != nil {
		return 0, fmt.Errorf("failed to sum deducted points: %w", err)
	}
	return l.Deduct(ctx, tx, memberID, orderNo, earned+deducted, description)
}

func (l *PointLedger) append(ctx context.Context, tx db.Tx, memberID int64, orderNo string, points int64, typ models.PointType, description string) error {
	txn := &models.PointTransaction{
		MemberID:    memberID,
		OrderNo:     orderNo,
		Points:      points,
		Type:        typ,
		Description: description,
	}
	if err := tx.AppendPointTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to append point transaction: %w", err)
	}
	if _, err := tx.AdjustMemberPoints(ctx, memberID, points); err != nil {
		return fmt.Errorf("failed to adjust point balance: %w", err)
	}
	return nil
}
