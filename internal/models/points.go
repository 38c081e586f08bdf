package models

import "time"

type PointType string

const (
	PointEarn   PointType = "earn"
	PointDeduct PointType = "deduct"
)

// PointTransaction is one row of the append-only loyalty ledger. Points is
// signed: earn rows are positive and deduct rows negative.
type PointTransaction struct {
	ID          int64     `json:"id"`
	MemberID    int64     `json:"member_id"`
	OrderNo     string    `json:"order_no"`
	Points      int64     `json:"points"`
	Type        PointType `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// PointsForSubtotal is the earn rule: one point per full 100 of subtotal.
func PointsForSubtotal(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	return subtotal / 100
}
