package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sky940714/shophub/internal/models"
)

// Tx is the storage surface available inside a transaction. Every mutation
// that guards an invariant is a single conditional statement; a guard that
// matches no row reports ErrInvalidStatusTransition or *StockShortageError.
type Tx interface {
	// NextOrderSequence atomically bumps and returns the counter for day.
	NextOrderSequence(ctx context.Context, day time.Time) (int64, error)
	// Setting returns a settings value or ErrNotFound.
	Setting(ctx context.Context, key string) (string, error)

	ReserveStock(ctx context.Context, ref models.ItemRef, qty int) error
	ReleaseStock(ctx context.Context, ref models.ItemRef, qty int) error

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrder(ctx context.Context, orderNo string, forUpdate bool) (*models.Order, error)
	GetOrderByLogisticsID(ctx context.Context, logisticsID string, forUpdate bool) (*models.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	ListMemberOrders(ctx context.Context, memberID int64) ([]models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error)
	DeleteOrder(ctx context.Context, orderNo string) error

	// MarkPaid settles payment once. The order status only advances when it
	// is still pending; the returned status is the one stored afterwards.
	MarkPaid(ctx context.Context, orderNo, tradeNo string, paidAt time.Time) (models.OrderStatus, error)
	// TransitionStatus moves an order to `to` only if its current status is
	// one of from and no shipment request is in flight.
	TransitionStatus(ctx context.Context, orderNo string, from []models.OrderStatus, to models.OrderStatus) error
	// ClaimShipment marks a shipment request as in flight. A claim never
	// expires; only RecordShipment or ReleaseShipmentClaim clears it.
	ClaimShipment(ctx context.Context, orderNo string, from []models.OrderStatus) error
	// ReleaseShipmentClaim fails with ErrInvalidStatusTransition when there
	// is no claim to release.
	ReleaseShipmentClaim(ctx context.Context, orderNo string) error
	RecordShipment(ctx context.Context, orderNo string, shipment models.Shipment, from []models.OrderStatus) error

	AppendPointTransaction(ctx context.Context, txn *models.PointTransaction) error
	// AdjustMemberPoints adds delta to the cached balance and returns it.
	AdjustMemberPoints(ctx context.Context, memberID, delta int64) (int64, error)
	MemberPoints(ctx context.Context, memberID int64, forUpdate bool) (int64, error)
	// SumOrderPoints totals the signed ledger rows of one type for an order.
	SumOrderPoints(ctx context.Context, orderNo string, typ models.PointType) (int64, error)
	ListPointTransactions(ctx context.Context, memberID int64) ([]models.PointTransaction, error)

	InsertReturnRequest(ctx context.Context, req *models.ReturnRequest) error
	GetReturnRequest(ctx context.Context, orderNo string) (*models.ReturnRequest, error)

	DashboardStats(ctx context.Context) (models.DashboardStats, error)
}

// OrderFilter narrows the admin order list. Search matches order number or
// receiver name.
type OrderFilter struct {
	Search string
	Status models.OrderStatus
	Limit  int
	Offset int
}

const SettingHomeDeliveryFee = "home_delivery_fee"
