package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sky940714/shophub/internal/models"
)

const orderColumns = `
	id, order_no, member_id, receiver_name, receiver_phone, receiver_email,
	COALESCE(receiver_address, ''), COALESCE(store_id, ''), COALESCE(store_name, ''), COALESCE(store_address, ''),
	shipping_method, COALESCE(shipping_sub_type, ''), shipping_fee, payment_method, payment_status,
	invoice_type, COALESCE(company_name, ''), COALESCE(tax_id, ''), subtotal, total, status,
	COALESCE(gateway_trade_no, ''), COALESCE(logistics_id, ''), COALESCE(pickup_code, ''), COALESCE(validation_code, ''),
	created_at, updated_at, paid_at, shipped_at, shipment_claimed_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var shippingMethod, paymentMethod, paymentStatus, invoice, stat string
	err := row.Scan(
		&order.ID, &order.OrderNo, &order.MemberID,
		&order.Receiver.Name, &order.Receiver.Phone, &order.Receiver.Email,
		&order.Receiver.Address, &order.Receiver.StoreID, &order.Receiver.StoreName, &order.Receiver.StoreAddress,
		&shippingMethod, &order.ShippingSubType, &order.ShippingFee, &paymentMethod, &paymentStatus,
		&invoice, &order.CompanyName, &order.TaxID, &order.Subtotal, &order.Total, &stat,
		&order.GatewayTradeNo, &order.LogisticsID, &order.PickupCode, &order.ValidationCode,
		&order.CreatedAt, &order.UpdatedAt, &order.PaidAt, &order.ShippedAt, &order.ShipmentClaimedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	order.ShippingMethod = models.ShippingMethod(shippingMethod)
	order.PaymentMethod = models.PaymentMethod(paymentMethod)
	order.PaymentStatus = models.PaymentStatus(paymentStatus)
	order.InvoiceType = models.InvoiceType(invoice)
	order.Status = models.OrderStatus(stat)
	return &order, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	const query = `
		INSERT INTO orders (
			id, order_no, member_id,
			receiver_name, receiver_phone, receiver_email, receiver_address,
			store_id, store_name, store_address,
			shipping_method, shipping_sub_type, shipping_fee,
			payment_method, payment_status,
			invoice_type, company_name, tax_id,
			subtotal, total, status
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			$11, NULLIF($12, ''), $13,
			$14, $15,
			$16, NULLIF($17, ''), NULLIF($18, ''),
			$19, $20, $21
		)
		RETURNING created_at, updated_at
	`

	r := order.Receiver
	err := t.tx.QueryRow(ctx, query,
		order.ID, order.OrderNo, order.MemberID,
		r.Name, r.Phone, r.Email, r.Address,
		r.StoreID, r.StoreName, r.StoreAddress,
		string(order.ShippingMethod), order.ShippingSubType, order.ShippingFee,
		string(order.PaymentMethod), string(order.PaymentStatus),
		string(order.InvoiceType), order.CompanyName, order.TaxID,
		order.Subtotal, order.Total, string(order.Status),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderNo, err)
	}
	return nil
}

func (t *pgTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	const query = `
		INSERT INTO order_items (
			order_id, product_id, variant_id, product_name, product_image, variant_name,
			price, quantity, subtotal
		) VALUES ($1, $2, NULLIF($3, 0), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
		RETURNING id
	`

	err := t.tx.QueryRow(ctx, query,
		item.OrderID, item.ProductID, item.VariantID, item.ProductName, item.ProductImage, item.VariantName,
		item.Price, item.Quantity, item.Subtotal,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (t *pgTx) GetOrder(ctx context.Context, orderNo string, forUpdate bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_no = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOrder(t.tx.QueryRow(ctx, query, orderNo))
}

func (t *pgTx) GetOrderByLogisticsID(ctx context.Context, logisticsID string, forUpdate bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE logistics_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOrder(t.tx.QueryRow(ctx, query, logisticsID))
}

func (t *pgTx) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	const query = `
		SELECT id, order_id, product_id, COALESCE(variant_id, 0), product_name,
		       COALESCE(product_image, ''), COALESCE(variant_name, ''), price, quantity, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := t.tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OrderItem, error) {
		var item models.OrderItem
		err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.ProductName,
			&item.ProductImage, &item.VariantName, &item.Price, &item.Quantity, &item.Subtotal)
		return item, err
	})
}

func (t *pgTx) ListMemberOrders(ctx context.Context, memberID int64) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE member_id = $1 ORDER BY created_at DESC`
	return t.queryOrders(ctx, query, memberID)
}

func (t *pgTx) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	var (
		conditions []string
		args       []any
	)
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		conditions = append(conditions, fmt.Sprintf("(order_no ILIKE $%d OR receiver_name ILIKE $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))
	orders, err := t.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (t *pgTx) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Order, error) {
		order, err := scanOrder(row)
		if err != nil {
			return models.Order{}, err
		}
		return *order, nil
	})
}

func (t *pgTx) DeleteOrder(ctx context.Context, orderNo string) error {
	cmdTag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE order_no = $1`, orderNo)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", orderNo, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) MarkPaid(ctx context.Context, orderNo, tradeNo string, paidAt time.Time) (models.OrderStatus, error) {
	const query = `
		UPDATE orders
		SET payment_status = 'paid',
		    gateway_trade_no = NULLIF($2, ''),
		    paid_at = $3,
		    status = CASE WHEN status = 'pending' THEN 'paid' ELSE status END,
		    updated_at = NOW()
		WHERE order_no = $1 AND payment_status = 'unpaid'
		RETURNING status
	`

	var status string
	err := t.tx.QueryRow(ctx, query, orderNo, tradeNo, paidAt).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: payment already settled", ErrInvalidStatusTransition)
	}
	if err != nil {
		return "", fmt.Errorf("mark order %s paid: %w", orderNo, err)
	}
	return models.OrderStatus(status), nil
}

func (t *pgTx) TransitionStatus(ctx context.Context, orderNo string, from []models.OrderStatus, to models.OrderStatus) error {
	const query = `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE order_no = $1 AND status = ANY($3) AND shipment_claimed_at IS NULL
	`

	cmdTag, err := t.tx.Exec(ctx, query, orderNo, string(to), statusStrings(from))
	if err != nil {
		return fmt.Errorf("transition order %s: %w", orderNo, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected %s", ErrInvalidStatusTransition, joinStatuses(from))
	}
	return nil
}

func (t *pgTx) ClaimShipment(ctx context.Context, orderNo string, from []models.OrderStatus) error {
	const query = `
		UPDATE orders
		SET shipment_claimed_at = NOW()
		WHERE order_no = $1
		  AND status = ANY($2)
		  AND logistics_id IS NULL
		  AND shipment_claimed_at IS NULL
	`

	cmdTag, err := t.tx.Exec(ctx, query, orderNo, statusStrings(from))
	if err != nil {
		return fmt.Errorf("claim shipment for %s: %w", orderNo, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: shipment unavailable from current state", ErrInvalidStatusTransition)
	}
	return nil
}

func (t *pgTx) ReleaseShipmentClaim(ctx context.Context, orderNo string) error {
	const query = `
		UPDATE orders
		SET shipment_claimed_at = NULL, updated_at = NOW()
		WHERE order_no = $1
		  AND logistics_id IS NULL
		  AND shipment_claimed_at IS NOT NULL
	`

	cmdTag, err := t.tx.Exec(ctx, query, orderNo)
	if err != nil {
		return fmt.Errorf("release shipment claim for %s: %w", orderNo, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no shipment claim to release", ErrInvalidStatusTransition)
	}
	return nil
}

func (t *pgTx) RecordShipment(ctx context.Context, orderNo string, shipment models.Shipment, from []models.OrderStatus) error {
	const query = `
		UPDATE orders
		SET logistics_id = $2,
		    pickup_code = NULLIF($3, ''),
		    validation_code = NULLIF($4, ''),
		    status = 'shipped',
		    shipped_at = NOW(),
		    shipment_claimed_at = NULL,
		    updated_at = NOW()
		WHERE order_no = $1
		  AND logistics_id IS NULL
		  AND shipment_claimed_at IS NOT NULL
		  AND status = ANY($5)
	`

	cmdTag, err := t.tx.Exec(ctx, query, orderNo, shipment.LogisticsID, shipment.PickupCode, shipment.ValidationCode, statusStrings(from))
	if err != nil {
		return fmt.Errorf("record shipment for %s: %w", orderNo, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: shipment claim lost", ErrInvalidStatusTransition)
	}
	return nil
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func joinStatuses(statuses []models.OrderStatus) string {
	return strings.Join(statusStrings(statuses), "/")
}
