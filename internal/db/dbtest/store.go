// Package dbtest provides an in-memory implementation of the db transaction
// contract. Transactions are serialized and a failed transaction restores the
// snapshot taken when it began, matching Postgres rollback semantics for the
// statements the services issue.
package dbtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/models"
)

type Store struct {
	mu     sync.Mutex
	st     *state
	now    func() time.Time
	faults map[string]error
}

type state struct {
	sequences map[string]int64
	settings  map[string]string
	products  map[int64]int
	variants  map[int64]int
	members   map[int64]int64
	orders    map[string]*storedOrder
	items     map[uuid.UUID][]models.OrderItem
	points    []models.PointTransaction
	returns   map[string]models.ReturnRequest

	nextSeq    int
	nextItem   int64
	nextPoint  int64
	nextReturn int64
}

type storedOrder struct {
	order     models.Order
	seq       int
}

func New() *Store {
	return &Store{
		st: &state{
			sequences: make(map[string]int64),
			settings:  make(map[string]string),
			products:  make(map[int64]int),
			variants:  make(map[int64]int),
			members:   make(map[int64]int64),
			orders:    make(map[string]*storedOrder),
			items:     make(map[uuid.UUID][]models.OrderItem),
			returns:   make(map[string]models.ReturnRequest),
		},
		now:    time.Now,
		faults: make(map[string]error),
	}
}

func (s *Store) InTx(ctx context.Context, fn func(db.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(db.Tx) error) error {
	return s.InTx(ctx, fn)
}

// Ping reports the store as healthy unless a "Ping" fault is set.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults["Ping"]
}

// SetNow overrides the clock used for timestamps.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes every later call of the named Tx method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

func (s *Store) SeedProduct(productID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[productID] = stock
}

func (s *Store) SeedVariant(variantID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.variants[variantID] = stock
}

func (s *Store) SeedMember(memberID, points int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.members[memberID] = points
}

func (s *Store) SetSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.settings[key] = value
}

func (s *Store) Stock(ref models.ItemRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref.HasVariant() {
		return s.st.variants[ref.VariantID]
	}
	return s.st.products[ref.ProductID]
}

func (s *Store) Points(memberID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.members[memberID]
}

// Order returns a copy of the stored order, or nil.
func (s *Store) Order(orderNo string) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.st.orders[orderNo]
	if !ok {
		return nil
	}
	order := stored.order
	return &order
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, items := range s.st.items {
		n += len(items)
	}
	return n
}

func (s *Store) Sequence(day time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sequences[day.Format(time.DateOnly)]
}

func (s *Store) PointTransactions(orderNo string) []models.PointTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PointTransaction
	for _, txn := range s.st.points {
		if txn.OrderNo == orderNo {
			out = append(out, txn)
		}
	}
	return out
}

// ShipmentClaimed reports whether a shipment request is in flight.
func (s *Store) ShipmentClaimed(orderNo string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.st.orders[orderNo]
	return ok && stored.order.ShipmentClaimedAt != nil
}

func (st *state) clone() *state {
	out := &state{
		sequences:  make(map[string]int64, len(st.sequences)),
		settings:   make(map[string]string, len(st.settings)),
		products:   make(map[int64]int, len(st.products)),
		variants:   make(map[int64]int, len(st.variants)),
		members:    make(map[int64]int64, len(st.members)),
		orders:     make(map[string]*storedOrder, len(st.orders)),
		items:      make(map[uuid.UUID][]models.OrderItem, len(st.items)),
		points:     append([]models.PointTransaction(nil), st.points...),
		returns:    make(map[string]models.ReturnRequest, len(st.returns)),
		nextSeq:    st.nextSeq,
		nextItem:   st.nextItem,
		nextPoint:  st.nextPoint,
		nextReturn: st.nextReturn,
	}
	for k, v := range st.sequences {
		out.sequences[k] = v
	}
	for k, v := range st.settings {
		out.settings[k] = v
	}
	for k, v := range st.products {
		out.products[k] = v
	}
	for k, v := range st.variants {
		out.variants[k] = v
	}
	for k, v := range st.members {
		out.members[k] = v
	}
	for k, v := range st.orders {
		copied := *v
		out.orders[k] = &copied
	}
	for k, v := range st.items {
		out.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range st.returns {
		out.returns[k] = v
	}
	return out
}

type tx struct {
	s *Store
}

func (t *tx) fault(method string) error {
	return t.s.faults[method]
}

func (t *tx) NextOrderSequence(_ context.Context, day time.Time) (int64, error) {
	if err := t.fault("NextOrderSequence"); err != nil {
		return 0, err
	}
	key := day.Format(time.DateOnly)
	t.s.st.sequences[key]++
	return t.s.st.sequences[key], nil
}

func (t *tx) Setting(_ context.Context, key string) (string, error) {
	value, ok := t.s.st.settings[key]
	if !ok {
		return "", db.ErrNotFound
	}
	return value, nil
}

func (t *tx) stockTable(ref models.ItemRef) (map[int64]int, int64) {
	if ref.HasVariant() {
		return t.s.st.variants, ref.VariantID
	}
	return t.s.st.products, ref.ProductID
}

func (t *tx) ReserveStock(_ context.Context, ref models.ItemRef, qty int) error {
	if err := t.fault("ReserveStock"); err != nil {
		return err
	}
	table, id := t.stockTable(ref)
	available, ok := table[id]
	if !ok {
		return fmt.Errorf("%s: %w", ref, db.ErrNotFound)
	}
	if available < qty {
		return &db.StockShortageError{ProductID: ref.ProductID, VariantID: ref.VariantID, Requested: qty, Available: available}
	}
	table[id] = available - qty
	return nil
}

func (t *tx) ReleaseStock(_ context.Context, ref models.ItemRef, qty int) error {
	if err := t.fault("ReleaseStock"); err != nil {
		return err
	}
	table, id := t.stockTable(ref)
	if _, ok := table[id]; !ok {
		return fmt.Errorf("%s: %w", ref, db.ErrNotFound)
	}
	table[id] += qty
	return nil
}

func (t *tx) InsertOrder(_ context.Context, order *models.Order) error {
	if err := t.fault("InsertOrder"); err != nil {
		return err
	}
	if _, exists := t.s.st.orders[order.OrderNo]; exists {
		return fmt.Errorf("duplicate order_no %s", order.OrderNo)
	}
	if _, ok := t.s.st.members[order.MemberID]; !ok {
		return fmt.Errorf("member %d: %w", order.MemberID, db.ErrNotFound)
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := t.s.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	stored := *order
	stored.Items = nil
	t.s.st.nextSeq++
	t.s.st.orders[order.OrderNo] = &storedOrder{order: stored, seq: t.s.st.nextSeq}
	return nil
}

func (t *tx) InsertOrderItem(_ context.Context, item *models.OrderItem) error {
	if err := t.fault("InsertOrderItem"); err != nil {
		return err
	}
	t.s.st.nextItem++
	item.ID = t.s.st.nextItem
	t.s.st.items[item.OrderID] = append(t.s.st.items[item.OrderID], *item)
	return nil
}

func (t *tx) GetOrder(_ context.Context, orderNo string, _ bool) (*models.Order, error) {
	if err := t.fault("GetOrder"); err != nil {
		return nil, err
	}
	stored, ok := t.s.st.orders[orderNo]
	if !ok {
		return nil, db.ErrNotFound
	}
	order := stored.order
	return &order, nil
}

func (t *tx) GetOrderByLogisticsID(_ context.Context, logisticsID string, _ bool) (*models.Order, error) {
	for _, stored := range t.s.st.orders {
		if logisticsID != "" && stored.order.LogisticsID == logisticsID {
			order := stored.order
			return &order, nil
		}
	}
	return nil, db.ErrNotFound
}

func (t *tx) ListOrderItems(_ context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	return append([]models.OrderItem(nil), t.s.st.items[orderID]...), nil
}

func (t *tx) sortedOrders(keep func(models.Order) bool) []models.Order {
	stored := make([]*storedOrder, 0, len(t.s.st.orders))
	for _, o := range t.s.st.orders {
		if keep(o.order) {
			stored = append(stored, o)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		if !stored[i].order.CreatedAt.Equal(stored[j].order.CreatedAt) {
			return stored[i].order.CreatedAt.After(stored[j].order.CreatedAt)
		}
		return stored[i].seq > stored[j].seq
	})
	out := make([]models.Order, len(stored))
	for i, o := range stored {
		out[i] = o.order
	}
	return out
}

func (t *tx) ListMemberOrders(_ context.Context, memberID int64) ([]models.Order, error) {
	return t.sortedOrders(func(o models.Order) bool { return o.MemberID == memberID }), nil
}

func (t *tx) ListOrders(_ context.Context, filter db.OrderFilter) ([]models.Order, int64, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := t.sortedOrders(func(o models.Order) bool {
		if filter.Status != "" && o.Status != filter.Status {
			return false
		}
		if search == "" {
			return true
		}
		return strings.Contains(strings.ToLower(o.OrderNo), search) ||
			strings.Contains(strings.ToLower(o.Receiver.Name), search)
	})

	total := int64(len(matched))
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.Limit
	if filter.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (t *tx) DeleteOrder(_ context.Context, orderNo string) error {
	stored, ok := t.s.st.orders[orderNo]
	if !ok {
		return db.ErrNotFound
	}
	delete(t.s.st.items, stored.order.ID)
	delete(t.s.st.returns, orderNo)
	delete(t.s.st.orders, orderNo)
	return nil
}

func (t *tx) MarkPaid(_ context.Context, orderNo, tradeNo string, paidAt time.Time) (models.OrderStatus, error) {
	if err := t.fault("MarkPaid"); err != nil {
		return "", err
	}
	stored, ok := t.s.st.orders[orderNo]
	if !ok || stored.order.PaymentStatus != models.PaymentUnpaid {
		return "", fmt.Errorf("%w: payment already settled", db.ErrInvalidStatusTransition)
	}
	stored.order.PaymentStatus = models.PaymentPaid
	stored.order.GatewayTradeNo = tradeNo
	paid := paidAt
	stored.order.PaidAt = &paid
	if stored.order.Status == models.StatusPending {
		stored.order.Status = models.StatusPaid
	}
	stored.order.UpdatedAt = t.s.now()
	return stored.order.Status, nil
}

func (t *tx) TransitionStatus(_ context.Context, orderNo string, from []models.OrderStatus, to models.OrderStatus) error {
	if err := t.fault("TransitionStatus"); err != nil {
		return err
	}
	stored, ok := t.s.st.orders[orderNo]
	if !ok || stored.order.ShipmentClaimedAt != nil || !models.ContainsStatus(from, stored.order.Status) {
		return db.ErrInvalidStatusTransition
	}
	stored.order.Status = to
	stored.order.UpdatedAt = t.s.now()
	return nil
}

func (t *tx) ClaimShipment(_ context.Context, orderNo string, from []models.OrderStatus) error {
	stored, ok := t.s.st.orders[orderNo]
	if !ok || stored.order.LogisticsID != "" || stored.order.ShipmentClaimedAt != nil || !models.ContainsStatus(from, stored.order.Status) {
		return db.ErrInvalidStatusTransition
	}
	now := t.s.now()
	stored.order.ShipmentClaimedAt = &now
	return nil
}

func (t *tx) ReleaseShipmentClaim(_ context.Context, orderNo string) error {
	if err := t.fault("ReleaseShipmentClaim"); err != nil {
		return err
	}
	stored, ok := t.s.st.orders[orderNo]
	if !ok || stored.order.LogisticsID != "" || stored.order.ShipmentClaimedAt == nil {
		return db.ErrInvalidStatusTransition
	}
	stored.order.ShipmentClaimedAt = nil
	stored.order.UpdatedAt = t.s.now()
	return nil
}

func (t *tx) RecordShipment(_ context.Context, orderNo string, shipment models.Shipment, from []models.OrderStatus) error {
	if err := t.fault("RecordShipment"); err != nil {
		return err
	}
	stored, ok := t.s.st.orders[orderNo]
	if !ok || stored.order.LogisticsID != "" || stored.order.ShipmentClaimedAt == nil || !models.ContainsStatus(from, stored.order.Status) {
		return db.ErrInvalidStatusTransition
	}
	now := t.s.now()
	stored.order.LogisticsID = shipment.LogisticsID
	stored.order.PickupCode = shipment.PickupCode
	stored.order.ValidationCode = shipment.ValidationCode
	stored.order.Status = models.StatusShipped
	stored.order.ShippedAt = &now
	stored.order.UpdatedAt = now
	stored.order.ShipmentClaimedAt = nil
	return nil
}

func (t *tx) AppendPointTransaction(_ context.Context, txn *models.PointTransaction) error {
	if err := t.fault("AppendPointTransaction"); err != nil {
		return err
	}
	t.s.st.nextPoint++
	txn.ID = t.s.st.nextPoint
	txn.CreatedAt = t.s.now()
	t.s.st.points = append(t.s.st.points, *txn)
	return nil
}

func (t *tx) AdjustMemberPoints(_ context.Context, memberID, delta int64) (int64, error) {
	balance, ok := t.s.st.members[memberID]
	if !ok {
		return 0, fmt.Errorf("member %d: %w", memberID, db.ErrNotFound)
	}
	if balance+delta < 0 {
		return 0, fmt.Errorf("member %d points would go negative", memberID)
	}
	t.s.st.members[memberID] = balance + delta
	return balance + delta, nil
}

func (t *tx) MemberPoints(_ context.Context, memberID int64, _ bool) (int64, error) {
	balance, ok := t.s.st.members[memberID]
	if !ok {
		return 0, fmt.Errorf("member %d: %w", memberID, db.ErrNotFound)
	}
	return balance, nil
}

func (t *tx) SumOrderPoints(_ context.Context, orderNo string, typ models.PointType) (int64, error) {
	var total int64
	for _, txn := range t.s.st.points {
		if txn.OrderNo == orderNo && txn.Type == typ {
			total += txn.Points
		}
	}
	return total, nil
}

func (t *tx) ListPointTransactions(_ context.Context, memberID int64) ([]models.PointTransaction, error) {
	var out []models.PointTransaction
	for i := len(t.s.st.points) - 1; i >= 0; i-- {
		if t.s.st.points[i].MemberID == memberID {
			out = append(out, t.s.st.points[i])
		}
	}
	return out, nil
}

func (t *tx) InsertReturnRequest(_ context.Context, req *models.ReturnRequest) error {
	if _, exists := t.s.st.returns[req.OrderNo]; exists {
		return fmt.Errorf("return request for %s already exists", req.OrderNo)
	}
	t.s.st.nextReturn++
	req.ID = t.s.st.nextReturn
	req.CreatedAt = t.s.now()
	t.s.st.returns[req.OrderNo] = *req
	return nil
}

func (t *tx) GetReturnRequest(_ context.Context, orderNo string) (*models.ReturnRequest, error) {
	req, ok := t.s.st.returns[orderNo]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &req, nil
}

func (t *tx) DashboardStats(_ context.Context) (models.DashboardStats, error) {
	stats := models.DashboardStats{
		TotalProducts:  int64(len(t.s.st.products)),
		TotalOrders:    int64(len(t.s.st.orders)),
		TotalMembers:   int64(len(t.s.st.members)),
		OrdersByStatus: make(map[models.OrderStatus]int64),
	}
	for _, stored := range t.s.st.orders {
		stats.OrdersByStatus[stored.order.Status]++
		if stored.order.Status != models.StatusCancelled {
			stats.TotalRevenue += stored.order.Total
		}
	}
	return stats, nil
}

var _ db.Tx = (*tx)(nil)
