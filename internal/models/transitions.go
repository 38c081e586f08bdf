package models

// Allowed predecessors for each transition driver. A status missing from a
// table cannot be reached by that driver.

var memberCancellable = []OrderStatus{StatusPending, StatusPaid}

var returnable = []OrderStatus{StatusArrived, StatusCompleted}

var logisticsPredecessors = map[OrderStatus][]OrderStatus{
	StatusShipped:   {StatusPaid},
	StatusArrived:   {StatusShipped},
	StatusCompleted: {StatusShipped, StatusArrived},
	StatusReturned:  {StatusShipped, StatusArrived},
}

// MemberCancellableStatuses are the states a member may cancel from.
func MemberCancellableStatuses() []OrderStatus {
	return append([]OrderStatus(nil), memberCancellable...)
}

// ReturnableStatuses are the states a member may request a return from.
func ReturnableStatuses() []OrderStatus {
	return append([]OrderStatus(nil), returnable...)
}

// LogisticsPredecessors returns the states a logistics status update may
// advance from when moving to target.
func LogisticsPredecessors(target OrderStatus) []OrderStatus {
	return append([]OrderStatus(nil), logisticsPredecessors[target]...)
}

// ShippableStatuses returns the states from which a shipment may be created.
// Collect-on-delivery orders ship before payment.
func ShippableStatuses(method PaymentMethod) []OrderStatus {
	if method.Online() {
		return []OrderStatus{StatusPaid}
	}
	return []OrderStatus{StatusPending, StatusPaid}
}

// ReleasesStockOnCancel reports whether cancelling from status should put the
// reserved units back. Once goods have left the warehouse they are not
// restocked automatically.
func ReleasesStockOnCancel(from OrderStatus) bool {
	return from == StatusPending || from == StatusPaid
}

func ContainsStatus(statuses []OrderStatus, status OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
