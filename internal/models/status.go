package models

// OrderStatus is the fulfillment state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusWaitingDelivery OrderStatus = "WAITING_DELIVERY"
	OrderStatusInDelivery      OrderStatus = "IN_DELIVERY"
	OrderStatusFinished        OrderStatus = "FINISHED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// AllowedTransitions lists the statuses reachable from each status.
// FINISHED and CANCELLED are terminal.
var AllowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusWaitingDelivery, OrderStatusCancelled},
	OrderStatusWaitingDelivery: {OrderStatusInDelivery, OrderStatusCancelled},
	OrderStatusInDelivery:      {OrderStatusFinished},
	OrderStatusFinished:        {},
	OrderStatusCancelled:       {},
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to OrderStatus) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist
func (s OrderStatus) IsTerminal() bool {
	return len(AllowedTransitions[s]) == 0
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	_, ok := AllowedTransitions[s]
	return ok
}
