package models

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusPacked         OrderStatus = "PACKED"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

// orderTransitions is the legal-edge table. Adding a state means editing
// this table, nothing else. Terminal states have no outgoing edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusPacked, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusPacked:         {OrderStatusOutForDelivery, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusDelivered:      {},
	OrderStatusCancelled:      {},
	OrderStatusRefunded:       {},
}

// CanTransitionOrder reports whether from -> to is a legal order edge.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalOrderStatus reports whether s has no outgoing edges.
func IsTerminalOrderStatus(s OrderStatus) bool {
	return len(orderTransitions[s]) == 0
}

// ValidOrderStatus reports whether s is a known status.
func ValidOrderStatus(s OrderStatus) bool {
	_, ok := orderTransitions[s]
	return ok
}

// PaymentStatus is the payment lifecycle state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:  {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:     {PaymentStatusRefunded},
	PaymentStatusFailed:   {},
	PaymentStatusRefunded: {},
}

// CanTransitionPayment reports whether from -> to is a legal payment edge.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidPaymentStatus reports whether s is a known status.
func ValidPaymentStatus(s PaymentStatus) bool {
	_, ok := paymentTransitions[s]
	return ok
}

// SubscriptionStatus is the subscription lifecycle state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused    SubscriptionStatus = "PAUSED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive:    {SubscriptionStatusPaused, SubscriptionStatusCancelled},
	SubscriptionStatusPaused:    {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusCancelled: {},
}

// CanTransitionSubscription reports whether from -> to is a legal edge.
func CanTransitionSubscription(from, to SubscriptionStatus) bool {
	for _, s := range subscriptionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SubscriptionFrequency is the delivery cadence.
type SubscriptionFrequency string

const (
	FrequencyDaily         SubscriptionFrequency = "DAILY"
	FrequencyAlternateDays SubscriptionFrequency = "ALTERNATE_DAYS"
	FrequencyWeekly        SubscriptionFrequency = "WEEKLY"
)

// IntervalDays returns the number of days between deliveries.
func (f SubscriptionFrequency) IntervalDays() int {
	switch f {
	case FrequencyDaily:
		return 1
	case FrequencyAlternateDays:
		return 2
	case FrequencyWeekly:
		return 7
	}
	return 0
}

// ValidFrequency reports whether f is a known frequency.
func ValidFrequency(f SubscriptionFrequency) bool {
	return f.IntervalDays() > 0
}
