package models

import "time"

// Event types published after committed state changes. Consumers dispatch
// notifications; publish or dispatch failures never roll back a transition.
const (
	EventTypeOrderStatusChanged    = "ORDER_STATUS_CHANGED"
	EventTypePaymentReconciled     = "PAYMENT_RECONCILED"
	EventTypeDeliveryScheduled     = "SUBSCRIPTION_DELIVERY_SCHEDULED"
	EventTypeSubscriptionLifecycle = "SUBSCRIPTION_LIFECYCLE"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderStatusChangedEvent is published after every committed order
// transition, including creation (OldStatus empty).
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      int64       `json:"user_id"`
	OldStatus   OrderStatus `json:"old_status,omitempty"`
	NewStatus   OrderStatus `json:"new_status"`
	Actor       string      `json:"actor"`
}

// PaymentReconciledEvent is published after a webhook outcome is applied.
type PaymentReconciledEvent struct {
	BaseEvent
	PaymentID  int64         `json:"payment_id"`
	OrderID    int64         `json:"order_id,omitempty"`
	GatewayRef string        `json:"gateway_ref"`
	Status     PaymentStatus `json:"status"`
	Amount     string        `json:"amount"`
}

// DeliveryScheduledEvent is published when a sweep materializes an order
// for a subscription cycle.
type DeliveryScheduledEvent struct {
	BaseEvent
	SubscriptionID int64  `json:"subscription_id"`
	OrderID        int64  `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	DueDate        string `json:"due_date"`
	NextDelivery   string `json:"next_delivery"`
}

// SubscriptionLifecycleEvent is published on subscribe/pause/resume/cancel.
type SubscriptionLifecycleEvent struct {
	BaseEvent
	SubscriptionID int64              `json:"subscription_id"`
	UserID         int64              `json:"user_id"`
	OldStatus      SubscriptionStatus `json:"old_status,omitempty"`
	NewStatus      SubscriptionStatus `json:"new_status"`
}
