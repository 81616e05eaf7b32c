package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events after committed state
// transitions. Publishing is fire-and-forget from the caller's view: a
// failed publish is logged, never rolled back into the transition.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderStatusChanged publishes an OrderStatusChanged event.
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentReconciled publishes a PaymentReconciled event.
func (ep *EventPublisher) PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	key := fmt.Sprintf("payment-%d", event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDeliveryScheduled publishes a DeliveryScheduled event.
func (ep *EventPublisher) PublishDeliveryScheduled(ctx context.Context, event *models.DeliveryScheduledEvent) error {
	key := fmt.Sprintf("subscription-%d", event.SubscriptionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSubscriptionLifecycle publishes a SubscriptionLifecycle event.
func (ep *EventPublisher) PublishSubscriptionLifecycle(ctx context.Context, event *models.SubscriptionLifecycleEvent) error {
	key := fmt.Sprintf("subscription-%d", event.SubscriptionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes consumed events to registered callbacks.
type EventHandler struct {
	logger *zap.Logger

	onOrderStatusChanged    func(context.Context, *models.OrderStatusChangedEvent) error
	onPaymentReconciled     func(context.Context, *models.PaymentReconciledEvent) error
	onDeliveryScheduled     func(context.Context, *models.DeliveryScheduledEvent) error
	onSubscriptionLifecycle func(context.Context, *models.SubscriptionLifecycleEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events.
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onOrderStatusChanged = handler
}

// OnPaymentReconciled registers a handler for PaymentReconciled events.
func (eh *EventHandler) OnPaymentReconciled(handler func(context.Context, *models.PaymentReconciledEvent) error) {
	eh.onPaymentReconciled = handler
}

// OnDeliveryScheduled registers a handler for DeliveryScheduled events.
func (eh *EventHandler) OnDeliveryScheduled(handler func(context.Context, *models.DeliveryScheduledEvent) error) {
	eh.onDeliveryScheduled = handler
}

// OnSubscriptionLifecycle registers a handler for SubscriptionLifecycle events.
func (eh *EventHandler) OnSubscriptionLifecycle(handler func(context.Context, *models.SubscriptionLifecycleEvent) error) {
	eh.onSubscriptionLifecycle = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderStatusChanged:
		if eh.onOrderStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
			}
			return eh.onOrderStatusChanged(ctx, &event)
		}

	case models.EventTypePaymentReconciled:
		if eh.onPaymentReconciled != nil {
			var event models.PaymentReconciledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentReconciled event: %w", err)
			}
			return eh.onPaymentReconciled(ctx, &event)
		}

	case models.EventTypeDeliveryScheduled:
		if eh.onDeliveryScheduled != nil {
			var event models.DeliveryScheduledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal DeliveryScheduled event: %w", err)
			}
			return eh.onDeliveryScheduled(ctx, &event)
		}

	case models.EventTypeSubscriptionLifecycle:
		if eh.onSubscriptionLifecycle != nil {
			var event models.SubscriptionLifecycleEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SubscriptionLifecycle event: %w", err)
			}
			return eh.onSubscriptionLifecycle(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
