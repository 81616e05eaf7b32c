package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionSweepStore is the persistence surface the sweep needs.
type SubscriptionSweepStore interface {
	ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]models.Subscription, error)
	AdvanceNextDelivery(ctx context.Context, subID int64, from, to time.Time) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SetPaymentGatewayRef(ctx context.Context, paymentID int64, ref string) error
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
}

// OrderMaterializer turns one due subscription cycle into an order.
type OrderMaterializer interface {
	MaterializeSubscriptionOrder(ctx context.Context, sub *models.Subscription, dueDate time.Time) (*models.Order, error)
}

// Locker serializes workers contending for the same subscription.
type Locker interface {
	AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, holder string) error
}

// Scheduler periodically sweeps due subscriptions, materializing one order
// per due cycle and advancing each subscription's next delivery date. A
// Redis lease per subscription keeps concurrent replicas from double
// processing; the due-date idempotency key on the order is the backstop.
type Scheduler struct {
	store     SubscriptionSweepStore
	orders    OrderMaterializer
	gateway   service.PaymentGateway
	locker    Locker
	publisher service.NotificationPublisher
	logger    *zap.Logger
	now       func() time.Time
	interval  time.Duration
	leaseTTL  time.Duration
	holderID  string
	currency  string
}

func New(store SubscriptionSweepStore, orders OrderMaterializer, gateway service.PaymentGateway, locker Locker, publisher service.NotificationPublisher, interval, leaseTTL time.Duration, currency string) *Scheduler {
	return &Scheduler{
		store:     store,
		orders:    orders,
		gateway:   gateway,
		locker:    locker,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
		interval:  interval,
		leaseTTL:  leaseTTL,
		holderID:  uuid.New().String(),
		currency:  currency,
	}
}

// NextDeliveryDate computes the delivery date following current for the
// given frequency. Pure calendar arithmetic; no wall clock involved.
func NextDeliveryDate(current time.Time, freq models.SubscriptionFrequency) time.Time {
	return current.AddDate(0, 0, freq.IntervalDays())
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Subscription scheduler started",
		zap.Duration("interval", s.interval),
		zap.String("holder_id", s.holderID))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Subscription scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("Subscription sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep processes every subscription due as of now. Failures are isolated
// per subscription: one failed cycle never blocks the rest of the batch.
func (s *Scheduler) Sweep(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "Scheduler.Sweep")
	defer span.End()

	util.SweepRunsTotal.Inc()
	asOf := s.now()

	due, err := s.store.ListDueSubscriptions(ctx, asOf)
	if err != nil {
		return fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info("Sweeping due subscriptions", zap.Int("count", len(due)))

	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.processSubscription(ctx, &due[i]); err != nil {
			var conflict *models.SchedulingConflictError
			if errors.As(err, &conflict) {
				util.SweepClaimConflictsTotal.Inc()
				continue
			}
			util.DeliveryFailuresTotal.WithLabelValues(failureReason(err)).Inc()
			s.logger.Error("Failed to process due subscription",
				zap.Int64("subscription_id", due[i].ID),
				zap.Error(err))
		}
	}
	return nil
}

// processSubscription handles one due cycle under a lease: materialize the
// order, open a payment, request the charge, then advance the schedule.
// Only a materialization failure leaves the due date in place for retry; a
// charge-request failure is logged and retried out of band so a flaky
// gateway cannot stall the delivery calendar.
func (s *Scheduler) processSubscription(ctx context.Context, sub *models.Subscription) error {
	leaseKey := fmt.Sprintf("subscription:%d", sub.ID)
	acquired, err := s.locker.AcquireLease(ctx, leaseKey, s.holderID, s.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		return &models.SchedulingConflictError{SubscriptionID: sub.ID}
	}
	defer func() {
		if err := s.locker.ReleaseLease(ctx, leaseKey, s.holderID); err != nil {
			s.logger.Warn("Failed to release subscription lease",
				zap.Int64("subscription_id", sub.ID), zap.Error(err))
		}
	}()

	dueDate := sub.NextDeliveryDate

	order, err := s.orders.MaterializeSubscriptionOrder(ctx, sub, dueDate)
	if err != nil {
		return fmt.Errorf("failed to materialize order: %w", err)
	}
	util.DeliveriesMaterializedTotal.Inc()

	s.ensureCharge(ctx, sub, order)

	next := NextDeliveryDate(dueDate, sub.Frequency)
	if err := s.store.AdvanceNextDelivery(ctx, sub.ID, dueDate, next); err != nil {
		return fmt.Errorf("failed to advance delivery date: %w", err)
	}

	s.logger.Info("Subscription cycle scheduled",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("order_id", order.ID),
		zap.String("due_date", dueDate.Format("2006-01-02")),
		zap.String("next_delivery", next.Format("2006-01-02")))

	s.publishScheduled(ctx, sub, order, dueDate, next)
	return nil
}

// ensureCharge opens a PENDING payment for the materialized order and asks
// the gateway to collect it. A re-run after a partial failure finds the
// existing payment and only retries the missing pieces.
func (s *Scheduler) ensureCharge(ctx context.Context, sub *models.Subscription, order *models.Order) {
	payment, err := s.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("Failed to look up payment for materialized order",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}

	if payment == nil {
		// The charge belongs to the materialized order; the order row
		// already carries the subscription link.
		payment = &models.Payment{
			OrderID:         &order.ID,
			GatewayOrderRef: order.OrderNumber,
			Amount:          order.FinalAmount,
			Currency:        s.currency,
			Status:          models.PaymentStatusPending,
			Method:          "subscription",
		}
		if err := s.store.CreatePayment(ctx, payment); err != nil {
			s.logger.Error("Failed to create payment for materialized order",
				zap.Int64("order_id", order.ID), zap.Error(err))
			return
		}
	}
	if payment.GatewayPaymentRef != nil {
		return
	}

	resp, err := s.gateway.CreateCharge(ctx, &service.ChargeRequest{
		OrderNumber:     order.OrderNumber,
		Amount:          order.FinalAmount,
		Currency:        s.currency,
		SubscriptionRef: sub.GatewaySubRef,
	})
	if err != nil {
		// Settlement arrives by webhook; the delivery calendar does not
		// wait on the gateway.
		s.logger.Error("Charge request failed, will retry next sweep",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	if err := s.store.SetPaymentGatewayRef(ctx, payment.ID, resp.PaymentRef); err != nil {
		s.logger.Error("Failed to record gateway payment ref",
			zap.Int64("payment_id", payment.ID), zap.Error(err))
	}
}

func (s *Scheduler) publishScheduled(ctx context.Context, sub *models.Subscription, order *models.Order, dueDate, next time.Time) {
	if s.publisher == nil {
		return
	}
	event := &models.DeliveryScheduledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDeliveryScheduled,
			Timestamp: s.now(),
		},
		SubscriptionID: sub.ID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		DueDate:        dueDate.Format("2006-01-02"),
		NextDelivery:   next.Format("2006-01-02"),
	}
	if err := s.publisher.PublishDeliveryScheduled(ctx, event); err != nil {
		s.logger.Error("Failed to publish DeliveryScheduled event", zap.Error(err))
	}
}

func failureReason(err error) string {
	var short *models.InsufficientStockError
	if errors.As(err, &short) {
		return "insufficient_stock"
	}
	var timeout *models.GatewayTimeoutError
	if errors.As(err, &timeout) {
		return "gateway_timeout"
	}
	return "internal"
}
