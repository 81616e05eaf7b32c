package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/pricing"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the persistence surface the order state machine needs.
// *store.Store satisfies it; tests use an in-memory fake.
type OrderStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetAddressByID(ctx context.Context, id int64) (*models.Address, error)
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	GetActiveBulkRules(ctx context.Context) ([]models.BulkDiscountRule, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem, couponID *int64) error
	ApplyOrderTransition(ctx context.Context, t store.OrderTransition) error
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
}

// NotificationPublisher pushes events to the messaging collaborator after
// a committed transition. Failures are logged, never rolled back.
type NotificationPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error
	PublishDeliveryScheduled(ctx context.Context, event *models.DeliveryScheduledEvent) error
	PublishSubscriptionLifecycle(ctx context.Context, event *models.SubscriptionLifecycleEvent) error
}

// OrderService owns the order lifecycle: creation through checkout or
// scheduler materialization, and every status transition.
type OrderService struct {
	store     OrderStore
	gateway   PaymentGateway
	publisher NotificationPublisher
	logger    *zap.Logger
	currency  string
	now       func() time.Time
}

// NewOrderService creates a new order service.
func NewOrderService(st OrderStore, gateway PaymentGateway, publisher NotificationPublisher, currency string) *OrderService {
	return &OrderService{
		store:     st,
		gateway:   gateway,
		publisher: publisher,
		logger:    util.GetLogger(),
		currency:  currency,
		now:       time.Now,
	}
}

// CheckoutRequest is a submitted cart.
type CheckoutRequest struct {
	UserID         int64            `json:"user_id" binding:"required"`
	Items          []CheckoutItem   `json:"items" binding:"required,min=1"`
	CouponCode     string           `json:"coupon_code,omitempty"`
	AddressID      int64            `json:"address_id" binding:"required"`
	PriceTier      models.PriceTier `json:"price_tier,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// CheckoutItem is one cart line.
type CheckoutItem struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// Checkout prices the cart and creates the order in PENDING, reserving
// stock for every line as one atomic unit.
func (s *OrderService) Checkout(ctx context.Context, req *CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, &models.ValidationError{Field: "items", Reason: "cart is empty"}
	}
	if req.PriceTier == "" {
		req.PriceTier = models.PriceTierConsumer
	}
	if !models.ValidPriceTier(req.PriceTier) {
		return nil, &models.ValidationError{Field: "price_tier", Reason: "unknown tier"}
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate checkout request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return existing, nil
	}

	products, err := s.loadProducts(ctx, req.Items)
	if err != nil {
		util.CheckoutFailuresTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	lines := make([]pricing.Line, 0, len(req.Items))
	for _, item := range req.Items {
		product := products[item.ProductID]
		lines = append(lines, pricing.Line{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.PriceFor(req.PriceTier),
		})
	}

	var coupon *models.Coupon
	if req.CouponCode != "" {
		coupon, err = s.store.GetCouponByCode(ctx, req.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("failed to load coupon: %w", err)
		}
		if coupon == nil {
			util.CheckoutFailuresTotal.WithLabelValues("invalid_coupon").Inc()
			return nil, &models.InvalidCouponError{Code: req.CouponCode, Reason: "unknown code"}
		}
	}

	rules, err := s.store.GetActiveBulkRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load discount rules: %w", err)
	}

	quote, err := pricing.Calculate(lines, coupon, rules, s.now())
	if err != nil {
		util.CheckoutFailuresTotal.WithLabelValues("pricing").Inc()
		return nil, err
	}

	address, err := s.store.GetAddressByID(ctx, req.AddressID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, &models.ValidationError{Field: "address_id", Reason: "unknown address"}
		}
		return nil, fmt.Errorf("failed to load address: %w", err)
	}

	order := &models.Order{
		OrderNumber:     generateOrderNumber(),
		UserID:          req.UserID,
		Subtotal:        quote.Subtotal,
		DiscountAmount:  quote.DiscountAmount,
		FinalAmount:     quote.FinalAmount,
		Currency:        s.currency,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		AppliedRuleID:   quote.AppliedRuleID,
		AddressSnapshot: address.Snapshot(),
		Notes:           req.Notes,
		IdempotencyKey:  req.IdempotencyKey,
	}
	var couponID *int64
	if quote.AppliedCoupon != "" {
		order.CouponCode = &coupon.Code
		couponID = &coupon.ID
	}

	items := buildOrderItems(quote.Lines, products)

	if err := s.store.CreateOrderTx(ctx, order, items, couponID); err != nil {
		var short *models.InsufficientStockError
		if errors.As(err, &short) {
			util.StockConflictsTotal.Inc()
			util.CheckoutFailuresTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, err
		}
		util.CheckoutFailuresTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("final_amount", order.FinalAmount.StringFixed(2)))

	s.publishStatusChanged(ctx, order, "", order.Status, "user:"+fmt.Sprint(req.UserID))
	return order, nil
}

// Transition moves an order along a legal edge. Cancelling or refunding
// restores the exact quantities decremented at creation time; cancelling a
// PAID order additionally queues the payment for refund reconciliation.
func (s *OrderService) Transition(ctx context.Context, orderID int64, target models.OrderStatus, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transition")
	defer span.End()

	if !models.ValidOrderStatus(target) {
		return nil, &models.ValidationError{Field: "status", Reason: "unknown status"}
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransitionOrder(order.Status, target) {
		util.InvalidTransitionsTotal.Inc()
		return nil, &models.InvalidTransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(target),
		}
	}
	if target == models.OrderStatusRefunded && order.PaymentStatus != models.PaymentStatusPaid {
		util.InvalidTransitionsTotal.Inc()
		return nil, &models.InvalidTransitionError{
			Entity: "order",
			From:   string(order.Status),
			To:     string(target),
			Reason: "payment is not PAID",
		}
	}

	restore := target == models.OrderStatusCancelled || target == models.OrderStatusRefunded
	markRefund := target == models.OrderStatusRefunded ||
		(target == models.OrderStatusCancelled && order.PaymentStatus == models.PaymentStatusPaid)

	transition := store.OrderTransition{
		OrderID:           order.ID,
		From:              order.Status,
		To:                target,
		Actor:             actor,
		RestoreStock:      restore,
		MarkRefundPending: markRefund,
	}
	if err := s.store.ApplyOrderTransition(ctx, transition); err != nil {
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(target)).Inc()
	s.logger.Info("Order transitioned",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(target)),
		zap.String("actor", actor))

	from := order.Status
	order.Status = target
	s.publishStatusChanged(ctx, order, from, target, actor)
	return order, nil
}

// Refund handles the admin refund trigger: only legal while the payment is
// PAID. The order moves to REFUNDED (restoring stock, marking the payment
// refund-pending) and the refund request goes to the gateway; funds flip
// only when the gateway's REFUNDED webhook reconciles.
func (s *OrderService) Refund(ctx context.Context, orderID int64, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Refund")
	defer span.End()

	payment, err := s.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPaid {
		return nil, &models.InvalidTransitionError{
			Entity: "payment",
			From:   string(payment.Status),
			To:     string(models.PaymentStatusRefunded),
			Reason: "only PAID payments can be refunded",
		}
	}

	order, err := s.Transition(ctx, orderID, models.OrderStatusRefunded, actor)
	if err != nil {
		return nil, err
	}
	util.RefundsRequestedTotal.Inc()

	if payment.GatewayPaymentRef != nil && s.gateway != nil {
		if err := s.gateway.RequestRefund(ctx, *payment.GatewayPaymentRef, payment.Amount); err != nil {
			// The transition is committed; a gateway timeout is surfaced so
			// the caller retries the refund request with backoff.
			s.logger.Error("Refund request to gateway failed",
				zap.Int64("order_id", orderID),
				zap.Error(err))
			return order, err
		}
	}

	return order, nil
}

// MaterializeSubscriptionOrder creates the order for one subscription
// delivery cycle. The due-date-keyed idempotency key guarantees a
// subscription due on a date produces at most one order for that date even
// if the sweep runs twice.
func (s *OrderService) MaterializeSubscriptionOrder(ctx context.Context, sub *models.Subscription, dueDate time.Time) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MaterializeSubscriptionOrder")
	defer span.End()

	idKey := fmt.Sprintf("sub-%d-%s", sub.ID, dueDate.Format("2006-01-02"))
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, idKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	product, err := s.store.GetProductByID(ctx, sub.ProductID)
	if err != nil {
		return nil, err
	}

	rules, err := s.store.GetActiveBulkRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load discount rules: %w", err)
	}

	lines := []pricing.Line{{
		ProductID: product.ID,
		Quantity:  1,
		UnitPrice: product.ConsumerPrice,
	}}
	quote, err := pricing.Calculate(lines, nil, rules, s.now())
	if err != nil {
		return nil, err
	}

	subID := sub.ID
	order := &models.Order{
		OrderNumber:     generateOrderNumber(),
		UserID:          sub.UserID,
		SubscriptionID:  &subID,
		Subtotal:        quote.Subtotal,
		DiscountAmount:  quote.DiscountAmount,
		FinalAmount:     quote.FinalAmount,
		Currency:        s.currency,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		AppliedRuleID:   quote.AppliedRuleID,
		AddressSnapshot: sub.AddressSnapshot,
		IdempotencyKey:  idKey,
	}
	items := buildOrderItems(quote.Lines, map[int64]*models.Product{product.ID: product})

	if err := s.store.CreateOrderTx(ctx, order, items, nil); err != nil {
		return nil, err
	}

	s.logger.Info("Subscription order materialized",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("order_id", order.ID),
		zap.String("due_date", dueDate.Format("2006-01-02")))

	s.publishStatusChanged(ctx, order, "", order.Status, "scheduler")
	return order, nil
}

// GetOrder retrieves an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// ListUserOrders retrieves a user's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

func (s *OrderService) loadProducts(ctx context.Context, items []CheckoutItem) (map[int64]*models.Product, error) {
	productIDs := make([]int64, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}
	for _, item := range items {
		product, ok := productMap[item.ProductID]
		if !ok {
			return nil, &models.ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("product %d not found", item.ProductID),
			}
		}
		if !product.Active {
			return nil, &models.ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("product %d is not available", item.ProductID),
			}
		}
	}

	return productMap, nil
}

func (s *OrderService) publishStatusChanged(ctx context.Context, order *models.Order, from, to models.OrderStatus, actor string) {
	if s.publisher == nil {
		return
	}
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: s.now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OldStatus:   from,
		NewStatus:   to,
		Actor:       actor,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}

func buildOrderItems(lines []pricing.LineTotal, products map[int64]*models.Product) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product := products[line.ProductID]
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Title:     product.Name,
			SKU:       product.SKU,
			UnitSize:  product.UnitSize,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	return items
}

func generateOrderNumber() string {
	return "ORD-" + strings.ToUpper(uuid.New().String()[:8])
}
