package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentStore is the persistence surface the reconciler needs.
type PaymentStore interface {
	GetPaymentByGatewayRef(ctx context.Context, ref string) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	ApplyPaymentTransition(ctx context.Context, t store.PaymentTransition) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	RecordAudit(ctx context.Context, entry models.AuditLogEntry) error
}

// OrderTransitioner drives the order state machine from payment outcomes.
type OrderTransitioner interface {
	Transition(ctx context.Context, orderID int64, target models.OrderStatus, actor string) (*models.Order, error)
}

// WebhookEvent is the gateway's notification of a payment outcome.
type WebhookEvent struct {
	EventID     string          `json:"event_id"`
	PaymentRef  string          `json:"payment_ref"`
	OrderNumber string          `json:"order_number,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Method      string          `json:"method,omitempty"`
}

const webhookActor = "payment-gateway"

// Reconciler applies gateway webhook events to exactly one payment,
// exactly once. Gateways redeliver events; the same payload applied twice
// must leave the same state as applying it once.
type Reconciler struct {
	store     PaymentStore
	orders    OrderTransitioner
	publisher NotificationPublisher
	secret    string
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler creates a new payment reconciler.
func NewReconciler(st PaymentStore, orders OrderTransitioner, publisher NotificationPublisher, secret string) *Reconciler {
	return &Reconciler{
		store:     st,
		orders:    orders,
		publisher: publisher,
		secret:    secret,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// VerifySignature checks the HMAC-SHA256 of the raw payload against the
// gateway's shared secret.
func VerifySignature(secret string, payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &models.PaymentSignatureError{Reason: "hmac mismatch"}
	}
	return nil
}

// ProcessWebhook verifies, deduplicates and applies one webhook delivery.
// A forged payload is discarded and never reconsidered; a duplicate
// delivery is a success no-op.
func (r *Reconciler) ProcessWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.ProcessWebhook")
	defer span.End()

	if err := VerifySignature(r.secret, payload, signature); err != nil {
		util.WebhookEventsTotal.WithLabelValues("rejected_signature").Inc()
		r.logger.Error("Webhook signature verification failed",
			zap.Int("payload_bytes", len(payload)))
		return err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		util.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		return &models.ValidationError{Field: "payload", Reason: "malformed JSON"}
	}
	if event.PaymentRef == "" {
		return &models.ValidationError{Field: "payment_ref", Reason: "missing"}
	}
	claimed := models.PaymentStatus(event.Status)
	if claimed != models.PaymentStatusPaid && claimed != models.PaymentStatusFailed && claimed != models.PaymentStatusRefunded {
		return &models.ValidationError{Field: "status", Reason: "unknown payment status"}
	}

	payment, err := r.store.GetPaymentByGatewayRef(ctx, event.PaymentRef)
	if err != nil {
		return fmt.Errorf("failed to look up payment: %w", err)
	}

	// Explicit idempotency branch: a redelivered event whose status is
	// already applied mutates nothing, including the audit log.
	if payment != nil && payment.Status == claimed {
		util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		r.logger.Info("Duplicate webhook delivery",
			zap.String("payment_ref", event.PaymentRef),
			zap.String("status", string(claimed)))
		return nil
	}

	if payment == nil {
		payment, err = r.createPaymentForEvent(ctx, &event)
		if err != nil {
			return err
		}
		// The unique index on the gateway ref resolved a concurrent
		// delivery; take the no-op path if the race winner already applied
		// this status.
		if payment.Status == claimed {
			util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
	}

	var order *models.Order
	if payment.OrderID != nil {
		order, err = r.store.GetOrderByID(ctx, *payment.OrderID)
		if err != nil {
			return err
		}
	}

	if claimed == models.PaymentStatusPaid && order != nil && !event.Amount.Equal(order.FinalAmount) {
		util.WebhookEventsTotal.WithLabelValues("amount_mismatch").Inc()
		mismatch := &models.AmountMismatchError{
			GatewayRef: event.PaymentRef,
			Claimed:    event.Amount,
			Expected:   order.FinalAmount,
		}
		r.logger.Error("Webhook amount mismatch, payment held for review",
			zap.String("payment_ref", event.PaymentRef),
			zap.String("claimed", event.Amount.StringFixed(2)),
			zap.String("expected", order.FinalAmount.StringFixed(2)))
		// Keep the payment PENDING; record the discrepancy for review.
		if auditErr := r.store.RecordAudit(ctx, models.AuditLogEntry{
			Actor:      webhookActor,
			EntityType: "payment",
			EntityID:   payment.ID,
			OldValue:   string(payment.Status),
			NewValue:   "AMOUNT_MISMATCH:" + event.Amount.StringFixed(2),
		}); auditErr != nil {
			r.logger.Error("Failed to audit amount mismatch", zap.Error(auditErr))
		}
		return mismatch
	}

	switch claimed {
	case models.PaymentStatusRefunded:
		return r.applyRefund(ctx, payment, &event)
	default:
		return r.applyOutcome(ctx, payment, order, claimed, &event)
	}
}

// applyOutcome handles PENDING->PAID and PENDING->FAILED, driving the
// linked order to CONFIRMED or CANCELLED respectively.
func (r *Reconciler) applyOutcome(ctx context.Context, payment *models.Payment, order *models.Order, claimed models.PaymentStatus, event *WebhookEvent) error {
	if !models.CanTransitionPayment(payment.Status, claimed) {
		return &models.InvalidTransitionError{
			Entity: "payment",
			From:   string(payment.Status),
			To:     string(claimed),
		}
	}

	transition := store.PaymentTransition{
		PaymentID: payment.ID,
		From:      payment.Status,
		To:        claimed,
		Actor:     webhookActor,
		OrderID:   payment.OrderID,
	}
	if err := r.store.ApplyPaymentTransition(ctx, transition); err != nil {
		return err
	}
	payment.Status = claimed

	if order != nil {
		target := models.OrderStatusConfirmed
		if claimed == models.PaymentStatusFailed {
			target = models.OrderStatusCancelled
		}
		if _, err := r.orders.Transition(ctx, order.ID, target, webhookActor); err != nil {
			// The payment outcome is recorded; an order that already left
			// PENDING (e.g. admin cancellation racing the webhook) stays
			// where it is and is flagged for follow-up.
			var invalid *models.InvalidTransitionError
			if errors.As(err, &invalid) {
				r.logger.Warn("Order not transitioned for payment outcome",
					zap.Int64("order_id", order.ID),
					zap.String("outcome", string(claimed)),
					zap.Error(err))
			} else {
				return err
			}
		}
	}

	util.WebhookEventsTotal.WithLabelValues("applied").Inc()
	r.publishReconciled(ctx, payment, event)
	return nil
}

// applyRefund honours PAID->REFUNDED only for refunds this system asked
// for. An unsolicited REFUNDED event is logged and audited but never
// applied, so a misconfigured webhook cannot silently reverse revenue.
func (r *Reconciler) applyRefund(ctx context.Context, payment *models.Payment, event *WebhookEvent) error {
	if !models.CanTransitionPayment(payment.Status, models.PaymentStatusRefunded) {
		return &models.InvalidTransitionError{
			Entity: "payment",
			From:   string(payment.Status),
			To:     string(models.PaymentStatusRefunded),
		}
	}

	if !payment.RefundRequested {
		util.WebhookEventsTotal.WithLabelValues("unsolicited_refund").Inc()
		r.logger.Error("Unsolicited REFUNDED event ignored",
			zap.String("payment_ref", event.PaymentRef),
			zap.Int64("payment_id", payment.ID))
		if err := r.store.RecordAudit(ctx, models.AuditLogEntry{
			Actor:      webhookActor,
			EntityType: "payment",
			EntityID:   payment.ID,
			OldValue:   string(payment.Status),
			NewValue:   "REFUNDED_IGNORED",
		}); err != nil {
			r.logger.Error("Failed to audit unsolicited refund", zap.Error(err))
		}
		return nil
	}

	transition := store.PaymentTransition{
		PaymentID: payment.ID,
		From:      payment.Status,
		To:        models.PaymentStatusRefunded,
		Actor:     webhookActor,
		OrderID:   payment.OrderID,
	}
	if err := r.store.ApplyPaymentTransition(ctx, transition); err != nil {
		return err
	}
	payment.Status = models.PaymentStatusRefunded

	util.WebhookEventsTotal.WithLabelValues("applied").Inc()
	r.publishReconciled(ctx, payment, event)
	return nil
}

// createPaymentForEvent records a PENDING payment for a gateway reference
// seen for the first time, linked to the order the event names.
func (r *Reconciler) createPaymentForEvent(ctx context.Context, event *WebhookEvent) (*models.Payment, error) {
	if event.OrderNumber == "" {
		return nil, &models.ValidationError{Field: "order_number", Reason: "missing for unseen payment"}
	}
	order, err := r.store.GetOrderByNumber(ctx, event.OrderNumber)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, &models.ValidationError{Field: "order_number", Reason: "unknown order"}
		}
		return nil, err
	}

	ref := event.PaymentRef
	payment := &models.Payment{
		OrderID:           &order.ID,
		GatewayPaymentRef: &ref,
		GatewayOrderRef:   event.OrderNumber,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Status:            models.PaymentStatusPending,
		Method:            event.Method,
	}
	if err := r.store.CreatePayment(ctx, payment); err != nil {
		// Concurrent delivery of the same event: the unique gateway-ref
		// index rejected the second insert. Re-read and continue with the
		// winner's row.
		existing, lookupErr := r.store.GetPaymentByGatewayRef(ctx, event.PaymentRef)
		if lookupErr != nil || existing == nil {
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}
		return existing, nil
	}
	return payment, nil
}

func (r *Reconciler) publishReconciled(ctx context.Context, payment *models.Payment, event *WebhookEvent) {
	if r.publisher == nil {
		return
	}
	var orderID int64
	if payment.OrderID != nil {
		orderID = *payment.OrderID
	}
	reconciled := &models.PaymentReconciledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentReconciled,
			Timestamp: r.now(),
		},
		PaymentID:  payment.ID,
		OrderID:    orderID,
		GatewayRef: event.PaymentRef,
		Status:     payment.Status,
		Amount:     event.Amount.StringFixed(2),
	}
	if err := r.publisher.PublishPaymentReconciled(ctx, reconciled); err != nil {
		r.logger.Error("Failed to publish PaymentReconciled event", zap.Error(err))
	}
}
