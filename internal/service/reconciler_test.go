package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func marshalEvent(t *testing.T, event WebhookEvent) []byte {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return b
}

func newTestReconciler(fs *fakeStore, pub *fakePublisher) (*Reconciler, *OrderService) {
	orders := newTestOrderService(fs, &fakeGateway{}, pub)
	rec := NewReconciler(fs, orders, pub, testSecret)
	rec.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return rec, orders
}

func checkoutOrder(t *testing.T, svc *OrderService) *models.Order {
	t.Helper()
	order, err := svc.Checkout(context.Background(), &CheckoutRequest{
		UserID:    42,
		Items:     []CheckoutItem{{ProductID: 1, Quantity: 2}},
		AddressID: 1,
	})
	require.NoError(t, err)
	return order
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event_id":"evt_1"}`)

	assert.NoError(t, VerifySignature(testSecret, payload, sign(payload)))

	err := VerifySignature(testSecret, payload, "deadbeef")
	var sigErr *models.PaymentSignatureError
	assert.ErrorAs(t, err, &sigErr)
}

func TestProcessWebhookRejectsForgedPayload(t *testing.T) {
	fs := seedStore()
	rec, _ := newTestReconciler(fs, &fakePublisher{})

	payload := marshalEvent(t, WebhookEvent{
		EventID: "evt_1", PaymentRef: "pay_1", Status: "PAID", Amount: d("200"), Currency: "INR",
	})

	err := rec.ProcessWebhook(context.Background(), payload, "bad-signature")
	var sigErr *models.PaymentSignatureError
	require.ErrorAs(t, err, &sigErr)

	assert.Empty(t, fs.payments, "forged event leaves no trace")
	assert.Empty(t, fs.audits)
}

func TestProcessWebhookPaidConfirmsOrder(t *testing.T) {
	fs := seedStore()
	pub := &fakePublisher{}
	rec, orders := newTestReconciler(fs, pub)
	order := checkoutOrder(t, orders)

	payload := marshalEvent(t, WebhookEvent{
		EventID:     "evt_1",
		PaymentRef:  "pay_1",
		OrderNumber: order.OrderNumber,
		Amount:      order.FinalAmount,
		Currency:    "INR",
		Status:      "PAID",
	})
	require.NoError(t, rec.ProcessWebhook(context.Background(), payload, sign(payload)))

	payment, err := fs.GetPaymentByGatewayRef(context.Background(), "pay_1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)

	current, err := fs.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, current.Status)
	assert.Equal(t, models.PaymentStatusPaid, current.PaymentStatus)

	require.Len(t, pub.paymentEvents, 1)
	assert.Equal(t, models.PaymentStatusPaid, pub.paymentEvents[0].Status)
}

func TestProcessWebhookDuplicateIsNoOp(t *testing.T) {
	fs := seedStore()
	rec, orders := newTestReconciler(fs, &fakePublisher{})
	order := checkoutOrder(t, orders)

	payload := marshalEvent(t, WebhookEvent{
		EventID:     "evt_1",
		PaymentRef:  "pay_1",
		OrderNumber: order.OrderNumber,
		Amount:      order.FinalAmount,
		Currency:    "INR",
		Status:      "PAID",
	})
	require.NoError(t, rec.ProcessWebhook(context.Background(), payload, sign(payload)))
	auditsAfterFirst := len(fs.audits)

	// Gateway redelivers the identical event.
	require.NoError(t, rec.ProcessWebhook(context.Background(), payload, sign(payload)))

	assert.Len(t, fs.audits, auditsAfterFirst, "duplicate writes no audit entry")
	assert.Len(t, fs.payments, 1)

	current, _ := fs.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusConfirmed, current.Status)
}

func TestProcessWebhookFailedCancelsOrderAndRestoresStock(t *testing.T) {
	fs := seedStore()
	rec, orders := newTestReconciler(fs, &fakePublisher{})
	order := checkoutOrder(t, orders)
	assert.Equal(t, 8, fs.products[1].StockQuantity)

	payload := marshalEvent(t, WebhookEvent{
		EventID:     "evt_1",
		PaymentRef:  "pay_1",
		OrderNumber: order.OrderNumber,
		Amount:      order.FinalAmount,
		Currency:    "INR",
		Status:      "FAILED",
	})
	require.NoError(t, rec.ProcessWebhook(context.Background(), payload, sign(payload)))

	current, _ := fs.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusCancelled, current.Status)
	assert.Equal(t, 10, fs.products[1].StockQuantity, "reserved stock returned")
}

func TestProcessWebhookAmountMismatchHoldsPayment(t *testing.T) {
	fs := seedStore()
	rec, orders := newTestReconciler(fs, &fakePublisher{})
	order := checkoutOrder(t, orders)

	payload := marshalEvent(t, WebhookEvent{
		EventID:     "evt_1",
		PaymentRef:  "pay_1",
		OrderNumber: order.OrderNumber,
		Amount:      order.FinalAmount.Add(d("100")),
		Currency:    "INR",
		Status:      "PAID",
	})

	err := rec.ProcessWebhook(context.Background(), payload, sign(payload))
	var mismatch *models.AmountMismatchError
	require.ErrorAs(t, err, &mismatch)

	payment, _ := fs.GetPaymentByGatewayRef(context.Background(), "pay_1")
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStatusPending, payment.Status, "payment held, not marked PAID")

	current, _ := fs.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusPending, current.Status)

	// The discrepancy itself is on the audit trail.
	found := false
	for _, a := range fs.audits {
		if a.EntityType == "payment" && a.NewValue == "AMOUNT_MISMATCH:"+order.FinalAmount.Add(d("100")).StringFixed(2) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProcessWebhookUnsolicitedRefundIgnored(t *testing.T) {
	fs := seedStore()
	rec, orders := newTestReconciler(fs, &fakePublisher{})
	order := checkoutOrder(t, orders)

	ref := "pay_1"
	require.NoError(t, fs.CreatePayment(context.Background(), &models.Payment{
		OrderID:           &order.ID,
		GatewayPaymentRef: &ref,
		Amount:            order.FinalAmount,
		Currency:          "INR",
		Status:            models.PaymentStatusPaid,
	}))

	payload := marshalEvent(t, WebhookEvent{
		EventID:    "evt_refund",
		PaymentRef: ref,
		Amount:     order.FinalAmount,
		Currency:   "INR",
		Status:     "REFUNDED",
	})
	require.NoError(t, rec.ProcessWebhook(context.Background(), payload, sign(payload)))

	payment, _ := fs.GetPaymentByGatewayRef(context.Background(), ref)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status, "refund not applied")

	found := false
	for _, a := range fs.audits {
		if a.NewValue == "REFUNDED_IGNORED" {
			found = true
		}
	}
	assert.True(t, found, "ignored refund is audited")
}

func TestProcessWebhookSolicitedRefundApplies(t *testing.T) {
	fs := seedStore()
	pub := &fakePublisher{}
	rec, orders := newTestReconciler(fs, pub)
	order := checkoutOrder(t, orders)

	ref := "pay_1"
	require.NoError(t, fs.CreatePayment(context.Background(), &models.Payment{
		OrderID:           &order.ID,
		GatewayPaymentRef: &ref,
		Amount:            order.FinalAmount,
		Currency:          "INR",
		Status:            models.PaymentStatusPaid,
		RefundRequested:   true,
	}))

	payload := marshalEvent(t, WebhookEvent{
		EventID:    "evt_refund",
		PaymentRef: ref,
		Amount:     order.FinalAmount,
		Currency:   "INR",
		Status:     "REFUNDED",
	})
	require.NoError(t, rec.ProcessWebhook(context.Background(), payload, sign(payload)))

	payment, _ := fs.GetPaymentByGatewayRef(context.Background(), ref)
	assert.Equal(t, models.PaymentStatusRefunded, payment.Status)
	require.Len(t, pub.paymentEvents, 1)
	assert.Equal(t, models.PaymentStatusRefunded, pub.paymentEvents[0].Status)
}

func TestProcessWebhookUnknownOrderRejected(t *testing.T) {
	fs := seedStore()
	rec, _ := newTestReconciler(fs, &fakePublisher{})

	payload := marshalEvent(t, WebhookEvent{
		EventID:     "evt_1",
		PaymentRef:  "pay_1",
		OrderNumber: "ORD-NOSUCH",
		Amount:      d("100"),
		Currency:    "INR",
		Status:      "PAID",
	})

	err := rec.ProcessWebhook(context.Background(), payload, sign(payload))
	var v *models.ValidationError
	assert.ErrorAs(t, err, &v)
}

func TestProcessWebhookRejectsUnknownStatus(t *testing.T) {
	fs := seedStore()
	rec, _ := newTestReconciler(fs, &fakePublisher{})

	payload := marshalEvent(t, WebhookEvent{
		EventID: "evt_1", PaymentRef: "pay_1", Status: "SETTLED", Amount: d("100"), Currency: "INR",
	})

	err := rec.ProcessWebhook(context.Background(), payload, sign(payload))
	var v *models.ValidationError
	assert.ErrorAs(t, err, &v)
}

func TestProcessWebhookOrderAlreadyMovedKeepsPaymentOutcome(t *testing.T) {
	fs := seedStore()
	rec, orders := newTestReconciler(fs, &fakePublisher{})
	order := checkoutOrder(t, orders)

	// Customer cancelled while the charge was in flight.
	_, err := orders.Transition(context.Background(), order.ID, models.OrderStatusCancelled, "user")
	require.NoError(t, err)

	payload := marshalEvent(t, WebhookEvent{
		EventID:     "evt_1",
		PaymentRef:  "pay_1",
		OrderNumber: order.OrderNumber,
		Amount:      order.FinalAmount,
		Currency:    "INR",
		Status:      "PAID",
	})
	require.NoError(t, rec.ProcessWebhook(context.Background(), payload, sign(payload)))

	// The payment fact is recorded even though the order stayed CANCELLED.
	payment, _ := fs.GetPaymentByGatewayRef(context.Background(), "pay_1")
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)

	current, _ := fs.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusCancelled, current.Status)
}
