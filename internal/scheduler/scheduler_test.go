package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweepStore struct {
	subs     map[int64]*models.Subscription
	payments map[int64]*models.Payment
	nextID   int64
	advances int
}

func newFakeSweepStore() *fakeSweepStore {
	return &fakeSweepStore{
		subs:     make(map[int64]*models.Subscription),
		payments: make(map[int64]*models.Payment),
		nextID:   1,
	}
}

func (f *fakeSweepStore) ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]models.Subscription, error) {
	var due []models.Subscription
	for _, s := range f.subs {
		if s.Status == models.SubscriptionStatusActive && !s.NextDeliveryDate.After(asOf) {
			due = append(due, *s)
		}
	}
	return due, nil
}

func (f *fakeSweepStore) AdvanceNextDelivery(ctx context.Context, subID int64, from, to time.Time) error {
	s, ok := f.subs[subID]
	if !ok {
		return fmt.Errorf("subscription %d: %w", subID, models.ErrNotFound)
	}
	if !s.NextDeliveryDate.Equal(from) {
		return &models.SchedulingConflictError{SubscriptionID: subID}
	}
	s.NextDeliveryDate = to
	f.advances++
	return nil
}

func (f *fakeSweepStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	payment.ID = f.nextID
	f.nextID++
	stored := *payment
	f.payments[payment.ID] = &stored
	return nil
}

func (f *fakeSweepStore) SetPaymentGatewayRef(ctx context.Context, paymentID int64, ref string) error {
	p, ok := f.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment %d: %w", paymentID, models.ErrNotFound)
	}
	p.GatewayPaymentRef = &ref
	return nil
}

func (f *fakeSweepStore) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	for _, p := range f.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
}

// fakeMaterializer keys orders by subscription and due date, mirroring the
// idempotency the order service provides.
type fakeMaterializer struct {
	orders  map[string]*models.Order
	nextID  int64
	failErr error
	calls   int
}

func newFakeMaterializer() *fakeMaterializer {
	return &fakeMaterializer{orders: make(map[string]*models.Order), nextID: 100}
}

func (f *fakeMaterializer) MaterializeSubscriptionOrder(ctx context.Context, sub *models.Subscription, dueDate time.Time) (*models.Order, error) {
	f.calls++
	if f.failErr != nil {
		return nil, f.failErr
	}
	key := fmt.Sprintf("%d-%s", sub.ID, dueDate.Format("2006-01-02"))
	if o, ok := f.orders[key]; ok {
		return o, nil
	}
	id := f.nextID
	f.nextID++
	subID := sub.ID
	order := &models.Order{
		ID:             id,
		OrderNumber:    fmt.Sprintf("ORD-%d", id),
		UserID:         sub.UserID,
		SubscriptionID: &subID,
		FinalAmount:    decimal.NewFromInt(100),
		Status:         models.OrderStatusPending,
	}
	f.orders[key] = order
	return order, nil
}

type fakeLocker struct {
	held   map[string]string
	denied map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string), denied: make(map[string]bool)}
}

func (l *fakeLocker) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	if l.denied[key] {
		return false, nil
	}
	if _, taken := l.held[key]; taken {
		return false, nil
	}
	l.held[key] = holder
	return true, nil
}

func (l *fakeLocker) ReleaseLease(ctx context.Context, key, holder string) error {
	if l.held[key] == holder {
		delete(l.held, key)
	}
	return nil
}

type fakeGateway struct {
	charges []service.ChargeRequest
	failErr error
}

func (g *fakeGateway) CreateCharge(ctx context.Context, req *service.ChargeRequest) (*service.ChargeResponse, error) {
	if g.failErr != nil {
		return nil, g.failErr
	}
	g.charges = append(g.charges, *req)
	return &service.ChargeResponse{PaymentRef: fmt.Sprintf("pay_%d", len(g.charges)), Status: "created"}, nil
}

func (g *fakeGateway) RequestRefund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	return nil
}

type fakePublisher struct {
	deliveries []*models.DeliveryScheduledEvent
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return nil
}

func (p *fakePublisher) PublishPaymentReconciled(ctx context.Context, e *models.PaymentReconciledEvent) error {
	return nil
}

func (p *fakePublisher) PublishDeliveryScheduled(ctx context.Context, e *models.DeliveryScheduledEvent) error {
	p.deliveries = append(p.deliveries, e)
	return nil
}

func (p *fakePublisher) PublishSubscriptionLifecycle(ctx context.Context, e *models.SubscriptionLifecycleEvent) error {
	return nil
}

func testScheduler(store *fakeSweepStore, mat *fakeMaterializer, gw *fakeGateway, locker *fakeLocker, pub *fakePublisher) *Scheduler {
	s := New(store, mat, gw, locker, pub, time.Minute, time.Minute, "INR")
	s.now = func() time.Time { return time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC) }
	return s
}

func weeklySub(id int64, due time.Time) *models.Subscription {
	return &models.Subscription{
		ID:               id,
		GatewaySubRef:    fmt.Sprintf("SUB-%d", id),
		UserID:           42,
		ProductID:        1,
		Frequency:        models.FrequencyWeekly,
		NextDeliveryDate: due,
		Status:           models.SubscriptionStatusActive,
	}
}

func TestNextDeliveryDate(t *testing.T) {
	start := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-06-16", NextDeliveryDate(start, models.FrequencyDaily).Format("2006-01-02"))
	assert.Equal(t, "2024-06-17", NextDeliveryDate(start, models.FrequencyAlternateDays).Format("2006-01-02"))
	assert.Equal(t, "2024-06-22", NextDeliveryDate(start, models.FrequencyWeekly).Format("2006-01-02"))

	// Month and year boundaries follow the calendar.
	endOfMonth := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-07-01", NextDeliveryDate(endOfMonth, models.FrequencyDaily).Format("2006-01-02"))

	endOfYear := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-07", NextDeliveryDate(endOfYear, models.FrequencyWeekly).Format("2006-01-02"))
}

func TestNextDeliveryDateIterates(t *testing.T) {
	current := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 52; i++ {
		next := NextDeliveryDate(current, models.FrequencyWeekly)
		assert.Equal(t, 7*24*time.Hour, next.Sub(current))
		current = next
	}
	assert.Equal(t, "2025-05-31", current.Format("2006-01-02"))
}

func TestSweepMaterializesAndAdvances(t *testing.T) {
	store := newFakeSweepStore()
	due := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	store.subs[1] = weeklySub(1, due)

	mat := newFakeMaterializer()
	gw := &fakeGateway{}
	pub := &fakePublisher{}
	s := testScheduler(store, mat, gw, newFakeLocker(), pub)

	require.NoError(t, s.Sweep(context.Background()))

	assert.Equal(t, 1, mat.calls)
	assert.Equal(t, "2024-06-22", store.subs[1].NextDeliveryDate.Format("2006-01-02"))

	// A payment was opened and charged against the gateway.
	require.Len(t, store.payments, 1)
	require.Len(t, gw.charges, 1)
	assert.Equal(t, "SUB-1", gw.charges[0].SubscriptionRef)
	for _, p := range store.payments {
		require.NotNil(t, p.GatewayPaymentRef)
		assert.Equal(t, models.PaymentStatusPending, p.Status)
		// The charge hangs off the materialized order only; the order
		// row carries the subscription link.
		require.NotNil(t, p.OrderID)
		assert.Nil(t, p.SubscriptionID)
	}

	require.Len(t, pub.deliveries, 1)
	assert.Equal(t, "2024-06-15", pub.deliveries[0].DueDate)
	assert.Equal(t, "2024-06-22", pub.deliveries[0].NextDelivery)
}

func TestSweepSecondRunFindsNothingDue(t *testing.T) {
	store := newFakeSweepStore()
	store.subs[1] = weeklySub(1, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))

	mat := newFakeMaterializer()
	s := testScheduler(store, mat, &fakeGateway{}, newFakeLocker(), &fakePublisher{})

	require.NoError(t, s.Sweep(context.Background()))
	require.NoError(t, s.Sweep(context.Background()))

	assert.Equal(t, 1, mat.calls, "advanced subscription is no longer due")
	assert.Equal(t, 1, store.advances)
}

func TestSweepSkipsClaimedSubscription(t *testing.T) {
	store := newFakeSweepStore()
	due := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	store.subs[1] = weeklySub(1, due)
	store.subs[2] = weeklySub(2, due)

	locker := newFakeLocker()
	locker.denied["subscription:1"] = true

	mat := newFakeMaterializer()
	s := testScheduler(store, mat, &fakeGateway{}, locker, &fakePublisher{})

	require.NoError(t, s.Sweep(context.Background()))

	// The claimed subscription is untouched; the other proceeds.
	assert.Equal(t, due, store.subs[1].NextDeliveryDate)
	assert.Equal(t, "2024-06-22", store.subs[2].NextDeliveryDate.Format("2006-01-02"))
	assert.Equal(t, 1, mat.calls)
}

func TestSweepMaterializationFailureLeavesDueDate(t *testing.T) {
	store := newFakeSweepStore()
	due := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	store.subs[1] = weeklySub(1, due)

	mat := newFakeMaterializer()
	mat.failErr = &models.InsufficientStockError{ProductID: 1, Requested: 1, Available: 0}
	s := testScheduler(store, mat, &fakeGateway{}, newFakeLocker(), &fakePublisher{})

	require.NoError(t, s.Sweep(context.Background()), "sweep itself succeeds")

	assert.Equal(t, due, store.subs[1].NextDeliveryDate, "cycle retried next sweep")
	assert.Empty(t, store.payments)
}

func TestSweepChargeFailureStillAdvances(t *testing.T) {
	store := newFakeSweepStore()
	due := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	store.subs[1] = weeklySub(1, due)

	gw := &fakeGateway{failErr: &models.GatewayTimeoutError{Operation: "charge"}}
	s := testScheduler(store, newFakeMaterializer(), gw, newFakeLocker(), &fakePublisher{})

	require.NoError(t, s.Sweep(context.Background()))

	// A flaky gateway never stalls the delivery calendar; the payment
	// stays without a gateway ref and is retried out of band.
	assert.Equal(t, "2024-06-22", store.subs[1].NextDeliveryDate.Format("2006-01-02"))
	require.Len(t, store.payments, 1)
	for _, p := range store.payments {
		assert.Nil(t, p.GatewayPaymentRef)
	}
}

func TestSweepReleasesLease(t *testing.T) {
	store := newFakeSweepStore()
	store.subs[1] = weeklySub(1, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))

	locker := newFakeLocker()
	s := testScheduler(store, newFakeMaterializer(), &fakeGateway{}, locker, &fakePublisher{})

	require.NoError(t, s.Sweep(context.Background()))
	assert.Empty(t, locker.held, "lease released after processing")
}
