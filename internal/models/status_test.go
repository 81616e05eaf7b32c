package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderTransitionTable(t *testing.T) {
	legal := []struct {
		from, to OrderStatus
	}{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusPacked},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusConfirmed, OrderStatusRefunded},
		{OrderStatusPacked, OrderStatusOutForDelivery},
		{OrderStatusPacked, OrderStatusCancelled},
		{OrderStatusPacked, OrderStatusRefunded},
		{OrderStatusOutForDelivery, OrderStatusDelivered},
		{OrderStatusOutForDelivery, OrderStatusCancelled},
		{OrderStatusOutForDelivery, OrderStatusRefunded},
	}
	for _, e := range legal {
		assert.True(t, CanTransitionOrder(e.from, e.to), "%s -> %s should be legal", e.from, e.to)
	}

	illegal := []struct {
		from, to OrderStatus
	}{
		{OrderStatusPending, OrderStatusPacked},
		{OrderStatusPending, OrderStatusDelivered},
		{OrderStatusPending, OrderStatusRefunded},
		{OrderStatusConfirmed, OrderStatusDelivered},
		{OrderStatusDelivered, OrderStatusCancelled},
		{OrderStatusDelivered, OrderStatusConfirmed},
		{OrderStatusCancelled, OrderStatusPending},
		{OrderStatusRefunded, OrderStatusConfirmed},
		{OrderStatusPacked, OrderStatusPending},
	}
	for _, e := range illegal {
		assert.False(t, CanTransitionOrder(e.from, e.to), "%s -> %s should be illegal", e.from, e.to)
	}
}

func TestTerminalOrderStatuses(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded} {
		assert.True(t, IsTerminalOrderStatus(s), "%s should be terminal", s)
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusPacked, OrderStatusOutForDelivery} {
		assert.False(t, IsTerminalOrderStatus(s), "%s should not be terminal", s)
	}
}

func TestValidOrderStatus(t *testing.T) {
	assert.True(t, ValidOrderStatus(OrderStatusPending))
	assert.False(t, ValidOrderStatus("SHIPPED"))
	assert.False(t, ValidOrderStatus(""))
}

func TestPaymentTransitionTable(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentStatusPending, PaymentStatusPaid))
	assert.True(t, CanTransitionPayment(PaymentStatusPending, PaymentStatusFailed))
	assert.True(t, CanTransitionPayment(PaymentStatusPaid, PaymentStatusRefunded))

	assert.False(t, CanTransitionPayment(PaymentStatusPending, PaymentStatusRefunded))
	assert.False(t, CanTransitionPayment(PaymentStatusFailed, PaymentStatusPaid))
	assert.False(t, CanTransitionPayment(PaymentStatusRefunded, PaymentStatusPaid))
	assert.False(t, CanTransitionPayment(PaymentStatusPaid, PaymentStatusPending))
}

func TestSubscriptionTransitionTable(t *testing.T) {
	assert.True(t, CanTransitionSubscription(SubscriptionStatusActive, SubscriptionStatusPaused))
	assert.True(t, CanTransitionSubscription(SubscriptionStatusActive, SubscriptionStatusCancelled))
	assert.True(t, CanTransitionSubscription(SubscriptionStatusPaused, SubscriptionStatusActive))
	assert.True(t, CanTransitionSubscription(SubscriptionStatusPaused, SubscriptionStatusCancelled))

	assert.False(t, CanTransitionSubscription(SubscriptionStatusCancelled, SubscriptionStatusActive))
	assert.False(t, CanTransitionSubscription(SubscriptionStatusCancelled, SubscriptionStatusPaused))
}

func TestFrequencyIntervals(t *testing.T) {
	assert.Equal(t, 1, FrequencyDaily.IntervalDays())
	assert.Equal(t, 2, FrequencyAlternateDays.IntervalDays())
	assert.Equal(t, 7, FrequencyWeekly.IntervalDays())

	assert.True(t, ValidFrequency(FrequencyWeekly))
	assert.False(t, ValidFrequency("MONTHLY"))
}
