package service

import (
	"context"
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscriptionService(fs *fakeStore, pub *fakePublisher) *SubscriptionService {
	svc := NewSubscriptionService(fs, pub)
	svc.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestSubscribeCreatesActiveSubscription(t *testing.T) {
	fs := seedStore()
	pub := &fakePublisher{}
	svc := newTestSubscriptionService(fs, pub)

	sub, err := svc.Subscribe(context.Background(), &SubscribeRequest{
		UserID:    42,
		ProductID: 1,
		Frequency: models.FrequencyWeekly,
		StartDate: "2024-06-20",
		AddressID: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "2024-06-20", sub.NextDeliveryDate.Format("2006-01-02"))
	assert.NotEmpty(t, sub.GatewaySubRef)
	assert.NotEmpty(t, sub.AddressSnapshot)

	require.Len(t, pub.subscriptionEvents, 1)
	assert.Equal(t, models.SubscriptionStatusActive, pub.subscriptionEvents[0].NewStatus)
}

func TestSubscribeValidation(t *testing.T) {
	fs := seedStore()
	svc := newTestSubscriptionService(fs, &fakePublisher{})

	cases := []struct {
		name string
		req  SubscribeRequest
	}{
		{"unknown frequency", SubscribeRequest{UserID: 42, ProductID: 1, Frequency: "MONTHLY", StartDate: "2024-06-20", AddressID: 1}},
		{"malformed date", SubscribeRequest{UserID: 42, ProductID: 1, Frequency: models.FrequencyDaily, StartDate: "20-06-2024", AddressID: 1}},
		{"past start date", SubscribeRequest{UserID: 42, ProductID: 1, Frequency: models.FrequencyDaily, StartDate: "2024-06-01", AddressID: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := svc.Subscribe(context.Background(), &req)
			var v *models.ValidationError
			assert.ErrorAs(t, err, &v)
		})
	}
}

func TestSubscribeTodayAcceptedOnNonUTCClock(t *testing.T) {
	fs := seedStore()
	svc := newTestSubscriptionService(fs, &fakePublisher{})
	// Just past midnight June 15 in UTC+5:30; the same instant is still
	// June 14 in UTC, which must not shadow "today".
	ist := time.FixedZone("IST", 5*3600+1800)
	svc.now = func() time.Time { return time.Date(2024, 6, 15, 0, 30, 0, 0, ist) }

	sub, err := svc.Subscribe(context.Background(), &SubscribeRequest{
		UserID:    42,
		ProductID: 1,
		Frequency: models.FrequencyDaily,
		StartDate: "2024-06-15",
		AddressID: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-15", sub.NextDeliveryDate.Format("2006-01-02"))

	_, err = svc.Subscribe(context.Background(), &SubscribeRequest{
		UserID:    42,
		ProductID: 1,
		Frequency: models.FrequencyDaily,
		StartDate: "2024-06-14",
		AddressID: 1,
	})
	var v *models.ValidationError
	assert.ErrorAs(t, err, &v)
}

func TestSubscribeInactiveProductRejected(t *testing.T) {
	fs := seedStore()
	fs.products[1].Active = false
	svc := newTestSubscriptionService(fs, &fakePublisher{})

	_, err := svc.Subscribe(context.Background(), &SubscribeRequest{
		UserID:    42,
		ProductID: 1,
		Frequency: models.FrequencyDaily,
		StartDate: "2024-06-20",
		AddressID: 1,
	})
	var v *models.ValidationError
	assert.ErrorAs(t, err, &v)
}

func TestSubscriptionLifecycle(t *testing.T) {
	fs := seedStore()
	pub := &fakePublisher{}
	svc := newTestSubscriptionService(fs, pub)

	sub, err := svc.Subscribe(context.Background(), &SubscribeRequest{
		UserID:    42,
		ProductID: 1,
		Frequency: models.FrequencyDaily,
		StartDate: "2024-06-20",
		AddressID: 1,
	})
	require.NoError(t, err)

	paused, err := svc.Pause(context.Background(), sub.ID, "user")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPaused, paused.Status)

	resumed, err := svc.Resume(context.Background(), sub.ID, "user")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, resumed.Status)

	cancelled, err := svc.Cancel(context.Background(), sub.ID, "user")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)

	// CANCELLED is terminal.
	_, err = svc.Resume(context.Background(), sub.ID, "user")
	var invalid *models.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)

	assert.Len(t, pub.subscriptionEvents, 4)
}

func TestPauseRequiresActive(t *testing.T) {
	fs := seedStore()
	svc := newTestSubscriptionService(fs, &fakePublisher{})

	sub, err := svc.Subscribe(context.Background(), &SubscribeRequest{
		UserID:    42,
		ProductID: 1,
		Frequency: models.FrequencyDaily,
		StartDate: "2024-06-20",
		AddressID: 1,
	})
	require.NoError(t, err)

	_, err = svc.Pause(context.Background(), sub.ID, "user")
	require.NoError(t, err)

	_, err = svc.Pause(context.Background(), sub.ID, "user")
	var invalid *models.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}
