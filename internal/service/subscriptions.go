package service

import (
	"context"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionStore is the persistence surface the subscription service needs.
type SubscriptionStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetAddressByID(ctx context.Context, id int64) (*models.Address, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByID(ctx context.Context, id int64) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id int64, from, to models.SubscriptionStatus, actor string) error
}

// SubscribeRequest creates a standing delivery instruction.
type SubscribeRequest struct {
	UserID    int64                        `json:"user_id" binding:"required"`
	ProductID int64                        `json:"product_id" binding:"required"`
	Frequency models.SubscriptionFrequency `json:"frequency" binding:"required"`
	StartDate string                       `json:"start_date" binding:"required"`
	AddressID int64                        `json:"address_id" binding:"required"`
}

// SubscriptionService manages the subscription lifecycle: creation and the
// ACTIVE/PAUSED/CANCELLED state machine. Materialization of due cycles
// into orders is the scheduler's job.
type SubscriptionService struct {
	store     SubscriptionStore
	publisher NotificationPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewSubscriptionService(st SubscriptionStore, publisher NotificationPublisher) *SubscriptionService {
	return &SubscriptionService{
		store:     st,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// Subscribe validates and creates a new ACTIVE subscription whose first
// delivery is due on the requested start date.
func (s *SubscriptionService) Subscribe(ctx context.Context, req *SubscribeRequest) (*models.Subscription, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.Subscribe")
	defer span.End()

	if !models.ValidFrequency(req.Frequency) {
		return nil, &models.ValidationError{Field: "frequency", Reason: "must be DAILY, ALTERNATE_DAYS or WEEKLY"}
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, &models.ValidationError{Field: "start_date", Reason: "must be YYYY-MM-DD"}
	}
	// Compare calendar dates: start parses to UTC midnight, so today is
	// rebuilt in UTC from the clock's local date.
	y, m, d := s.now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if start.Before(today) {
		return nil, &models.ValidationError{Field: "start_date", Reason: "must not be in the past"}
	}

	product, err := s.store.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, &models.ValidationError{Field: "product_id", Reason: "product is not active"}
	}

	address, err := s.store.GetAddressByID(ctx, req.AddressID)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		UserID:           req.UserID,
		ProductID:        req.ProductID,
		Frequency:        req.Frequency,
		Status:           models.SubscriptionStatusActive,
		StartDate:        start,
		NextDeliveryDate: start,
		AddressID:        req.AddressID,
		AddressSnapshot:  address.Snapshot(),
		GatewaySubRef:    generateSubscriptionRef(),
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("Subscription created",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", sub.UserID),
		zap.String("frequency", string(sub.Frequency)),
		zap.String("first_delivery", start.Format("2006-01-02")))

	s.publishLifecycle(ctx, sub, "", models.SubscriptionStatusActive)
	return sub, nil
}

// Pause suspends deliveries. Due dates keep advancing on the calendar via
// the subscription's stored schedule, so skipped cycles are never back-filled
// on resume.
func (s *SubscriptionService) Pause(ctx context.Context, id int64, actor string) (*models.Subscription, error) {
	return s.transition(ctx, id, models.SubscriptionStatusPaused, actor)
}

// Resume reactivates a paused subscription from its next scheduled date.
func (s *SubscriptionService) Resume(ctx context.Context, id int64, actor string) (*models.Subscription, error) {
	return s.transition(ctx, id, models.SubscriptionStatusActive, actor)
}

// Cancel terminates a subscription. CANCELLED is terminal.
func (s *SubscriptionService) Cancel(ctx context.Context, id int64, actor string) (*models.Subscription, error) {
	return s.transition(ctx, id, models.SubscriptionStatusCancelled, actor)
}

// GetSubscription returns one subscription by id.
func (s *SubscriptionService) GetSubscription(ctx context.Context, id int64) (*models.Subscription, error) {
	return s.store.GetSubscriptionByID(ctx, id)
}

func (s *SubscriptionService) transition(ctx context.Context, id int64, target models.SubscriptionStatus, actor string) (*models.Subscription, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.transition")
	defer span.End()

	sub, err := s.store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionSubscription(sub.Status, target) {
		return nil, &models.InvalidTransitionError{
			Entity: "subscription",
			From:   string(sub.Status),
			To:     string(target),
		}
	}

	if err := s.store.UpdateSubscriptionStatus(ctx, id, sub.Status, target, actor); err != nil {
		return nil, err
	}
	old := sub.Status
	sub.Status = target

	s.logger.Info("Subscription transitioned",
		zap.Int64("subscription_id", id),
		zap.String("from", string(old)),
		zap.String("to", string(target)),
		zap.String("actor", actor))

	s.publishLifecycle(ctx, sub, old, target)
	return sub, nil
}

func (s *SubscriptionService) publishLifecycle(ctx context.Context, sub *models.Subscription, old, next models.SubscriptionStatus) {
	if s.publisher == nil {
		return
	}
	event := &models.SubscriptionLifecycleEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSubscriptionLifecycle,
			Timestamp: s.now(),
		},
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		OldStatus:      old,
		NewStatus:      next,
	}
	if err := s.publisher.PublishSubscriptionLifecycle(ctx, event); err != nil {
		s.logger.Error("Failed to publish SubscriptionLifecycle event", zap.Error(err))
	}
}

func generateSubscriptionRef() string {
	return "SUB-" + strings.ToUpper(uuid.New().String()[:8])
}
