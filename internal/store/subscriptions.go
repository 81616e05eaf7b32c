package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateSubscription persists a new subscription and its audit entry.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO subscriptions (gateway_sub_ref, user_id, product_id, frequency, start_date,
			                           next_delivery_date, address_id, address_snapshot, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at`

		err := tx.QueryRowxContext(ctx, query,
			sub.GatewaySubRef, sub.UserID, sub.ProductID, sub.Frequency,
			sub.StartDate, sub.NextDeliveryDate, sub.AddressID,
			sub.AddressSnapshot, sub.Status,
		).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert subscription: %w", err)
		}

		return insertAuditTx(ctx, tx, models.AuditLogEntry{
			Actor:      "user:" + fmt.Sprint(sub.UserID),
			EntityType: "subscription",
			EntityID:   sub.ID,
			OldValue:   "",
			NewValue:   string(sub.Status),
		})
	})
}

// GetSubscriptionByID retrieves a subscription by ID.
func (s *Store) GetSubscriptionByID(ctx context.Context, id int64) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, "SELECT * FROM subscriptions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListDueSubscriptions returns ACTIVE subscriptions whose next delivery is
// due as of the given date. PAUSED/CANCELLED rows are never selected.
func (s *Store) ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM subscriptions WHERE status = $1 AND next_delivery_date <= $2 ORDER BY next_delivery_date",
		models.SubscriptionStatusActive, asOf)
	return subs, err
}

// AdvanceNextDelivery moves the schedule anchor forward. The guard on the
// current date keeps a concurrently advanced subscription from being
// advanced twice for the same cycle.
func (s *Store) AdvanceNextDelivery(ctx context.Context, subID int64, from, to time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE subscriptions SET next_delivery_date = $1, updated_at = NOW() WHERE id = $2 AND next_delivery_date = $3",
			to, subID, from)
		if err != nil {
			return fmt.Errorf("failed to advance delivery date: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return &models.SchedulingConflictError{SubscriptionID: subID}
		}

		return insertAuditTx(ctx, tx, models.AuditLogEntry{
			Actor:      "scheduler",
			EntityType: "subscription",
			EntityID:   subID,
			OldValue:   from.Format("2006-01-02"),
			NewValue:   to.Format("2006-01-02"),
		})
	})
}

// UpdateSubscriptionStatus applies a validated lifecycle edge with an
// optimistic guard and audits it.
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, subID int64, from, to models.SubscriptionStatus, actor string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
			to, subID, from)
		if err != nil {
			return fmt.Errorf("failed to update subscription status: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return &models.InvalidTransitionError{
				Entity: "subscription",
				From:   string(from),
				To:     string(to),
				Reason: "status changed concurrently",
			}
		}

		return insertAuditTx(ctx, tx, models.AuditLogEntry{
			Actor:      actor,
			EntityType: "subscription",
			EntityID:   subID,
			OldValue:   string(from),
			NewValue:   string(to),
		})
	})
}
