package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderTx creates an order as one atomic unit: every line's stock is
// conditionally decremented, the order and its item snapshots are
// persisted in PENDING, the coupon usage counter is bumped if one applied,
// and the audit entry is written. If any stock check fails nothing is
// applied and the first short product is named in the error.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem, couponID *int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, item := range items {
			if err := adjustStockTx(ctx, tx, item.ProductID, -item.Quantity); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO orders (order_number, user_id, subscription_id, subtotal, discount_amount,
			                    final_amount, currency, status, payment_status, coupon_code,
			                    applied_rule_id, address_snapshot, notes, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id, created_at, updated_at`

		err := tx.QueryRowxContext(ctx, query,
			order.OrderNumber, order.UserID, order.SubscriptionID, order.Subtotal,
			order.DiscountAmount, order.FinalAmount, order.Currency, order.Status,
			order.PaymentStatus, order.CouponCode, order.AppliedRuleID,
			order.AddressSnapshot, order.Notes, order.IdempotencyKey,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		itemQuery := `
			INSERT INTO order_items (order_id, product_id, title, sku, unit_size, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`
		for i := range items {
			items[i].OrderID = order.ID
			err := tx.QueryRowxContext(ctx, itemQuery,
				order.ID, items[i].ProductID, items[i].Title, items[i].SKU,
				items[i].UnitSize, items[i].Quantity, items[i].UnitPrice, items[i].LineTotal,
			).Scan(&items[i].ID)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		if couponID != nil {
			res, err := tx.ExecContext(ctx,
				"UPDATE coupons SET used_count = used_count + 1 WHERE id = $1 AND (usage_cap = 0 OR used_count < usage_cap)",
				*couponID)
			if err != nil {
				return fmt.Errorf("failed to consume coupon: %w", err)
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if rows == 0 {
				code := ""
				if order.CouponCode != nil {
					code = *order.CouponCode
				}
				return &models.InvalidCouponError{Code: code, Reason: "usage cap reached"}
			}
		}

		return insertAuditTx(ctx, tx, models.AuditLogEntry{
			Actor:      "user:" + fmt.Sprint(order.UserID),
			EntityType: "order",
			EntityID:   order.ID,
			OldValue:   "",
			NewValue:   string(order.Status),
		})
	})
}

// OrderTransition describes one status change applied by
// ApplyOrderTransition. From/To must already be a validated legal edge; the
// store enforces atomicity and the optimistic status guard.
type OrderTransition struct {
	OrderID      int64
	From         models.OrderStatus
	To           models.OrderStatus
	Actor        string
	RestoreStock bool
	// MarkRefundPending flags the PAID payment for refund reconciliation
	// instead of auto-refunding funds.
	MarkRefundPending bool
}

// ApplyOrderTransition writes the new status, restores stock when asked,
// and records the audit entry in the same transaction. The WHERE guard on
// the current status makes concurrent transitions lose cleanly instead of
// racing into an inconsistent state.
func (s *Store) ApplyOrderTransition(ctx context.Context, t OrderTransition) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
			t.To, t.OrderID, t.From)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return &models.InvalidTransitionError{
				Entity: "order",
				From:   string(t.From),
				To:     string(t.To),
				Reason: "status changed concurrently",
			}
		}

		if t.RestoreStock {
			var items []models.OrderItem
			if err := tx.SelectContext(ctx, &items,
				"SELECT * FROM order_items WHERE order_id = $1", t.OrderID); err != nil {
				return fmt.Errorf("failed to load order items: %w", err)
			}
			// Restore the exact quantities decremented at creation time.
			for _, item := range items {
				if err := adjustStockTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		if t.MarkRefundPending {
			_, err := tx.ExecContext(ctx,
				"UPDATE payments SET refund_requested = TRUE, updated_at = NOW() WHERE order_id = $1 AND status = $2",
				t.OrderID, models.PaymentStatusPaid)
			if err != nil {
				return fmt.Errorf("failed to mark refund pending: %w", err)
			}
		}

		return insertAuditTx(ctx, tx, models.AuditLogEntry{
			Actor:      t.Actor,
			EntityType: "order",
			EntityID:   t.OrderID,
			OldValue:   string(t.From),
			NewValue:   string(t.To),
		})
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its externally shown number.
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_number = $1", number)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", number, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns nil, nil when no order has the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}
