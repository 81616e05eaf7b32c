package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment inserts a payment row. The unique index on
// gateway_payment_ref is the backstop for concurrent webhook delivery; the
// reconciler re-reads on insert failure.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, subscription_id, gateway_payment_ref, gateway_order_ref,
		                      amount, currency, status, method, refund_requested)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		payment.OrderID, payment.SubscriptionID, payment.GatewayPaymentRef,
		payment.GatewayOrderRef, payment.Amount, payment.Currency,
		payment.Status, payment.Method, payment.RefundRequested,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetPaymentByGatewayRef returns nil, nil when the reference is unseen, so
// the reconciler's idempotency check is an explicit branch rather than
// exception-driven control flow.
func (s *Store) GetPaymentByGatewayRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE gateway_payment_ref = $1", ref)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByOrderID retrieves the latest payment for an order.
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SetPaymentGatewayRef records the gateway-assigned reference once the
// gateway reports it.
func (s *Store) SetPaymentGatewayRef(ctx context.Context, paymentID int64, ref string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET gateway_payment_ref = $1, updated_at = NOW() WHERE id = $2",
		ref, paymentID)
	return err
}

// PaymentTransition describes one payment status change.
type PaymentTransition struct {
	PaymentID int64
	From      models.PaymentStatus
	To        models.PaymentStatus
	Actor     string
	// OrderID, when set, mirrors the new status onto the order row.
	OrderID *int64
}

// ApplyPaymentTransition writes the new payment status with an optimistic
// guard, mirrors it onto the linked order, and audits, all in one
// transaction.
func (s *Store) ApplyPaymentTransition(ctx context.Context, t PaymentTransition) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
			t.To, t.PaymentID, t.From)
		if err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return &models.InvalidTransitionError{
				Entity: "payment",
				From:   string(t.From),
				To:     string(t.To),
				Reason: "status changed concurrently",
			}
		}

		if t.OrderID != nil {
			_, err := tx.ExecContext(ctx,
				"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
				t.To, *t.OrderID)
			if err != nil {
				return fmt.Errorf("failed to mirror payment status: %w", err)
			}
		}

		return insertAuditTx(ctx, tx, models.AuditLogEntry{
			Actor:      t.Actor,
			EntityType: "payment",
			EntityID:   t.PaymentID,
			OldValue:   string(t.From),
			NewValue:   string(t.To),
		})
	})
}
