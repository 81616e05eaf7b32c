package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Stock ledger. Every inventory mutation in the system goes through
// adjustStockTx so order creation, cancellation and refund cannot drift
// into inconsistent direct-field updates.

// adjustStockTx applies a signed delta to a product's stock inside tx. The
// guard keeps the count non-negative: two checkouts contending for the last
// unit resolve deterministically, one succeeds and the other observes
// InsufficientStockError.
func adjustStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, delta int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + $1 WHERE id = $2 AND stock_quantity + $1 >= 0",
		delta, productID)
	if err != nil {
		return fmt.Errorf("failed to adjust stock for product %d: %w", productID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var available int
	err = tx.GetContext(ctx, &available,
		"SELECT stock_quantity FROM products WHERE id = $1", productID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return &models.InsufficientStockError{
		ProductID: productID,
		Requested: -delta,
		Available: available,
	}
}

// AdjustStock applies a signed atomic delta outside any larger unit of
// work (restock, shrinkage correction) and returns the resulting count.
// The adjustment and its audit record commit together.
func (s *Store) AdjustStock(ctx context.Context, productID int64, delta int, actor string) (int, error) {
	var after int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := adjustStockTx(ctx, tx, productID, delta); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &after,
			"SELECT stock_quantity FROM products WHERE id = $1", productID); err != nil {
			return err
		}
		return insertAuditTx(ctx, tx, models.AuditLogEntry{
			Actor:      actor,
			EntityType: "product_stock",
			EntityID:   productID,
			OldValue:   fmt.Sprintf("%d", after-delta),
			NewValue:   fmt.Sprintf("%d", after),
		})
	})
	if err != nil {
		return 0, err
	}
	return after, nil
}

// GetAvailableStock returns the current stock count for a product.
func (s *Store) GetAvailableStock(ctx context.Context, productID int64) (int, error) {
	var available int
	err := s.db.GetContext(ctx, &available,
		"SELECT stock_quantity FROM products WHERE id = $1", productID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}
