package store

import (
	"context"
	"database/sql"

	"fulfillment-service/internal/models"
)

// GetCouponByCode returns nil, nil for an unknown code; the pricing caller
// turns that into InvalidCouponError.
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// GetActiveBulkRules returns active bulk-discount rules in priority order.
func (s *Store) GetActiveBulkRules(ctx context.Context) ([]models.BulkDiscountRule, error) {
	var rules []models.BulkDiscountRule
	err := s.db.SelectContext(ctx, &rules,
		"SELECT * FROM bulk_discount_rules WHERE active = TRUE ORDER BY priority, id")
	return rules, err
}
