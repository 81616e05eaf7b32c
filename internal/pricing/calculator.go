package pricing

import (
	"time"

	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
)

// The calculator is a pure function over (lines, coupon, rules, now). It
// never mutates stock, coupon counters, or any persisted state; callers
// apply side effects only after the order commits. Amounts are kept exact
// and rounded to 2 decimal places, half up, at the final step only.

// Line is one cart entry priced for the requesting party's tier.
type Line struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal is the immutable per-line snapshot carried onto the order.
type LineTotal struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Result is the chargeable outcome, with the applied rule/coupon recorded
// for auditability.
type Result struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	AppliedRuleID  *int64
	AppliedCoupon  string
	Lines          []LineTotal
}

// Calculate prices a cart. At most one bulk rule (first match in priority
// order) and at most one coupon apply. An invalid coupon fails the whole
// call rather than being silently ignored.
func Calculate(lines []Line, coupon *models.Coupon, rules []models.BulkDiscountRule, now time.Time) (*Result, error) {
	if len(lines) == 0 {
		return nil, &models.ValidationError{Field: "items", Reason: "cart is empty"}
	}

	subtotal := decimal.Zero
	totalQty := 0
	lineTotals := make([]LineTotal, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, &models.ValidationError{Field: "quantity", Reason: "must be at least 1"}
		}
		if line.UnitPrice.IsNegative() {
			return nil, &models.ValidationError{Field: "unit_price", Reason: "must not be negative"}
		}
		lt := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		lineTotals = append(lineTotals, LineTotal{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: lt.Round(2),
		})
		subtotal = subtotal.Add(lt)
		totalQty += line.Quantity
	}

	discount := decimal.Zero
	var appliedRuleID *int64
	for i := range rules {
		rule := &rules[i]
		if !rule.Active || !ruleMatches(rule, subtotal, totalQty) {
			continue
		}
		discount = discountFor(rule.DiscountType, rule.DiscountValue, subtotal)
		id := rule.ID
		appliedRuleID = &id
		break
	}

	appliedCoupon := ""
	if coupon != nil {
		if err := validateCoupon(coupon, subtotal, now); err != nil {
			return nil, err
		}
		discount = discount.Add(discountFor(coupon.DiscountType, coupon.DiscountValue, subtotal))
		appliedCoupon = coupon.Code
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	subtotal = subtotal.Round(2)
	discount = discount.Round(2)

	return &Result{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		FinalAmount:    subtotal.Sub(discount),
		AppliedRuleID:  appliedRuleID,
		AppliedCoupon:  appliedCoupon,
		Lines:          lineTotals,
	}, nil
}

func ruleMatches(rule *models.BulkDiscountRule, subtotal decimal.Decimal, totalQty int) bool {
	if rule.MinQuantity > 0 && totalQty >= rule.MinQuantity {
		return true
	}
	if rule.MinSpend.IsPositive() && subtotal.GreaterThanOrEqual(rule.MinSpend) {
		return true
	}
	return false
}

func discountFor(t models.DiscountType, value, subtotal decimal.Decimal) decimal.Decimal {
	if t == models.DiscountTypePercent {
		return subtotal.Mul(value).Div(decimal.NewFromInt(100))
	}
	return value
}

func validateCoupon(c *models.Coupon, subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !c.Active:
		return &models.InvalidCouponError{Code: c.Code, Reason: "inactive"}
	case now.Before(c.ValidFrom):
		return &models.InvalidCouponError{Code: c.Code, Reason: "not yet valid"}
	case now.After(c.ValidUntil):
		return &models.InvalidCouponError{Code: c.Code, Reason: "expired"}
	case c.UsageCap > 0 && c.UsedCount >= c.UsageCap:
		return &models.InvalidCouponError{Code: c.Code, Reason: "usage cap reached"}
	case subtotal.LessThan(c.MinOrderValue):
		return &models.InvalidCouponError{Code: c.Code, Reason: "order below minimum value"}
	}
	return nil
}
