package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound marks lookups for rows that do not exist. Store methods wrap
// it so callers can branch with errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input, surfaced as a 4xx.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InsufficientStockError names the first product that could not be
// reserved. No partial effects remain when it is returned.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidTransitionError reports an edge outside the legal set. The status
// is never coerced to a "closest legal" state.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal %s transition %s -> %s: %s", e.Entity, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

// InvalidCouponError fails the whole pricing call; invalid coupons are
// never silently ignored.
type InvalidCouponError struct {
	Code   string
	Reason string
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("invalid coupon %q: %s", e.Code, e.Reason)
}

// AmountMismatchError reports a webhook amount that disagrees with the
// order's final amount. The payment stays PENDING for manual review.
type AmountMismatchError struct {
	GatewayRef string
	Claimed    decimal.Decimal
	Expected   decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for payment %s: claimed %s, expected %s",
		e.GatewayRef, e.Claimed.StringFixed(2), e.Expected.StringFixed(2))
}

// PaymentSignatureError means the webhook payload failed authenticity
// verification. The event is discarded, never reconsidered.
type PaymentSignatureError struct {
	Reason string
}

func (e *PaymentSignatureError) Error() string {
	return fmt.Sprintf("payment webhook signature rejected: %s", e.Reason)
}

// GatewayTimeoutError is transient; the caller retries with backoff.
type GatewayTimeoutError struct {
	Operation string
}

func (e *GatewayTimeoutError) Error() string {
	return fmt.Sprintf("payment gateway timed out during %s", e.Operation)
}

// SchedulingConflictError means another worker holds the claim for a
// subscription; the sweep skips it and retries on the next cycle.
type SchedulingConflictError struct {
	SubscriptionID int64
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("subscription %d is claimed by another worker", e.SubscriptionID)
}
