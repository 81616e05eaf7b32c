package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog. The core only reads price/stock and
// mutates stock_quantity through the stock ledger.
type Product struct {
	ID               int64           `db:"id" json:"id"`
	SKU              string          `db:"sku" json:"sku"`
	Name             string          `db:"name" json:"name"`
	UnitSize         string          `db:"unit_size" json:"unit_size"`
	ConsumerPrice    decimal.Decimal `db:"consumer_price" json:"consumer_price"`
	DistributorPrice decimal.Decimal `db:"distributor_price" json:"distributor_price"`
	StockQuantity    int             `db:"stock_quantity" json:"stock_quantity"`
	Active           bool            `db:"active" json:"active"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// PriceFor returns the unit price for a price tier.
func (p *Product) PriceFor(tier PriceTier) decimal.Decimal {
	if tier == PriceTierDistributor {
		return p.DistributorPrice
	}
	return p.ConsumerPrice
}

// Order represents a customer's committed purchase. Orders are never
// hard-deleted; cancellation is a status.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	OrderNumber     string          `db:"order_number" json:"order_number"`
	UserID          int64           `db:"user_id" json:"user_id"`
	SubscriptionID  *int64          `db:"subscription_id" json:"subscription_id,omitempty"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	FinalAmount     decimal.Decimal `db:"final_amount" json:"final_amount"`
	Currency        string          `db:"currency" json:"currency"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	CouponCode      *string         `db:"coupon_code" json:"coupon_code,omitempty"`
	AppliedRuleID   *int64          `db:"applied_rule_id" json:"applied_rule_id,omitempty"`
	AddressSnapshot string          `db:"address_snapshot" json:"address_snapshot"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
	IdempotencyKey  string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem carries denormalized product snapshots taken at order-creation
// time. The product reference is weak: the product may later be deactivated
// without affecting the historical order.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Title     string          `db:"title" json:"title"`
	SKU       string          `db:"sku" json:"sku"`
	UnitSize  string          `db:"unit_size" json:"unit_size"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// Payment records one gateway charge. Exactly one of OrderID /
// SubscriptionID is set. GatewayPaymentRef is unique across all payments
// and is the idempotency key for webhook replay.
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           *int64          `db:"order_id" json:"order_id,omitempty"`
	SubscriptionID    *int64          `db:"subscription_id" json:"subscription_id,omitempty"`
	GatewayPaymentRef *string         `db:"gateway_payment_ref" json:"gateway_payment_ref,omitempty"`
	GatewayOrderRef   string          `db:"gateway_order_ref" json:"gateway_order_ref,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	Status            PaymentStatus   `db:"status" json:"status"`
	Method            string          `db:"method" json:"method,omitempty"`
	RefundRequested   bool            `db:"refund_requested" json:"refund_requested"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Subscription is a standing instruction to recreate an order on a schedule.
type Subscription struct {
	ID               int64                 `db:"id" json:"id"`
	GatewaySubRef    string                `db:"gateway_sub_ref" json:"gateway_sub_ref"`
	UserID           int64                 `db:"user_id" json:"user_id"`
	ProductID        int64                 `db:"product_id" json:"product_id"`
	Frequency        SubscriptionFrequency `db:"frequency" json:"frequency"`
	StartDate        time.Time             `db:"start_date" json:"start_date"`
	NextDeliveryDate time.Time             `db:"next_delivery_date" json:"next_delivery_date"`
	AddressID        int64                 `db:"address_id" json:"address_id"`
	AddressSnapshot  string                `db:"address_snapshot" json:"address_snapshot"`
	Status           SubscriptionStatus    `db:"status" json:"status"`
	CreatedAt        time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time             `db:"updated_at" json:"updated_at"`
}

// Address is owned by the profile collaborator and read-only here. A
// snapshot is copied onto orders and subscriptions at creation time.
type Address struct {
	ID         int64  `db:"id" json:"id"`
	UserID     int64  `db:"user_id" json:"user_id"`
	Line1      string `db:"line1" json:"line1"`
	Line2      string `db:"line2" json:"line2,omitempty"`
	City       string `db:"city" json:"city"`
	State      string `db:"state" json:"state"`
	PostalCode string `db:"postal_code" json:"postal_code"`
	Phone      string `db:"phone" json:"phone"`
}

// Snapshot returns an immutable JSON copy of the address.
func (a *Address) Snapshot() string {
	b, _ := json.Marshal(a)
	return string(b)
}

// Coupon holds a redeemable discount code.
type Coupon struct {
	ID            int64           `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	MinOrderValue decimal.Decimal `db:"min_order_value" json:"min_order_value"`
	ValidFrom     time.Time       `db:"valid_from" json:"valid_from"`
	ValidUntil    time.Time       `db:"valid_until" json:"valid_until"`
	UsageCap      int             `db:"usage_cap" json:"usage_cap"`
	UsedCount     int             `db:"used_count" json:"used_count"`
	Active        bool            `db:"active" json:"active"`
}

// BulkDiscountRule is a threshold-based reduction. Rules are evaluated in
// priority order and do not stack.
type BulkDiscountRule struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Priority      int             `db:"priority" json:"priority"`
	MinQuantity   int             `db:"min_quantity" json:"min_quantity"`
	MinSpend      decimal.Decimal `db:"min_spend" json:"min_spend"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	Active        bool            `db:"active" json:"active"`
}

// AuditLogEntry is append-only; never updated or deleted.
type AuditLogEntry struct {
	ID         int64     `db:"id" json:"id"`
	Actor      string    `db:"actor" json:"actor"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   int64     `db:"entity_id" json:"entity_id"`
	OldValue   string    `db:"old_value" json:"old_value"`
	NewValue   string    `db:"new_value" json:"new_value"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DiscountType distinguishes percentage from flat reductions.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "PERCENT"
	DiscountTypeFlat    DiscountType = "FLAT"
)

// PriceTier distinguishes consumer from distributor pricing.
type PriceTier string

const (
	PriceTierConsumer    PriceTier = "CONSUMER"
	PriceTierDistributor PriceTier = "DISTRIBUTOR"
)

// ValidPriceTier reports whether t is a known tier.
func ValidPriceTier(t PriceTier) bool {
	return t == PriceTierConsumer || t == PriceTierDistributor
}
