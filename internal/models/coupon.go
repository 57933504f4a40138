package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponDiscountType is percentage or fixed.
const (
	CouponDiscountPercentage = "percentage"
	CouponDiscountFixed      = "fixed"
)

// Coupon is a discount code, optionally scoped to one course.
// Nil pointer fields mean "no restriction".
type Coupon struct {
	ID            uuid.UUID        `json:"id"`
	Code          string           `json:"code"`
	DiscountType  string           `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`
	MinPurchase   *decimal.Decimal `json:"min_purchase,omitempty"`
	UsageLimit    *int             `json:"usage_limit,omitempty"`
	UsageCount    int              `json:"usage_count"`
	PerUserLimit  *int             `json:"per_user_limit,omitempty"`
	CourseID      *uuid.UUID       `json:"course_id,omitempty"`
	IsActive      bool             `json:"is_active"`
	StartsAt      *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// CouponUsage is one successful redemption.
type CouponUsage struct {
	ID             uuid.UUID       `json:"id"`
	CouponID       uuid.UUID       `json:"coupon_id"`
	UserID         uuid.UUID       `json:"user_id"`
	CourseID       *uuid.UUID      `json:"course_id,omitempty"`
	BundleID       *uuid.UUID      `json:"bundle_id,omitempty"`
	PaymentID      uuid.UUID       `json:"payment_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}
