// Package coupons computes coupon discounts and eligibility. The functions here do no I/O.
package coupons

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-academy/backend/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Eligibility failures, checked in this order.
var (
	ErrInactive          = errors.New("this coupon is not active")
	ErrNotStarted        = errors.New("this coupon is not valid yet")
	ErrExpired           = errors.New("this coupon has expired")
	ErrWrongCourse       = errors.New("this coupon cannot be used for this course")
	ErrUsageLimitReached = errors.New("this coupon has been fully redeemed")
	ErrPerUserLimit      = errors.New("you have already used this coupon the maximum number of times")
	ErrBelowMinimum      = errors.New("the purchase amount is below this coupon's minimum")
)

// Eligibility is the context a coupon is evaluated against.
type Eligibility struct {
	// TargetCourseID is nil when buying a bundle; course-scoped coupons never match it.
	TargetCourseID *uuid.UUID
	UserUsageCount int
	// CoursePrice must be the effective (promo) price the buyer owes before the coupon.
	CoursePrice decimal.Decimal
	Now         time.Time
}

// Result of ValidateEligibility. Err is nil when Valid.
type Result struct {
	Valid bool
	Err   error
}

// CalculateDiscount returns the discount for price. Percentage discounts are
// rounded to cents and capped at maxDiscount; fixed discounts are returned
// verbatim even when they exceed price. An unknown type discounts nothing.
func CalculateDiscount(price decimal.Decimal, discountType string, discountValue decimal.Decimal, maxDiscount *decimal.Decimal) decimal.Decimal {
	switch discountType {
	case models.CouponDiscountFixed:
		return discountValue
	case models.CouponDiscountPercentage:
		amount := price.Mul(discountValue).Div(hundred).Round(2)
		if maxDiscount != nil && amount.GreaterThan(*maxDiscount) {
			return *maxDiscount
		}
		return amount
	default:
		return decimal.Zero
	}
}

// IsFullDiscount reports whether the coupon leaves nothing to pay.
func IsFullDiscount(price decimal.Decimal, discountType string, discountValue decimal.Decimal, maxDiscount *decimal.Decimal) bool {
	return price.Sub(CalculateDiscount(price, discountType, discountValue, maxDiscount)).LessThanOrEqual(decimal.Zero)
}

// FinalPrice clamps price minus discount at zero.
func FinalPrice(price, discount decimal.Decimal) decimal.Decimal {
	final := price.Sub(discount)
	if final.IsNegative() {
		return decimal.Zero
	}
	return final
}

// Discount is CalculateDiscount applied to a coupon record.
func Discount(c *models.Coupon, price decimal.Decimal) decimal.Decimal {
	return CalculateDiscount(price, c.DiscountType, c.DiscountValue, c.MaxDiscount)
}

// ValidateEligibility runs the eligibility checks and stops at the first failure.
func ValidateEligibility(c *models.Coupon, e Eligibility) Result {
	now := e.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch {
	case c == nil || !c.IsActive:
		return invalid(ErrInactive)
	case c.StartsAt != nil && c.StartsAt.After(now):
		return invalid(ErrNotStarted)
	case c.ExpiresAt != nil && c.ExpiresAt.Before(now):
		return invalid(ErrExpired)
	case c.CourseID != nil && (e.TargetCourseID == nil || *c.CourseID != *e.TargetCourseID):
		return invalid(ErrWrongCourse)
	case c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit:
		return invalid(ErrUsageLimitReached)
	case c.PerUserLimit != nil && e.UserUsageCount >= *c.PerUserLimit:
		return invalid(ErrPerUserLimit)
	case c.MinPurchase != nil && e.CoursePrice.LessThan(*c.MinPurchase):
		return invalid(ErrBelowMinimum)
	}
	return Result{Valid: true}
}

func invalid(err error) Result {
	return Result{Valid: false, Err: err}
}
