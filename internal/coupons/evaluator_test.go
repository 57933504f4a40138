package coupons

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-academy/backend/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func intp(n int) *int { return &n }

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		name  string
		price string
		typ   string
		value string
		max   *decimal.Decimal
		want  string
	}{
		{"percentage of promo price", "990", models.CouponDiscountPercentage, "20", nil, "198"},
		{"percentage rounds to cents", "33.33", models.CouponDiscountPercentage, "15", nil, "5"},
		{"percentage keeps exact cents", "19.99", models.CouponDiscountPercentage, "10", nil, "2"},
		{"percentage half cent rounds up", "0.05", models.CouponDiscountPercentage, "50", nil, "0.03"},
		{"percentage without floating error", "0.3", models.CouponDiscountPercentage, "10", nil, "0.03"},
		{"percentage capped", "1990", models.CouponDiscountPercentage, "50", dp("500"), "500"},
		{"cap not reached", "1990", models.CouponDiscountPercentage, "10", dp("500"), "199"},
		{"zero percent", "1990", models.CouponDiscountPercentage, "0", nil, "0"},
		{"hundred percent", "1990", models.CouponDiscountPercentage, "100", nil, "1990"},
		{"fixed below price", "1990", models.CouponDiscountFixed, "300", nil, "300"},
		{"fixed above price is not clamped", "100", models.CouponDiscountFixed, "300", nil, "300"},
		{"fixed ignores cap", "1990", models.CouponDiscountFixed, "300", dp("100"), "300"},
		{"zero price", "0", models.CouponDiscountPercentage, "20", nil, "0"},
		{"unknown type discounts nothing", "1990", "bogo", "50", nil, "0"},
		{"empty type discounts nothing", "1990", "", "50", nil, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDiscount(d(tt.price), tt.typ, d(tt.value), tt.max)
			if !got.Equal(d(tt.want)) {
				t.Errorf("CalculateDiscount(%s, %s, %s) = %s, want %s", tt.price, tt.typ, tt.value, got, tt.want)
			}
		})
	}
}

func TestCalculateDiscount_PercentageMatchesFormula(t *testing.T) {
	for _, price := range []string{"0", "1", "9.99", "990", "1990", "12345.67"} {
		for pct := 0; pct <= 100; pct += 5 {
			p := d(price)
			want := p.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
			got := CalculateDiscount(p, models.CouponDiscountPercentage, decimal.NewFromInt(int64(pct)), nil)
			if !got.Equal(want) {
				t.Fatalf("price %s pct %d: got %s, want %s", price, pct, got, want)
			}
		}
	}
}

func TestIsFullDiscount(t *testing.T) {
	tests := []struct {
		name  string
		price string
		typ   string
		value string
		max   *decimal.Decimal
		want  bool
	}{
		{"zero price is always free", "0", models.CouponDiscountPercentage, "0", nil, true},
		{"zero price with fixed zero", "0", models.CouponDiscountFixed, "0", nil, true},
		{"hundred percent", "990", models.CouponDiscountPercentage, "100", nil, true},
		{"hundred percent capped", "990", models.CouponDiscountPercentage, "100", dp("500"), false},
		{"fixed equal to price", "990", models.CouponDiscountFixed, "990", nil, true},
		{"fixed above price", "990", models.CouponDiscountFixed, "1000", nil, true},
		{"partial", "990", models.CouponDiscountPercentage, "20", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsFullDiscount(d(tt.price), tt.typ, d(tt.value), tt.max)
			want := d(tt.price).Sub(CalculateDiscount(d(tt.price), tt.typ, d(tt.value), tt.max)).LessThanOrEqual(decimal.Zero)
			if got != tt.want || got != want {
				t.Errorf("IsFullDiscount = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinalPrice(t *testing.T) {
	if got := FinalPrice(d("990"), d("198")); !got.Equal(d("792")) {
		t.Errorf("FinalPrice = %s, want 792", got)
	}
	if got := FinalPrice(d("100"), d("300")); !got.Equal(decimal.Zero) {
		t.Errorf("FinalPrice = %s, want 0", got)
	}
}

func TestValidateEligibility(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)
	courseID := uuid.New()
	otherCourse := uuid.New()

	valid := func() *models.Coupon {
		return &models.Coupon{
			ID:            uuid.New(),
			Code:          "SAVE20",
			DiscountType:  models.CouponDiscountPercentage,
			DiscountValue: d("20"),
			IsActive:      true,
		}
	}
	ctx := Eligibility{TargetCourseID: &courseID, CoursePrice: d("990"), Now: now}

	tests := []struct {
		name   string
		mutate func(c *models.Coupon)
		elig   Eligibility
		want   error
	}{
		{"all checks pass", func(c *models.Coupon) {}, ctx, nil},
		{"inactive", func(c *models.Coupon) { c.IsActive = false }, ctx, ErrInactive},
		{"not yet started", func(c *models.Coupon) { c.StartsAt = &future }, ctx, ErrNotStarted},
		{"started", func(c *models.Coupon) { c.StartsAt = &past }, ctx, nil},
		{"expired", func(c *models.Coupon) { c.ExpiresAt = &past }, ctx, ErrExpired},
		{"not expired", func(c *models.Coupon) { c.ExpiresAt = &future }, ctx, nil},
		{"wrong course", func(c *models.Coupon) { c.CourseID = &otherCourse }, ctx, ErrWrongCourse},
		{"matching course", func(c *models.Coupon) { c.CourseID = &courseID }, ctx, nil},
		{"course coupon on bundle", func(c *models.Coupon) { c.CourseID = &courseID },
			Eligibility{CoursePrice: d("990"), Now: now}, ErrWrongCourse},
		{"global coupon on bundle", func(c *models.Coupon) {}, Eligibility{CoursePrice: d("990"), Now: now}, nil},
		{"usage exhausted", func(c *models.Coupon) { c.UsageLimit = intp(10); c.UsageCount = 10 }, ctx, ErrUsageLimitReached},
		{"usage available", func(c *models.Coupon) { c.UsageLimit = intp(10); c.UsageCount = 9 }, ctx, nil},
		{"per user exhausted", func(c *models.Coupon) { c.PerUserLimit = intp(1) },
			Eligibility{TargetCourseID: &courseID, UserUsageCount: 1, CoursePrice: d("990"), Now: now}, ErrPerUserLimit},
		{"below minimum", func(c *models.Coupon) { c.MinPurchase = dp("1000") }, ctx, ErrBelowMinimum},
		{"minimum equal passes", func(c *models.Coupon) { c.MinPurchase = dp("990") }, ctx, nil},
		{"inactive wins over expired", func(c *models.Coupon) { c.IsActive = false; c.ExpiresAt = &past }, ctx, ErrInactive},
		{"expired wins over exhausted", func(c *models.Coupon) {
			c.ExpiresAt = &past
			c.UsageLimit = intp(1)
			c.UsageCount = 1
		}, ctx, ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			res := ValidateEligibility(c, tt.elig)
			if tt.want == nil {
				if !res.Valid || res.Err != nil {
					t.Fatalf("expected valid, got %v", res.Err)
				}
				return
			}
			if res.Valid {
				t.Fatalf("expected invalid with %v", tt.want)
			}
			if !errors.Is(res.Err, tt.want) {
				t.Errorf("error = %v, want %v", res.Err, tt.want)
			}
		})
	}
}

func TestValidateEligibility_DistinctMessages(t *testing.T) {
	errs := []error{ErrInactive, ErrNotStarted, ErrExpired, ErrWrongCourse, ErrUsageLimitReached, ErrPerUserLimit, ErrBelowMinimum}
	seen := make(map[string]bool)
	for _, err := range errs {
		if seen[err.Error()] {
			t.Errorf("duplicate message %q", err.Error())
		}
		seen[err.Error()] = true
	}
}

func TestValidateEligibility_NilCoupon(t *testing.T) {
	res := ValidateEligibility(nil, Eligibility{})
	if res.Valid || !errors.Is(res.Err, ErrInactive) {
		t.Errorf("nil coupon should be rejected as inactive, got %+v", res)
	}
}
