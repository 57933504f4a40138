package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Pricing is the list price plus an optional time-windowed promo price.
type Pricing struct {
	Price         decimal.Decimal  `json:"price"`
	PromoPrice    *decimal.Decimal `json:"promo_price,omitempty"`
	PromoStartsAt *time.Time       `json:"promo_starts_at,omitempty"`
	PromoEndsAt   *time.Time       `json:"promo_ends_at,omitempty"`
}

// EffectivePrice returns the promo price when now falls inside the promo window
// (either bound may be open), otherwise the list price.
func (p Pricing) EffectivePrice(now time.Time) decimal.Decimal {
	if p.PromoPrice == nil {
		return p.Price
	}
	if p.PromoStartsAt != nil && now.Before(*p.PromoStartsAt) {
		return p.Price
	}
	if p.PromoEndsAt != nil && now.After(*p.PromoEndsAt) {
		return p.Price
	}
	return *p.PromoPrice
}

// Course is a purchasable course.
type Course struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Pricing
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bundle is a fixed set of courses sold as one purchase.
type Bundle struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Pricing
	// CourseIDs in bundle order.
	CourseIDs []uuid.UUID `json:"course_ids"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BundleCourse joins a bundle to one of its courses.
type BundleCourse struct {
	BundleID   uuid.UUID `json:"bundle_id"`
	CourseID   uuid.UUID `json:"course_id"`
	OrderIndex int       `json:"order_index"`
}

// Enrollment grants a user access to a course.
type Enrollment struct {
	UserID      uuid.UUID  `json:"user_id"`
	CourseID    uuid.UUID  `json:"course_id"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
