package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod is how the buyer paid.
const (
	PaymentMethodPromptPay    = "promptpay"
	PaymentMethodStripe       = "stripe"
	PaymentMethodBankTransfer = "bank_transfer"
)

// PaymentStatus for payments.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusVerifying = "verifying"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// DefaultCurrency is used when a payment is created without one.
const DefaultCurrency = "THB"

// ErrPaymentTarget is returned when a payment targets both or neither of course and bundle.
var ErrPaymentTarget = errors.New("payment must target exactly one of course or bundle")

// Payment is one attempt to pay for a course or a bundle.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	CourseID          *uuid.UUID      `json:"course_id,omitempty"`
	BundleID          *uuid.UUID      `json:"bundle_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference,omitempty"`
	CouponID          *uuid.UUID      `json:"coupon_id,omitempty"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	SlipURL           string          `json:"slip_url,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	RetryCount        int             `json:"retry_count"`
	LastRetryAt       *time.Time      `json:"last_retry_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Validate checks the course/bundle exclusivity invariant.
func (p *Payment) Validate() error {
	if (p.CourseID == nil) == (p.BundleID == nil) {
		return ErrPaymentTarget
	}
	return nil
}

// Target returns the payment's purchase target.
func (p *Payment) Target() Target {
	return Target{CourseID: p.CourseID, BundleID: p.BundleID}
}

// IsBundle reports whether the payment buys a bundle.
func (p *Payment) IsBundle() bool { return p.BundleID != nil }

// Target identifies what is being bought: a course or a bundle, never both.
type Target struct {
	CourseID *uuid.UUID `json:"course_id,omitempty"`
	BundleID *uuid.UUID `json:"bundle_id,omitempty"`
}

// Validate checks that exactly one side of the target is set.
func (t Target) Validate() error {
	if (t.CourseID == nil) == (t.BundleID == nil) {
		return ErrPaymentTarget
	}
	return nil
}

// Kind returns "course" or "bundle".
func (t Target) Kind() string {
	if t.BundleID != nil {
		return "bundle"
	}
	return "course"
}

// ID returns whichever id is set.
func (t Target) ID() uuid.UUID {
	if t.BundleID != nil {
		return *t.BundleID
	}
	if t.CourseID != nil {
		return *t.CourseID
	}
	return uuid.Nil
}

// CourseTarget builds a target for a single course.
func CourseTarget(id uuid.UUID) Target { return Target{CourseID: &id} }

// BundleTarget builds a target for a bundle.
func BundleTarget(id uuid.UUID) Target { return Target{BundleID: &id} }
