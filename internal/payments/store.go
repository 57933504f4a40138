// Package payments is the durable record of payment attempts and the data they settle into.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-academy/backend/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// RetryUpdate stamps an admin-driven retry onto a payment.
type RetryUpdate struct {
	PaymentID uuid.UUID
	// To is the status to set; empty keeps the current status.
	To            string
	From          []string
	FailureReason string
	MaxRetries    int
	At            time.Time
}

// ListFilter selects payments for admin review.
type ListFilter struct {
	Statuses []string
	Method   string
	Limit    int
}

// Queries is every read and write the reconciliation core performs.
// Implementations must run all calls on the same transaction when obtained through Store.WithTx.
type Queries interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	// FindPendingPayment returns nil, nil when the user has no pending payment for the target and method.
	FindPendingPayment(ctx context.Context, userID uuid.UUID, target models.Target, method string) (*models.Payment, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePendingQuote(ctx context.Context, id uuid.UUID, amount decimal.Decimal, couponID *uuid.UUID, discount decimal.Decimal) error
	SetSlipURL(ctx context.Context, id uuid.UUID, url string) error
	// TransitionPayment sets the status only if the current status is one of from.
	// It reports whether a row changed. Empty ref and reason leave those columns unchanged.
	TransitionPayment(ctx context.Context, id uuid.UUID, from []string, to, ref, reason string) (bool, error)
	// RecordRetry increments retry_count and stamps last_retry_at, conditioned on status and the retry cap.
	RecordRetry(ctx context.Context, u RetryUpdate) (bool, error)
	ListPayments(ctx context.Context, f ListFilter) ([]models.Payment, error)
	// LockPayment serializes settlement attempts on one payment for the rest of the transaction.
	LockPayment(ctx context.Context, id uuid.UUID) error

	GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	GetBundle(ctx context.Context, id uuid.UUID) (*models.Bundle, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	IsEnrolled(ctx context.Context, userID, courseID uuid.UUID) (bool, error)
	// Enroll inserts the enrollment unless it exists and reports whether a row was created.
	Enroll(ctx context.Context, userID, courseID uuid.UUID) (bool, error)

	GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponUsage(ctx context.Context, couponID, userID uuid.UUID) (int, error)
	// IncrementCouponUsage bumps usage_count only while it is below usage_limit and reports whether it did.
	IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) (bool, error)
	InsertCouponUsage(ctx context.Context, u *models.CouponUsage) error
}

// Store is Queries plus transactions.
type Store interface {
	Queries
	// WithTx runs fn in one transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
