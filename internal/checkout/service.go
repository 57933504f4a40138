// Package checkout prices purchases and turns payment proofs into settlements.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/coupons"
	"github.com/aura-academy/backend/internal/metrics"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
	"github.com/aura-academy/backend/internal/settlement"
	"github.com/aura-academy/backend/internal/slipverify"
	"github.com/aura-academy/backend/pkg/storage"
)

var (
	ErrEmptySlip       = errors.New("slip image is required")
	ErrSlipTooLarge    = errors.New("slip image is too large")
	ErrInvalidFileType = errors.New("slip must be a JPEG, PNG, WebP or GIF image")
	ErrTargetNotFound  = errors.New("course or bundle not found")
	ErrCouponNotFound  = errors.New("coupon not found")
	ErrAlreadyEnrolled = errors.New("you are already enrolled")
	// ErrFreeAfterCoupon means the coupon covers the whole price; such purchases use the free-enrollment flow.
	ErrFreeAfterCoupon = errors.New("this coupon makes the purchase free; no payment is needed")
	ErrNothingToPay    = errors.New("this item is free; no payment is needed")
	// ErrSettlementDeferred means the slip was verified but settlement failed; the payment awaits admin review.
	ErrSettlementDeferred = errors.New("payment verified but could not be completed; it will be reviewed")
)

// ReasonCouponExhausted is the failure reason stored when the coupon ran out between quote and settlement.
const ReasonCouponExhausted = "coupon_limit_exceeded"

// CouponError carries a coupon eligibility failure.
type CouponError struct {
	Err error
}

func (e *CouponError) Error() string { return e.Err.Error() }
func (e *CouponError) Unwrap() error { return e.Err }

// RejectedError means the proof was checked and the payment marked failed.
type RejectedError struct {
	PaymentID uuid.UUID
	Reason    string
	Message   string
}

func (e *RejectedError) Error() string { return fmt.Sprintf("payment rejected: %s", e.Reason) }

// Verifier checks a slip with the verification provider.
type Verifier interface {
	Verify(ctx context.Context, slip slipverify.Slip, expected decimal.Decimal) (*slipverify.Verification, error)
}

// SlipArchiver stores slip images.
type SlipArchiver interface {
	ArchiveSlip(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Settler completes payments. *settlement.Engine implements it.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Result, error)
}

// Config holds checkout limits.
type Config struct {
	MaxSlipBytes int64
	Currency     string
}

// Service implements pricing and the slip checkout flow.
type Service struct {
	store    payments.Store
	verifier Verifier
	archiver SlipArchiver
	settler  Settler
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a checkout service. archiver may be nil.
func NewService(store payments.Store, verifier Verifier, archiver SlipArchiver, settler Settler, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxSlipBytes <= 0 {
		cfg.MaxSlipBytes = storage.DefaultMaxSlipSize
	}
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, verifier: verifier, archiver: archiver, settler: settler, cfg: cfg, logger: logger, now: time.Now}
}

// Quote is the authoritative price for one purchase.
type Quote struct {
	Target    models.Target   `json:"-"`
	ListPrice decimal.Decimal `json:"list_price"`
	// BasePrice is the price after any active promo, before the coupon.
	BasePrice decimal.Decimal `json:"base_price"`
	Discount  decimal.Decimal `json:"discount_amount"`
	Final     decimal.Decimal `json:"final_amount"`
	Coupon    *models.Coupon  `json:"-"`
}

// CouponRef names a coupon by id or by code. Both empty means no coupon.
type CouponRef struct {
	ID   *uuid.UUID
	Code string
}

func (r CouponRef) empty() bool { return r.ID == nil && r.Code == "" }

// ResolvePrice computes what userID owes for target: promo window, then coupon.
func (s *Service) ResolvePrice(ctx context.Context, userID uuid.UUID, target models.Target, ref CouponRef) (*Quote, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	var pricing models.Pricing
	if target.CourseID != nil {
		course, err := s.store.GetCourse(ctx, *target.CourseID)
		if err != nil {
			return nil, notFound(err, ErrTargetNotFound)
		}
		enrolled, err := s.store.IsEnrolled(ctx, userID, course.ID)
		if err != nil {
			return nil, err
		}
		if enrolled {
			return nil, ErrAlreadyEnrolled
		}
		pricing = course.Pricing
	} else {
		bundle, err := s.store.GetBundle(ctx, *target.BundleID)
		if err != nil {
			return nil, notFound(err, ErrTargetNotFound)
		}
		owned := 0
		for _, id := range bundle.CourseIDs {
			ok, err := s.store.IsEnrolled(ctx, userID, id)
			if err != nil {
				return nil, err
			}
			if ok {
				owned++
			}
		}
		if len(bundle.CourseIDs) > 0 && owned == len(bundle.CourseIDs) {
			return nil, ErrAlreadyEnrolled
		}
		pricing = bundle.Pricing
	}

	q := &Quote{Target: target, ListPrice: pricing.Price, BasePrice: pricing.EffectivePrice(now), Discount: decimal.Zero}
	q.Final = q.BasePrice
	if ref.empty() {
		if !q.Final.IsPositive() {
			return nil, ErrNothingToPay
		}
		return q, nil
	}

	c, err := s.loadCoupon(ctx, ref)
	if err != nil {
		return nil, err
	}
	used, err := s.store.CountCouponUsage(ctx, c.ID, userID)
	if err != nil {
		return nil, err
	}
	res := coupons.ValidateEligibility(c, coupons.Eligibility{
		TargetCourseID: target.CourseID,
		UserUsageCount: used,
		CoursePrice:    q.BasePrice,
		Now:            now,
	})
	if !res.Valid {
		return nil, &CouponError{Err: res.Err}
	}
	q.Coupon = c
	q.Discount = coupons.Discount(c, q.BasePrice)
	q.Final = coupons.FinalPrice(q.BasePrice, q.Discount)
	if !q.Final.IsPositive() {
		return nil, ErrFreeAfterCoupon
	}
	return q, nil
}

func (s *Service) loadCoupon(ctx context.Context, ref CouponRef) (*models.Coupon, error) {
	var (
		c   *models.Coupon
		err error
	)
	if ref.ID != nil {
		c, err = s.store.GetCoupon(ctx, *ref.ID)
	} else {
		c, err = s.store.GetCouponByCode(ctx, ref.Code)
	}
	if err != nil {
		return nil, notFound(err, ErrCouponNotFound)
	}
	return c, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, payments.ErrNotFound) {
		return sentinel
	}
	return err
}

// SlipInput is one slip submission.
type SlipInput struct {
	UserID   uuid.UUID
	Target   models.Target
	CouponID *uuid.UUID
	Slip     slipverify.Slip
	Locale   string
}

// SlipOutcome is returned when the slip was accepted (completed) or is still being checked (verifying).
type SlipOutcome struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Enrolled  []uuid.UUID     `json:"enrolled,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ValidateSlip checks the upload before any I/O. The bytes must sniff as an allowed image.
func (s *Service) ValidateSlip(slip slipverify.Slip) error {
	if len(slip.Data) == 0 {
		return ErrEmptySlip
	}
	if int64(len(slip.Data)) > s.cfg.MaxSlipBytes {
		return ErrSlipTooLarge
	}
	if _, ok := storage.DetectSlipType(slip.ContentType, slip.Filename, slip.Data); !ok {
		return ErrInvalidFileType
	}
	return nil
}

// MaxSlipBytes is the configured upload ceiling.
func (s *Service) MaxSlipBytes() int64 { return s.cfg.MaxSlipBytes }

// SubmitSlip prices the purchase, verifies the slip, and settles the payment.
func (s *Service) SubmitSlip(ctx context.Context, in SlipInput) (*SlipOutcome, error) {
	if err := s.ValidateSlip(in.Slip); err != nil {
		return nil, err
	}
	q, err := s.ResolvePrice(ctx, in.UserID, in.Target, CouponRef{ID: in.CouponID})
	if err != nil {
		return nil, err
	}
	p, err := s.reservePayment(ctx, in.UserID, q)
	if err != nil {
		return nil, fmt.Errorf("reserve payment: %w", err)
	}
	log := s.logger.With(zap.String("payment_id", p.ID.String()), zap.String("user_id", in.UserID.String()))

	s.archive(ctx, log, p, in.Slip)

	v, err := s.verifier.Verify(ctx, in.Slip, q.Final)
	switch {
	case errors.Is(err, slipverify.ErrTimeout):
		metrics.ProofVerifications.WithLabelValues(models.PaymentMethodPromptPay, "timeout").Inc()
		if _, terr := s.store.TransitionPayment(ctx, p.ID, []string{models.PaymentStatusPending}, models.PaymentStatusVerifying, "", "verification_timeout"); terr != nil {
			log.Error("mark payment verifying failed", zap.Error(terr))
		}
		log.Warn("slip verification timed out; payment left verifying")
		return &SlipOutcome{
			PaymentID: p.ID,
			Status:    models.PaymentStatusVerifying,
			Amount:    q.Final,
			Message:   pendingMessage(in.Locale),
		}, nil
	case err != nil:
		log.Error("slip verification unavailable", zap.Error(err))
		return nil, s.reject(ctx, log, p.ID, string(slipverify.ReasonUnavailable), slipverify.ReasonUnavailable.Message(in.Locale))
	case !v.Valid:
		log.Info("slip rejected by provider", zap.Int("code", v.Code), zap.String("reason", string(v.Reason)))
		return nil, s.reject(ctx, log, p.ID, string(v.Reason), v.Reason.Message(in.Locale))
	case v.Amount == nil || v.Amount.LessThan(q.Final):
		log.Warn("slip amount below charge", zap.String("expected", q.Final.StringFixed(2)), zap.Any("settled", v.Amount))
		return nil, s.reject(ctx, log, p.ID, string(slipverify.ReasonAmountMismatch), slipverify.ReasonAmountMismatch.Message(in.Locale))
	}
	metrics.ProofVerifications.WithLabelValues(models.PaymentMethodPromptPay, "verified").Inc()

	res, err := s.settler.Settle(ctx, settlement.Request{PaymentID: p.ID, ExternalReference: v.TransRef})
	switch {
	case err == nil:
	case errors.Is(err, settlement.ErrCouponExhausted):
		return nil, s.reject(ctx, log, p.ID, ReasonCouponExhausted, couponExhaustedMessage(in.Locale))
	default:
		if _, terr := s.store.TransitionPayment(ctx, p.ID, []string{models.PaymentStatusPending}, models.PaymentStatusVerifying, v.TransRef, "settlement_error"); terr != nil {
			log.Error("park payment for review failed", zap.Error(terr))
		}
		log.Error("verified slip could not be settled; parked for review", zap.Error(err))
		return nil, ErrSettlementDeferred
	}
	return &SlipOutcome{
		PaymentID: p.ID,
		Status:    res.Payment.Status,
		Amount:    res.Payment.Amount,
		Enrolled:  res.Enrolled,
	}, nil
}

// reservePayment reuses the user's pending PromptPay payment for the target or creates one.
func (s *Service) reservePayment(ctx context.Context, userID uuid.UUID, q *Quote) (*models.Payment, error) {
	var couponID *uuid.UUID
	if q.Coupon != nil {
		id := q.Coupon.ID
		couponID = &id
	}
	for attempt := 0; attempt < 3; attempt++ {
		var out *models.Payment
		err := s.store.WithTx(ctx, func(tx payments.Queries) error {
			existing, err := tx.FindPendingPayment(ctx, userID, q.Target, models.PaymentMethodPromptPay)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := tx.UpdatePendingQuote(ctx, existing.ID, q.Final, couponID, q.Discount); err != nil {
					return err
				}
				existing.Amount, existing.CouponID, existing.DiscountAmount = q.Final, couponID, q.Discount
				out = existing
				return nil
			}
			p := &models.Payment{
				UserID:         userID,
				CourseID:       q.Target.CourseID,
				BundleID:       q.Target.BundleID,
				Amount:         q.Final,
				Currency:       s.cfg.Currency,
				Method:         models.PaymentMethodPromptPay,
				Status:         models.PaymentStatusPending,
				CouponID:       couponID,
				DiscountAmount: q.Discount,
			}
			if err := tx.CreatePayment(ctx, p); err != nil {
				return err
			}
			out = p
			return nil
		})
		if errors.Is(err, payments.ErrDuplicatePending) || errors.Is(err, payments.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, payments.ErrDuplicatePending
}

func (s *Service) archive(ctx context.Context, log *zap.Logger, p *models.Payment, slip slipverify.Slip) {
	if s.archiver == nil {
		return
	}
	key := storage.SlipKey(p.UserID.String(), p.ID.String(), slip.Filename)
	ct, _ := storage.DetectSlipType(slip.ContentType, slip.Filename, slip.Data)
	stored, err := s.archiver.ArchiveSlip(ctx, key, ct, slip.Data)
	if err != nil {
		log.Warn("slip archive failed", zap.Error(err))
		return
	}
	if err := s.store.SetSlipURL(ctx, p.ID, stored); err != nil {
		log.Warn("record slip location failed", zap.Error(err))
	}
}

func (s *Service) reject(ctx context.Context, log *zap.Logger, paymentID uuid.UUID, reason, message string) error {
	metrics.ProofVerifications.WithLabelValues(models.PaymentMethodPromptPay, reason).Inc()
	if _, err := s.store.TransitionPayment(ctx, paymentID, payments.Settleable, models.PaymentStatusFailed, "", reason); err != nil {
		log.Error("mark payment failed", zap.Error(err), zap.String("reason", reason))
	}
	return &RejectedError{PaymentID: paymentID, Reason: reason, Message: message}
}
