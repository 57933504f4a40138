package checkout

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/gateway"
	"github.com/aura-academy/backend/internal/middleware"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
	"github.com/aura-academy/backend/internal/settlement"
	"github.com/aura-academy/backend/internal/slipverify"
	"github.com/aura-academy/backend/pkg/response"
)

const maxWebhookBytes = 64 * 1024

// WebhookParser verifies and decodes Stripe webhook deliveries.
type WebhookParser interface {
	CompletedSession(payload []byte, signature string) (*gateway.Session, error)
}

// ValidateCouponRequest is the body for POST /coupons/validate.
type ValidateCouponRequest struct {
	Code     string `json:"code" binding:"required"`
	CourseID string `json:"course_id" binding:"omitempty,uuid"`
	BundleID string `json:"bundle_id" binding:"omitempty,uuid"`
}

// Handler handles checkout HTTP endpoints.
type Handler struct {
	svc     *Service
	webhook WebhookParser
	logger  *zap.Logger
}

// NewHandler creates a checkout handler. webhook may be nil when Stripe is not configured.
func NewHandler(svc *Service, webhook WebhookParser, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, webhook: webhook, logger: logger}
}

// SubmitSlip handles POST /checkout/slip (multipart: slip, course_id|bundle_id, coupon_id).
func (h *Handler) SubmitSlip(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	locale := Locale(c)

	target, err := parseTarget(c.PostForm("course_id"), c.PostForm("bundle_id"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var couponID *uuid.UUID
	if raw := c.PostForm("coupon_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid coupon_id")
			return
		}
		couponID = &id
	}

	fh, err := c.FormFile("slip")
	if err != nil {
		response.BadRequest(c, ErrEmptySlip.Error())
		return
	}
	if fh.Size > h.svc.MaxSlipBytes() {
		response.BadRequest(c, ErrSlipTooLarge.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable slip upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.svc.MaxSlipBytes()+1))
	if err != nil {
		response.BadRequest(c, "unreadable slip upload")
		return
	}

	out, err := h.svc.SubmitSlip(c.Request.Context(), SlipInput{
		UserID:   userID,
		Target:   target,
		CouponID: couponID,
		Slip: slipverify.Slip{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		},
		Locale: locale,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if out.Status == models.PaymentStatusVerifying {
		response.Accepted(c, out)
		return
	}
	response.OK(c, out)
}

// ValidateCoupon handles POST /coupons/validate and previews the discounted price.
func (h *Handler) ValidateCoupon(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	target, err := parseTarget(req.CourseID, req.BundleID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	q, err := h.svc.ResolvePrice(c.Request.Context(), userID, target, CouponRef{Code: strings.TrimSpace(req.Code)})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{
		"valid":           true,
		"coupon_id":       q.Coupon.ID,
		"base_price":      q.BasePrice,
		"discount_amount": q.Discount,
		"final_amount":    q.Final,
	})
}

// StripeWebhook handles POST /webhooks/stripe.
func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.webhook == nil {
		response.ServiceUnavailable(c, "stripe webhooks not configured")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	sess, err := h.webhook.CompletedSession(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("stripe webhook rejected", zap.Error(err))
		response.BadRequest(c, "invalid webhook")
		return
	}
	if sess == nil || !sess.Paid {
		response.OK(c, gin.H{"received": true})
		return
	}
	res, err := h.svc.SettleStripeSession(c.Request.Context(), sess)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionMismatch), errors.Is(err, payments.ErrNotFound),
		errors.Is(err, settlement.ErrInvalidTransition), errors.Is(err, settlement.ErrCouponExhausted):
		// Redelivery cannot fix these; acknowledge so Stripe stops retrying.
		h.logger.Warn("stripe session not settled", zap.String("session_id", sess.ID), zap.Error(err))
		response.OK(c, gin.H{"received": true, "settled": false})
		return
	default:
		h.logger.Error("stripe webhook settlement failed", zap.String("session_id", sess.ID), zap.Error(err))
		response.Internal(c, "settlement failed")
		return
	}
	response.OK(c, gin.H{"received": true, "settled": true, "already_settled": res.AlreadySettled})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var rejected *RejectedError
	var couponErr *CouponError
	switch {
	case errors.As(err, &rejected):
		status := http.StatusUnprocessableEntity
		switch rejected.Reason {
		case ReasonCouponExhausted:
			status = http.StatusConflict
		case string(slipverify.ReasonUnavailable):
			status = http.StatusServiceUnavailable
		}
		response.Fail(c, status, rejected.Reason, rejected.Message)
	case errors.As(err, &couponErr):
		response.Fail(c, http.StatusUnprocessableEntity, "coupon_ineligible", couponErr.Error())
	case errors.Is(err, ErrEmptySlip), errors.Is(err, ErrSlipTooLarge), errors.Is(err, ErrInvalidFileType),
		errors.Is(err, models.ErrPaymentTarget):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrTargetNotFound), errors.Is(err, ErrCouponNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrAlreadyEnrolled):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrFreeAfterCoupon), errors.Is(err, ErrNothingToPay):
		response.Fail(c, http.StatusUnprocessableEntity, "free_purchase", err.Error())
	case errors.Is(err, ErrSettlementDeferred):
		response.Internal(c, err.Error())
	default:
		h.logger.Error("checkout failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}

func parseTarget(courseID, bundleID string) (models.Target, error) {
	var t models.Target
	if courseID != "" {
		id, err := uuid.Parse(courseID)
		if err != nil {
			return t, errors.New("invalid course_id")
		}
		t.CourseID = &id
	}
	if bundleID != "" {
		id, err := uuid.Parse(bundleID)
		if err != nil {
			return t, errors.New("invalid bundle_id")
		}
		t.BundleID = &id
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Locale picks "en" or "th" from Accept-Language. Thai is the default.
func Locale(c *gin.Context) string {
	if strings.HasPrefix(strings.ToLower(c.GetHeader("Accept-Language")), "en") {
		return "en"
	}
	return "th"
}
