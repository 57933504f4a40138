package recovery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/middleware"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
	"github.com/aura-academy/backend/internal/settlement"
	"github.com/aura-academy/backend/pkg/response"
)

const maxListLimit = 500

// SlipSigner presigns archived slip images for admin review.
type SlipSigner interface {
	PresignSlip(ctx context.Context, key string) (string, error)
}

// RetryBody is the body for POST /admin/payments/:id/retry.
type RetryBody struct {
	Action string `json:"action" binding:"required,oneof=approve reject"`
	Reason string `json:"reason"`
}

// StuckPayment is one row of the admin review list.
type StuckPayment struct {
	models.Payment
	SlipViewURL string `json:"slip_view_url,omitempty"`
}

// Handler handles recovery HTTP endpoints.
type Handler struct {
	svc    *Service
	signer SlipSigner
	logger *zap.Logger
}

// NewHandler creates a recovery handler. signer may be nil.
func NewHandler(svc *Service, signer SlipSigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, signer: signer, logger: logger}
}

// ListStuck handles GET /admin/payments?status=verifying,failed&method=&limit=.
func (h *Handler) ListStuck(c *gin.Context) {
	f := payments.ListFilter{Method: c.Query("method"), Limit: 100}
	if raw := c.Query("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			st = strings.TrimSpace(st)
			switch st {
			case models.PaymentStatusPending, models.PaymentStatusVerifying, models.PaymentStatusCompleted, models.PaymentStatusFailed:
				f.Statuses = append(f.Statuses, st)
			default:
				response.BadRequest(c, "invalid status: "+st)
				return
			}
		}
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		f.Limit = min(n, maxListLimit)
	}
	list, err := h.svc.ListStuck(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list stuck payments failed", zap.Error(err))
		response.Internal(c, "failed to list payments")
		return
	}
	out := make([]StuckPayment, 0, len(list))
	for _, p := range list {
		row := StuckPayment{Payment: p}
		if h.signer != nil && p.SlipURL != "" {
			if u, err := h.signer.PresignSlip(c.Request.Context(), p.SlipURL); err == nil {
				row.SlipViewURL = u
			} else {
				h.logger.Warn("presign slip failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
			}
		}
		out = append(out, row)
	}
	response.OK(c, out)
}

// Retry handles POST /admin/payments/:id/retry (admin only).
func (h *Handler) Retry(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	var body RetryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	adminID, _ := c.Get(middleware.ContextUserID)
	id, _ := adminID.(uuid.UUID)

	res, err := h.svc.Retry(c.Request.Context(), paymentID, RetryRequest{Action: body.Action, Reason: strings.TrimSpace(body.Reason), AdminID: id})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	data := gin.H{"payment_id": res.PaymentID, "status": res.Status}
	if res.Bundle && body.Action == ActionApprove {
		enrolled := res.Enrolled
		if enrolled == nil {
			enrolled = []uuid.UUID{}
		}
		data["enrolled"] = enrolled
	}
	response.OK(c, data)
}

// ConfirmStripe handles GET /checkout/stripe/confirm?session_id=&course_id|bundle_id=&payment_id=.
func (h *Handler) ConfirmStripe(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	paymentID, err := uuid.Parse(c.Query("payment_id"))
	if err != nil {
		response.BadRequest(c, "invalid payment_id")
		return
	}
	var target models.Target
	if raw := c.Query("course_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid course_id")
			return
		}
		target.CourseID = &id
	}
	if raw := c.Query("bundle_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid bundle_id")
			return
		}
		target.BundleID = &id
	}
	res, err := h.svc.ReconcileSession(c.Request.Context(), ReconcileRequest{
		UserID:    userID,
		SessionID: c.Query("session_id"),
		Target:    target,
		PaymentID: paymentID,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	response.OK(c, res)
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, payments.ErrNotFound):
		response.NotFound(c, "payment not found")
	case errors.Is(err, ErrInvalidAction), errors.Is(err, models.ErrPaymentTarget), errors.Is(err, ErrPaymentMismatch):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrUnsupportedMethod), errors.Is(err, ErrNotRecoverable):
		response.Conflict(c, err.Error())
	case errors.Is(err, settlement.ErrRetryLimitReached):
		response.Fail(c, http.StatusUnprocessableEntity, "retry_limit_reached", err.Error())
	case errors.Is(err, settlement.ErrCouponExhausted):
		response.Fail(c, http.StatusConflict, "coupon_limit_exceeded", err.Error())
	case errors.Is(err, ErrGatewayUnavailable):
		response.Fail(c, http.StatusBadGateway, "gateway_unavailable", "payment gateway unavailable")
	default:
		logger.Error("recovery failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}
