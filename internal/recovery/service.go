// Package recovery reconciles payments that did not settle on the happy path:
// admin approval or rejection of PromptPay payments, and the Stripe return-page fallback.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-academy/backend/internal/gateway"
	"github.com/aura-academy/backend/internal/metrics"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
	"github.com/aura-academy/backend/internal/settlement"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"

	// DefaultMaxRetries caps admin actions per payment when no limit is configured.
	DefaultMaxRetries = 5
	// ReasonAdminRejected is stored when an admin rejects without a reason.
	ReasonAdminRejected = "rejected_by_admin"

	reconcileTimeout = 30 * time.Second
)

var (
	ErrInvalidAction      = errors.New("action must be approve or reject")
	ErrUnsupportedMethod  = errors.New("only PromptPay payments can be retried")
	ErrNotRecoverable     = errors.New("payment is not awaiting review")
	ErrPaymentMismatch    = errors.New("payment does not belong to this checkout")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Settler completes payments. *settlement.Engine implements it.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Result, error)
}

// Service performs recovery actions.
type Service struct {
	store      payments.Store
	settler    Settler
	sessions   gateway.Sessions
	maxRetries int
	logger     *zap.Logger
	group      singleflight.Group
	now        func() time.Time
}

// NewService creates a recovery service. sessions may be nil when Stripe is not configured.
func NewService(store payments.Store, settler Settler, sessions gateway.Sessions, maxRetries int, logger *zap.Logger) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, settler: settler, sessions: sessions, maxRetries: maxRetries, logger: logger, now: time.Now}
}

// RetryRequest is an admin decision on a stuck payment.
type RetryRequest struct {
	Action  string
	Reason  string
	AdminID uuid.UUID
}

// RetryResult is the payment state after an admin action.
type RetryResult struct {
	PaymentID uuid.UUID
	Status    string
	Bundle    bool
	// Enrolled lists courses newly granted by an approval.
	Enrolled []uuid.UUID
}

// Retry approves or rejects a verifying or failed PromptPay payment.
func (s *Service) Retry(ctx context.Context, paymentID uuid.UUID, req RetryRequest) (*RetryResult, error) {
	if req.Action != ActionApprove && req.Action != ActionReject {
		return nil, ErrInvalidAction
	}
	log := s.logger.With(zap.String("payment_id", paymentID.String()), zap.String("action", req.Action), zap.String("admin_id", req.AdminID.String()))

	res, err := s.retry(ctx, paymentID, req)
	outcome := "ok"
	if err != nil {
		outcome = outcomeFor(err)
		log.Warn("payment retry refused", zap.Error(err))
	} else {
		log.Info("payment retry applied", zap.String("status", res.Status), zap.Int("enrolled", len(res.Enrolled)))
	}
	metrics.RecoveryActions.WithLabelValues(req.Action, outcome).Inc()
	return res, err
}

func (s *Service) retry(ctx context.Context, paymentID uuid.UUID, req RetryRequest) (*RetryResult, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != models.PaymentMethodPromptPay {
		return nil, ErrUnsupportedMethod
	}
	if !payments.Contains(payments.Recoverable, p.Status) {
		return nil, ErrNotRecoverable
	}
	if p.RetryCount >= s.maxRetries {
		return nil, settlement.ErrRetryLimitReached
	}

	if req.Action == ActionApprove {
		res, err := s.settler.Settle(ctx, settlement.Request{
			PaymentID:  p.ID,
			From:       payments.Recoverable,
			Manual:     true,
			MaxRetries: s.maxRetries,
		})
		if err != nil {
			if errors.Is(err, settlement.ErrInvalidTransition) {
				return nil, ErrNotRecoverable
			}
			return nil, err
		}
		return &RetryResult{PaymentID: p.ID, Status: res.Payment.Status, Bundle: p.IsBundle(), Enrolled: res.Enrolled}, nil
	}

	reason := req.Reason
	if reason == "" {
		reason = ReasonAdminRejected
	}
	ok, err := s.store.RecordRetry(ctx, payments.RetryUpdate{
		PaymentID:     p.ID,
		From:          payments.Recoverable,
		To:            models.PaymentStatusFailed,
		FailureReason: reason,
		MaxRetries:    s.maxRetries,
		At:            s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another admin action; report what blocked it.
		cur, err := s.store.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if payments.Contains(payments.Recoverable, cur.Status) && cur.RetryCount >= s.maxRetries {
			return nil, settlement.ErrRetryLimitReached
		}
		return nil, ErrNotRecoverable
	}
	return &RetryResult{PaymentID: p.ID, Status: models.PaymentStatusFailed, Bundle: p.IsBundle()}, nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, settlement.ErrRetryLimitReached):
		return "retry_limit"
	case errors.Is(err, settlement.ErrCouponExhausted):
		return "coupon_exhausted"
	case errors.Is(err, payments.ErrNotFound), errors.Is(err, ErrNotRecoverable), errors.Is(err, ErrUnsupportedMethod), errors.Is(err, ErrInvalidAction), errors.Is(err, ErrPaymentMismatch):
		return "rejected"
	default:
		return "error"
	}
}

// ListStuck returns payments awaiting review, oldest first. Default statuses are verifying and failed.
func (s *Service) ListStuck(ctx context.Context, f payments.ListFilter) ([]models.Payment, error) {
	if len(f.Statuses) == 0 {
		f.Statuses = payments.Recoverable
	}
	return s.store.ListPayments(ctx, f)
}

// ReconcileRequest identifies a returning Stripe checkout.
type ReconcileRequest struct {
	UserID    uuid.UUID
	SessionID string
	Target    models.Target
	PaymentID uuid.UUID
}

// ReconcileResult reports whether the session was paid, settled here, and whether the user now owns the target.
type ReconcileResult struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Paid      bool      `json:"paid"`
	Settled   bool      `json:"settled"`
	Enrolled  bool      `json:"enrolled"`
}

// ReconcileSession settles a paid Stripe session whose webhook has not arrived yet.
// Concurrent calls with an identical request share one execution.
func (s *Service) ReconcileSession(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrPaymentMismatch)
	}
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	v, err, _ := s.group.Do(req.key(), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
		defer cancel()
		return s.reconcile(ctx, req)
	})
	outcome := "ok"
	if err != nil {
		outcome = outcomeFor(err)
		metrics.RecoveryActions.WithLabelValues("reconcile", outcome).Inc()
		return nil, err
	}
	res := v.(*ReconcileResult)
	if !res.Paid {
		outcome = "not_paid"
	}
	metrics.RecoveryActions.WithLabelValues("reconcile", outcome).Inc()
	out := *res
	return &out, nil
}

// key covers every field reconcile checks, so a shared result never skips another caller's ownership check.
func (r ReconcileRequest) key() string {
	return strings.Join([]string{r.SessionID, r.UserID.String(), r.PaymentID.String(), r.Target.Kind(), r.Target.ID().String()}, "|")
}

func (s *Service) reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	log := s.logger.With(zap.String("session_id", req.SessionID), zap.String("user_id", req.UserID.String()), zap.String("payment_id", req.PaymentID.String()))
	if s.sessions == nil {
		return nil, ErrGatewayUnavailable
	}
	p, err := s.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != req.UserID || p.Method != models.PaymentMethodStripe || !sameTarget(p, req.Target) {
		return nil, ErrPaymentMismatch
	}

	res := &ReconcileResult{PaymentID: p.ID}
	sess, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		log.Error("retrieve checkout session failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	expected := gateway.Expected{UserID: req.UserID, CourseID: req.Target.CourseID, BundleID: req.Target.BundleID, PaymentID: p.ID}
	if sess.PaidFor(expected) {
		res.Paid = true
		ref := sess.PaymentIntentID
		if ref == "" {
			ref = sess.ID
		}
		sr, err := s.settler.Settle(ctx, settlement.Request{PaymentID: p.ID, ExternalReference: ref, From: payments.Settleable})
		switch {
		case err == nil:
			res.Settled = !sr.AlreadySettled
		case errors.Is(err, settlement.ErrInvalidTransition):
			log.Warn("paid session for a payment that cannot settle", zap.String("status", p.Status))
		default:
			return nil, err
		}
	} else {
		log.Info("checkout session not paid for this purchase")
	}

	res.Enrolled, err = s.ownsTarget(ctx, req.UserID, req.Target)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) ownsTarget(ctx context.Context, userID uuid.UUID, t models.Target) (bool, error) {
	if t.CourseID != nil {
		return s.store.IsEnrolled(ctx, userID, *t.CourseID)
	}
	b, err := s.store.GetBundle(ctx, *t.BundleID)
	if err != nil {
		return false, err
	}
	for _, id := range b.CourseIDs {
		ok, err := s.store.IsEnrolled(ctx, userID, id)
		if err != nil || !ok {
			return false, err
		}
	}
	return len(b.CourseIDs) > 0, nil
}

func sameTarget(p *models.Payment, t models.Target) bool {
	if t.CourseID != nil {
		return p.CourseID != nil && *p.CourseID == *t.CourseID
	}
	return t.BundleID != nil && p.BundleID != nil && *p.BundleID == *t.BundleID
}
