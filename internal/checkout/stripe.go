package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/gateway"
	"github.com/aura-academy/backend/internal/metrics"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
	"github.com/aura-academy/backend/internal/settlement"
)

// ErrSessionMismatch means a paid session does not belong to the payment it names.
var ErrSessionMismatch = errors.New("checkout session does not match payment")

// SettleStripeSession settles the payment named in a paid session's metadata.
// Unpaid sessions return nil, nil.
func (s *Service) SettleStripeSession(ctx context.Context, sess *gateway.Session) (*settlement.Result, error) {
	if sess == nil || !sess.Paid {
		return nil, nil
	}
	paymentID, err := uuid.Parse(sess.Metadata[gateway.MetaPaymentID])
	if err != nil {
		return nil, fmt.Errorf("%w: missing payment id", ErrSessionMismatch)
	}
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != models.PaymentMethodStripe || !sess.PaidFor(ExpectedFor(p)) {
		metrics.ProofVerifications.WithLabelValues(models.PaymentMethodStripe, "mismatch").Inc()
		s.logger.Warn("stripe session does not match payment", zap.String("session_id", sess.ID), zap.String("payment_id", p.ID.String()))
		return nil, ErrSessionMismatch
	}
	metrics.ProofVerifications.WithLabelValues(models.PaymentMethodStripe, "verified").Inc()
	ref := sess.PaymentIntentID
	if ref == "" {
		ref = sess.ID
	}
	return s.settler.Settle(ctx, settlement.Request{PaymentID: p.ID, ExternalReference: ref, From: payments.Settleable})
}

// ExpectedFor is the session context a payment's checkout session must carry.
func ExpectedFor(p *models.Payment) gateway.Expected {
	return gateway.Expected{UserID: p.UserID, CourseID: p.CourseID, BundleID: p.BundleID, PaymentID: p.ID}
}
