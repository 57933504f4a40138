// Package settlement turns a proven payment into enrollments and coupon bookkeeping exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/metrics"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
)

var (
	// ErrCouponExhausted means a concurrent redemption used the coupon's last slot; nothing was committed.
	ErrCouponExhausted = errors.New("coupon usage limit exceeded")
	// ErrInvalidTransition means the payment is not in a status this settlement may complete from.
	ErrInvalidTransition = errors.New("payment cannot be settled from its current status")
	// ErrRetryLimitReached means an admin retry was refused by the retry cap.
	ErrRetryLimitReached = errors.New("payment retry limit reached")
	// ErrSettlementFailed wraps unexpected transaction failures; the payment is left unchanged.
	ErrSettlementFailed = errors.New("settlement failed")
)

// Request describes one settlement attempt.
type Request struct {
	PaymentID         uuid.UUID
	ExternalReference string
	// From lists the statuses the payment may be completed from; defaults to pending and verifying.
	From []string
	// Manual marks an admin approval: the retry counter is bumped in the same transaction.
	Manual     bool
	MaxRetries int
}

// Result of a settlement.
type Result struct {
	Payment        *models.Payment
	AlreadySettled bool
	// Enrolled lists courses that gained an enrollment in this settlement.
	Enrolled      []uuid.UUID
	CouponApplied bool
}

// SettledEvent is published after a settlement commits.
type SettledEvent struct {
	PaymentID      uuid.UUID
	UserID         uuid.UUID
	Target         models.Target
	Amount         decimal.Decimal
	Currency       string
	Method         string
	CouponID       *uuid.UUID
	DiscountAmount decimal.Decimal
	Enrolled       []uuid.UUID
	Manual         bool
	SettledAt      time.Time
}

// Notifier receives settled events. Implementations must not block and must swallow their own failures.
type Notifier interface {
	PaymentSettled(ctx context.Context, ev SettledEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev SettledEvent)

// PaymentSettled calls f.
func (f NotifierFunc) PaymentSettled(ctx context.Context, ev SettledEvent) { f(ctx, ev) }

// Engine performs settlements against a payments.Store.
type Engine struct {
	store    payments.Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a settlement engine. notifier may be nil.
func NewEngine(store payments.Store, notifier Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, SettledEvent) {})
	}
	return &Engine{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// Settle completes the payment, enrolls the user, and redeems the coupon in one transaction.
// Settling an already completed payment returns AlreadySettled with no side effects.
func (e *Engine) Settle(ctx context.Context, req Request) (*Result, error) {
	from := req.From
	if len(from) == 0 {
		from = payments.Settleable
	}
	log := e.logger.With(zap.String("payment_id", req.PaymentID.String()), zap.Bool("manual", req.Manual))

	var res *Result
	err := e.store.WithTx(ctx, func(q payments.Queries) error {
		r, err := e.settleTx(ctx, q, req, from)
		res = r
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrCouponExhausted):
		metrics.Settlements.WithLabelValues("coupon_exhausted").Inc()
		log.Warn("settlement aborted: coupon exhausted")
		return nil, err
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrRetryLimitReached), errors.Is(err, payments.ErrNotFound):
		metrics.Settlements.WithLabelValues("rejected").Inc()
		return nil, err
	default:
		metrics.Settlements.WithLabelValues("failed").Inc()
		log.Error("settlement transaction failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}

	if res.AlreadySettled {
		metrics.Settlements.WithLabelValues("already_settled").Inc()
		log.Info("payment already settled")
		return res, nil
	}
	metrics.Settlements.WithLabelValues("settled").Inc()
	log.Info("payment settled",
		zap.String("user_id", res.Payment.UserID.String()),
		zap.Int("enrolled", len(res.Enrolled)),
		zap.Bool("coupon_applied", res.CouponApplied),
	)

	p := res.Payment
	e.notifier.PaymentSettled(ctx, SettledEvent{
		PaymentID:      p.ID,
		UserID:         p.UserID,
		Target:         p.Target(),
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         p.Method,
		CouponID:       p.CouponID,
		DiscountAmount: p.DiscountAmount,
		Enrolled:       res.Enrolled,
		Manual:         req.Manual,
		SettledAt:      e.now(),
	})
	return res, nil
}

func (e *Engine) settleTx(ctx context.Context, q payments.Queries, req Request, from []string) (*Result, error) {
	if err := q.LockPayment(ctx, req.PaymentID); err != nil {
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	p, err := q.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payments.IsTerminal(p.Status) {
		return &Result{Payment: p, AlreadySettled: true}, nil
	}
	from = payments.Allowed(from, models.PaymentStatusCompleted)
	if !payments.Contains(from, p.Status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, p.Status)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if req.Manual {
		ok, err := q.RecordRetry(ctx, payments.RetryUpdate{
			PaymentID:  p.ID,
			From:       from,
			MaxRetries: req.MaxRetries,
			At:         e.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("record retry: %w", err)
		}
		if !ok {
			return nil, ErrRetryLimitReached
		}
	}

	ok, err := q.TransitionPayment(ctx, p.ID, from, models.PaymentStatusCompleted, req.ExternalReference, "")
	if err != nil {
		return nil, fmt.Errorf("complete payment: %w", err)
	}
	if !ok {
		// Lost a race; report the winner's result when it completed.
		cur, err := q.GetPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if cur.Status == models.PaymentStatusCompleted {
			return &Result{Payment: cur, AlreadySettled: true}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, cur.Status)
	}

	res := &Result{}
	courseIDs, err := courseIDsFor(ctx, q, p)
	if err != nil {
		return nil, err
	}
	for _, cid := range courseIDs {
		created, err := q.Enroll(ctx, p.UserID, cid)
		if err != nil {
			return nil, fmt.Errorf("enroll %s: %w", cid, err)
		}
		if created {
			res.Enrolled = append(res.Enrolled, cid)
		}
	}

	if p.CouponID != nil {
		ok, err := q.IncrementCouponUsage(ctx, *p.CouponID)
		if err != nil {
			return nil, fmt.Errorf("increment coupon usage: %w", err)
		}
		if !ok {
			return nil, ErrCouponExhausted
		}
		if err := q.InsertCouponUsage(ctx, &models.CouponUsage{
			CouponID:       *p.CouponID,
			UserID:         p.UserID,
			CourseID:       p.CourseID,
			BundleID:       p.BundleID,
			PaymentID:      p.ID,
			DiscountAmount: p.DiscountAmount,
		}); err != nil {
			return nil, fmt.Errorf("insert coupon usage: %w", err)
		}
		res.CouponApplied = true
	}

	settled, err := q.GetPayment(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	res.Payment = settled
	return res, nil
}

func courseIDsFor(ctx context.Context, q payments.Queries, p *models.Payment) ([]uuid.UUID, error) {
	if p.CourseID != nil {
		return []uuid.UUID{*p.CourseID}, nil
	}
	b, err := q.GetBundle(ctx, *p.BundleID)
	if err != nil {
		return nil, fmt.Errorf("load bundle: %w", err)
	}
	return b.CourseIDs, nil
}
