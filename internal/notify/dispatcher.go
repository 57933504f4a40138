// Package notify fans settled payments out to email, in-app notification, and analytics jobs.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/metrics"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/settlement"
	"github.com/aura-academy/backend/pkg/queue"
)

// EventPaymentSettled is the analytics event name for a completed payment.
const EventPaymentSettled = "payment_settled"

const dispatchTimeout = 10 * time.Second

// Enqueuer pushes side-effect jobs. *queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, typ queue.JobType, payload any) error
}

// UserGetter loads the recipient of a settled payment.
type UserGetter interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Dispatcher implements settlement.Notifier. Each event is handled on its own goroutine
// so the caller's response is never delayed or failed by a side effect.
type Dispatcher struct {
	queue  Enqueuer
	users  UserGetter
	logger *zap.Logger
	wg     sync.WaitGroup
}

var _ settlement.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a side-effect dispatcher.
func NewDispatcher(q Enqueuer, users UserGetter, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: q, users: users, logger: logger}
}

// PaymentSettled queues the side effects for ev and returns immediately.
func (d *Dispatcher) PaymentSettled(ctx context.Context, ev settlement.SettledEvent) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.SideEffectFailures.WithLabelValues("panic").Inc()
				d.logger.Error("side effect dispatch panicked", zap.Any("panic", r), zap.String("payment_id", ev.PaymentID.String()))
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()
		d.dispatch(ctx, ev)
	}()
}

// Wait blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, ev settlement.SettledEvent) {
	log := d.logger.With(zap.String("payment_id", ev.PaymentID.String()), zap.String("user_id", ev.UserID.String()))

	d.enqueue(ctx, log, queue.JobTypeAnalytics, analyticsPayload(ev))

	user, err := d.users.GetUser(ctx, ev.UserID)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("user_lookup").Inc()
		log.Warn("settled payment user lookup failed", zap.Error(err))
		return
	}
	msg := settledMessage(user.Locale, ev)
	d.enqueue(ctx, log, queue.JobTypeNotification, queue.NotificationPayload{
		UserID: ev.UserID,
		Title:  msg.Title,
		Body:   msg.Body,
		Link:   msg.Link,
	})
	if user.Email == "" {
		return
	}
	d.enqueue(ctx, log, queue.JobTypeEmail, queue.EmailPayload{
		Template:       EventPaymentSettled,
		PaymentID:      ev.PaymentID,
		RecipientEmail: user.Email,
		Subject:        msg.Title,
		Body:           msg.Body,
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, log *zap.Logger, typ queue.JobType, payload any) {
	if err := d.queue.Enqueue(ctx, typ, payload); err != nil {
		metrics.SideEffectFailures.WithLabelValues(string(typ)).Inc()
		log.Warn("side effect enqueue failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

func analyticsPayload(ev settlement.SettledEvent) queue.AnalyticsPayload {
	meta := map[string]string{
		"payment_id":  ev.PaymentID.String(),
		"method":      ev.Method,
		"target_type": ev.Target.Kind(),
		"target_id":   ev.Target.ID().String(),
		"currency":    ev.Currency,
		"enrolled":    fmt.Sprint(len(ev.Enrolled)),
	}
	if ev.CouponID != nil {
		meta["coupon_id"] = ev.CouponID.String()
		meta["discount_amount"] = ev.DiscountAmount.StringFixed(2)
	}
	if ev.Manual {
		meta["manual"] = "true"
	}
	return queue.AnalyticsPayload{
		Event:    EventPaymentSettled,
		UserID:   ev.UserID,
		Amount:   ev.Amount.StringFixed(2),
		Metadata: meta,
	}
}
