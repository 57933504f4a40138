package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-academy/backend/internal/metrics"
	"github.com/aura-academy/backend/pkg/queue"
)

const dequeueBackoff = 2 * time.Second

// Mailer delivers one email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Sink persists in-app notifications and analytics events.
type Sink interface {
	InsertNotification(ctx context.Context, userID uuid.UUID, title, body, link string) error
	InsertAnalyticsEvent(ctx context.Context, name string, userID uuid.UUID, amount decimal.Decimal, metadata map[string]string) error
}

// JobQueue is the subset of *queue.Queue the processor uses.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// SideEffectProcessor delivers post-settlement side effects: email, in-app notification, analytics.
type SideEffectProcessor struct {
	mailer Mailer
	sink   Sink
	queue  JobQueue
	logger *zap.Logger
}

// NewSideEffectProcessor creates a side-effect processor.
func NewSideEffectProcessor(mailer Mailer, sink Sink, q JobQueue, logger *zap.Logger) *SideEffectProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SideEffectProcessor{mailer: mailer, sink: sink, queue: q, logger: logger}
}

// Process executes one job.
func (p *SideEffectProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeEmail:
		var payload queue.EmailPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if err := p.mailer.Send(ctx, payload.RecipientEmail, payload.Subject, payload.Body); err != nil {
			return err
		}
		p.logger.Info("email sent", zap.String("template", payload.Template), zap.String("payment_id", payload.PaymentID.String()))
		return nil
	case queue.JobTypeNotification:
		var payload queue.NotificationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.sink.InsertNotification(ctx, payload.UserID, payload.Title, payload.Body, payload.Link)
	case queue.JobTypeAnalytics:
		var payload queue.AnalyticsPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		amount, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			return fmt.Errorf("parse amount: %w", err)
		}
		return p.sink.InsertAnalyticsEvent(ctx, payload.Event, payload.UserID, amount, payload.Metadata)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, dead-letter on error.
func (p *SideEffectProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("side effect worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(dequeueBackoff)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *SideEffectProcessor) handle(ctx context.Context, job *queue.Job) {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	if err := p.Process(ctx, job); err != nil {
		metrics.SideEffectFailures.WithLabelValues(string(job.Type)).Inc()
		p.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
		if dlqErr := p.queue.DeadLetter(ctx, job, err); dlqErr != nil {
			p.logger.Error("dead letter failed", zap.Error(dlqErr))
		}
	}
}
