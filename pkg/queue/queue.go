package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEmails is the Redis list key for email jobs.
	QueueEmails = "worker:emails"
	// QueueNotifications is the Redis list key for in-app notification jobs.
	QueueNotifications = "worker:notifications"
	// QueueAnalytics is the Redis list key for analytics event jobs.
	QueueAnalytics = "worker:analytics"
	// QueueDLQ holds side-effect jobs that failed. They are kept for inspection, never replayed automatically.
	QueueDLQ = "worker:dlq"
	// PollTimeout bounds one blocking dequeue so the worker can observe shutdown.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeEmail        JobType = "email"
	JobTypeNotification JobType = "notification"
	JobTypeAnalytics    JobType = "analytics"
)

var queueFor = map[JobType]string{
	JobTypeEmail:        QueueEmails,
	JobTypeNotification: QueueNotifications,
	JobTypeAnalytics:    QueueAnalytics,
}

// EmailPayload is the payload for email jobs.
type EmailPayload struct {
	Template       string    `json:"template"`
	PaymentID      uuid.UUID `json:"payment_id"`
	RecipientEmail string    `json:"recipient_email"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
}

// NotificationPayload is the payload for in-app notification jobs.
type NotificationPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Link   string    `json:"link,omitempty"`
}

// AnalyticsPayload is the payload for analytics event jobs.
type AnalyticsPayload struct {
	Event    string            `json:"event"`
	UserID   uuid.UUID         `json:"user_id"`
	Amount   string            `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue wraps payload in a Job and pushes it to the list for its type.
func (q *Queue) Enqueue(ctx context.Context, typ JobType, payload any) error {
	key, ok := queueFor[typ]
	if !ok {
		return fmt.Errorf("unknown job type: %s", typ)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(typ)))
	return nil
}

// Dequeue blocks up to PollTimeout for a job from any side-effect list.
// It returns nil, "", nil when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueEmails, QueueNotifications, QueueAnalytics).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// DeadLetter parks a failed job on the DLQ with its error.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, cause error) error {
	job.Attempt++
	if cause != nil {
		job.Error = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}
