package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists delivered in-app notifications and analytics events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notify repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertNotification stores one in-app notification.
func (r *Repository) InsertNotification(ctx context.Context, userID uuid.UUID, title, body, link string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (user_id, title, body, link) VALUES ($1, $2, $3, $4)`,
		userID, title, body, link,
	)
	return err
}

// InsertAnalyticsEvent stores one analytics event. A nil user id is stored as NULL.
func (r *Repository) InsertAnalyticsEvent(ctx context.Context, name string, userID uuid.UUID, amount decimal.Decimal, metadata map[string]string) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	var uid *uuid.UUID
	if userID != uuid.Nil {
		uid = &userID
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO analytics_events (name, user_id, amount, metadata) VALUES ($1, $2, $3, $4)`,
		name, uid, amount, meta,
	)
	return err
}
