package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aura-academy/backend/internal/models"
)

// ErrDuplicatePending is returned by CreatePayment when a pending payment already holds the (user, target, method) slot.
var ErrDuplicatePending = errors.New("pending payment already exists")

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository creates a payments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// WithTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(q Queries) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

const paymentColumns = `id, user_id, course_id, bundle_id, amount, currency, method, status, external_reference,
	coupon_id, discount_amount, slip_url, failure_reason, retry_count, last_retry_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.UserID, &p.CourseID, &p.BundleID, &p.Amount, &p.Currency, &p.Method, &p.Status, &p.ExternalReference,
		&p.CouponID, &p.DiscountAmount, &p.SlipURL, &p.FailureReason, &p.RetryCount, &p.LastRetryAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPayment returns a payment by ID.
func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// FindPendingPayment returns the user's pending payment for target+method, or nil.
func (r *Repository) FindPendingPayment(ctx context.Context, userID uuid.UUID, target models.Target, method string) (*models.Payment, error) {
	col := "course_id"
	if target.BundleID != nil {
		col = "bundle_id"
	}
	q := `SELECT ` + paymentColumns + ` FROM payments
		WHERE user_id = $1 AND ` + col + ` = $2 AND method = $3 AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1`
	p, err := scanPayment(r.db.QueryRow(ctx, q, userID, target.ID(), method))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// CreatePayment inserts a payment. Returns ErrDuplicatePending when the pending slot is taken.
func (r *Repository) CreatePayment(ctx context.Context, p *models.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	const q = `INSERT INTO payments (id, user_id, course_id, bundle_id, amount, currency, method, status, coupon_id, discount_amount)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
		RETURNING id, retry_count, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, p.UserID, p.CourseID, p.BundleID, p.Amount, p.Currency, p.Method, p.Status, p.CouponID, p.DiscountAmount).
		Scan(&p.ID, &p.RetryCount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicatePending
	}
	return err
}

// UpdatePendingQuote refreshes amount and coupon on a still-pending payment.
func (r *Repository) UpdatePendingQuote(ctx context.Context, id uuid.UUID, amount decimal.Decimal, couponID *uuid.UUID, discount decimal.Decimal) error {
	const q = `UPDATE payments SET amount = $2, coupon_id = $3, discount_amount = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, q, id, amount, couponID, discount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSlipURL records where the slip image was archived.
func (r *Repository) SetSlipURL(ctx context.Context, id uuid.UUID, url string) error {
	_, err := r.db.Exec(ctx, `UPDATE payments SET slip_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	return err
}

// TransitionPayment is a compare-and-swap on status.
func (r *Repository) TransitionPayment(ctx context.Context, id uuid.UUID, from []string, to, ref, reason string) (bool, error) {
	const q = `UPDATE payments SET status = $3,
			external_reference = COALESCE(NULLIF($4, ''), external_reference),
			failure_reason = CASE WHEN $3 = 'completed' THEN '' ELSE COALESCE(NULLIF($5, ''), failure_reason) END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`
	from = Allowed(from, to)
	if len(from) == 0 {
		return false, nil
	}
	tag, err := r.db.Exec(ctx, q, id, from, to, ref, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordRetry stamps a retry, optionally changing status.
func (r *Repository) RecordRetry(ctx context.Context, u RetryUpdate) (bool, error) {
	from := u.From
	if u.To != "" {
		from = Allowed(from, u.To)
	}
	if len(from) == 0 {
		return false, nil
	}
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	const q = `UPDATE payments SET retry_count = retry_count + 1, last_retry_at = $2,
			status = COALESCE(NULLIF($3, ''), status),
			failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($5) AND ($6 <= 0 OR retry_count < $6)`
	tag, err := r.db.Exec(ctx, q, u.PaymentID, at, u.To, u.FailureReason, from, u.MaxRetries)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListPayments returns payments matching f, oldest first.
func (r *Repository) ListPayments(ctx context.Context, f ListFilter) ([]models.Payment, error) {
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		args = append(args, f.Statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Method != "" {
		args = append(args, f.Method)
		conds = append(conds, fmt.Sprintf("method = $%d", len(args)))
	}
	q := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// LockPayment takes a transaction-scoped advisory lock keyed on the payment id.
func (r *Repository) LockPayment(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, id.String())
	return err
}

// GetCourse returns a course with its pricing.
func (r *Repository) GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	const q = `SELECT id, title, price, promo_price, promo_starts_at, promo_ends_at, created_at, updated_at FROM courses WHERE id = $1`
	var c models.Course
	err := r.db.QueryRow(ctx, q, id).Scan(&c.ID, &c.Title, &c.Price, &c.PromoPrice, &c.PromoStartsAt, &c.PromoEndsAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetBundle returns a bundle and its course ids in bundle order.
func (r *Repository) GetBundle(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	const q = `SELECT id, title, price, promo_price, promo_starts_at, promo_ends_at, created_at, updated_at FROM bundles WHERE id = $1`
	var b models.Bundle
	err := r.db.QueryRow(ctx, q, id).Scan(&b.ID, &b.Title, &b.Price, &b.PromoPrice, &b.PromoStartsAt, &b.PromoEndsAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT course_id FROM bundle_courses WHERE bundle_id = $1 ORDER BY order_index, course_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid uuid.UUID
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		b.CourseIDs = append(b.CourseIDs, cid)
	}
	return &b, rows.Err()
}

// GetUser returns the notification view of a user.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, email, full_name, role, locale FROM users WHERE id = $1`
	var u models.User
	err := r.db.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Locale)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// IsEnrolled reports whether the user has an enrollment for the course.
func (r *Repository) IsEnrolled(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)`, userID, courseID).Scan(&ok)
	return ok, err
}

// Enroll inserts an enrollment, ignoring an existing one.
func (r *Repository) Enroll(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	const q = `INSERT INTO enrollments (user_id, course_id) VALUES ($1, $2)
		ON CONFLICT (user_id, course_id) DO NOTHING`
	tag, err := r.db.Exec(ctx, q, userID, courseID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const couponColumns = `id, code, discount_type, discount_value, max_discount, min_purchase, usage_limit, usage_count,
	per_user_limit, course_id, is_active, starts_at, expires_at, created_at, updated_at`

func scanCoupon(row pgx.Row) (*models.Coupon, error) {
	var c models.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.MaxDiscount, &c.MinPurchase, &c.UsageLimit, &c.UsageCount,
		&c.PerUserLimit, &c.CourseID, &c.IsActive, &c.StartsAt, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCoupon returns a coupon by ID.
func (r *Repository) GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	return scanCoupon(r.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
}

// GetCouponByCode looks a coupon up by its case-insensitive code.
func (r *Repository) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return scanCoupon(r.db.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE UPPER(code) = UPPER($1)`, strings.TrimSpace(code)))
}

// CountCouponUsage returns how many times the user redeemed the coupon.
func (r *Repository) CountCouponUsage(ctx context.Context, couponID, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`, couponID, userID).Scan(&n)
	return n, err
}

// IncrementCouponUsage is the conditional increment that keeps usage_count within usage_limit.
func (r *Repository) IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) (bool, error) {
	const q = `UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`
	tag, err := r.db.Exec(ctx, q, couponID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertCouponUsage records a redemption.
func (r *Repository) InsertCouponUsage(ctx context.Context, u *models.CouponUsage) error {
	const q = `INSERT INTO coupon_usages (id, coupon_id, user_id, course_id, bundle_id, payment_id, discount_amount)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.db.QueryRow(ctx, q, u.CouponID, u.UserID, u.CourseID, u.BundleID, u.PaymentID, u.DiscountAmount).Scan(&u.ID, &u.CreatedAt)
}

var _ Store = (*Repository)(nil)
