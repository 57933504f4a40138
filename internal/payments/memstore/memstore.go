// Package memstore is an in-memory payments.Store. Transactions run one at a time
// against a copy of the data that replaces the live copy on commit.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
)

type enrollKey struct{ user, course uuid.UUID }

type state struct {
	payments    map[uuid.UUID]models.Payment
	courses     map[uuid.UUID]models.Course
	bundles     map[uuid.UUID]models.Bundle
	users       map[uuid.UUID]models.User
	enrollments map[enrollKey]models.Enrollment
	coupons     map[uuid.UUID]models.Coupon
	usages      []models.CouponUsage
}

func newState() *state {
	return &state{
		payments:    make(map[uuid.UUID]models.Payment),
		courses:     make(map[uuid.UUID]models.Course),
		bundles:     make(map[uuid.UUID]models.Bundle),
		users:       make(map[uuid.UUID]models.User),
		enrollments: make(map[enrollKey]models.Enrollment),
		coupons:     make(map[uuid.UUID]models.Coupon),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		payments:    cloneMap(s.payments),
		courses:     cloneMap(s.courses),
		bundles:     cloneMap(s.bundles),
		users:       cloneMap(s.users),
		enrollments: cloneMap(s.enrollments),
		coupons:     cloneMap(s.coupons),
		usages:      append([]models.CouponUsage(nil), s.usages...),
	}
}

// Store implements payments.Store in memory.
type Store struct {
	mu      sync.Mutex
	st      *state
	now     func() time.Time
	failTx  error
	txCount int
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNextTx makes the next WithTx run fn and then roll back with err.
func (s *Store) FailNextTx(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTx = err
}

// Commits returns the number of committed transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) view() *view { return &view{st: s.st, now: s.now} }

// WithTx implements payments.Store.
func (s *Store) WithTx(ctx context.Context, fn func(q payments.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	cl := s.st.clone()
	if err := fn(&view{st: cl, now: s.now}); err != nil {
		return err
	}
	if s.failTx != nil {
		err := s.failTx
		s.failTx = nil
		return err
	}
	s.st = cl
	s.txCount++
	return nil
}

// Seeding and inspection helpers.

// AddUser stores a user.
func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// AddCourse stores a course.
func (s *Store) AddCourse(c models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.courses[c.ID] = c
}

// AddBundle stores a bundle.
func (s *Store) AddBundle(b models.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bundles[b.ID] = b
}

// AddCoupon stores a coupon.
func (s *Store) AddCoupon(c models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.coupons[c.ID] = c
}

// PutPayment stores a payment as-is, assigning an ID when missing.
func (s *Store) PutPayment(p models.Payment) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
		p.UpdatedAt = p.CreatedAt
	}
	s.st.payments[p.ID] = p
	return p.ID
}

// AddEnrollment stores an enrollment directly.
func (s *Store) AddEnrollment(userID, courseID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.enrollments[enrollKey{userID, courseID}] = models.Enrollment{UserID: userID, CourseID: courseID, EnrolledAt: s.now()}
}

// Payment returns a copy of the stored payment.
func (s *Store) Payment(id uuid.UUID) (models.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.payments[id]
	return p, ok
}

// Coupon returns a copy of the stored coupon.
func (s *Store) Coupon(id uuid.UUID) (models.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.coupons[id]
	return c, ok
}

// Enrollments returns the user's enrolled course ids.
func (s *Store) Enrollments(userID uuid.UUID) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for k := range s.st.enrollments {
		if k.user == userID {
			ids = append(ids, k.course)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// CouponUsages returns every recorded redemption.
func (s *Store) CouponUsages() []models.CouponUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CouponUsage(nil), s.st.usages...)
}

// Payments returns every stored payment.
func (s *Store) Payments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Payment, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, p)
	}
	return out
}

// Queries outside a transaction; each call is atomic on its own.

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetPayment(ctx, id)
}

func (s *Store) FindPendingPayment(ctx context.Context, userID uuid.UUID, target models.Target, method string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindPendingPayment(ctx, userID, target, method)
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreatePayment(ctx, p)
}

func (s *Store) UpdatePendingQuote(ctx context.Context, id uuid.UUID, amount decimal.Decimal, couponID *uuid.UUID, discount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdatePendingQuote(ctx, id, amount, couponID, discount)
}

func (s *Store) SetSlipURL(ctx context.Context, id uuid.UUID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().SetSlipURL(ctx, id, url)
}

func (s *Store) TransitionPayment(ctx context.Context, id uuid.UUID, from []string, to, ref, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().TransitionPayment(ctx, id, from, to, ref, reason)
}

func (s *Store) RecordRetry(ctx context.Context, u payments.RetryUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().RecordRetry(ctx, u)
}

func (s *Store) ListPayments(ctx context.Context, f payments.ListFilter) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListPayments(ctx, f)
}

func (s *Store) LockPayment(ctx context.Context, id uuid.UUID) error { return nil }

func (s *Store) GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetCourse(ctx, id)
}

func (s *Store) GetBundle(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetBundle(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetUser(ctx, id)
}

func (s *Store) IsEnrolled(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().IsEnrolled(ctx, userID, courseID)
}

func (s *Store) Enroll(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().Enroll(ctx, userID, courseID)
}

func (s *Store) GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetCoupon(ctx, id)
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetCouponByCode(ctx, code)
}

func (s *Store) CountCouponUsage(ctx context.Context, couponID, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CountCouponUsage(ctx, couponID, userID)
}

func (s *Store) IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().IncrementCouponUsage(ctx, couponID)
}

func (s *Store) InsertCouponUsage(ctx context.Context, u *models.CouponUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().InsertCouponUsage(ctx, u)
}

// view runs queries against one state without locking.
type view struct {
	st  *state
	now func() time.Time
}

func (v *view) GetPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	p, ok := v.st.payments[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	return &p, nil
}

func sameTarget(p models.Payment, t models.Target) bool {
	if t.CourseID != nil {
		return p.CourseID != nil && *p.CourseID == *t.CourseID
	}
	return t.BundleID != nil && p.BundleID != nil && *p.BundleID == *t.BundleID
}

func (v *view) FindPendingPayment(_ context.Context, userID uuid.UUID, target models.Target, method string) (*models.Payment, error) {
	var found *models.Payment
	for _, p := range v.st.payments {
		if p.UserID == userID && p.Method == method && p.Status == models.PaymentStatusPending && sameTarget(p, target) {
			if found == nil || p.CreatedAt.After(found.CreatedAt) {
				cp := p
				found = &cp
			}
		}
	}
	return found, nil
}

func (v *view) CreatePayment(ctx context.Context, p *models.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	if p.Status == models.PaymentStatusPending && p.Method == models.PaymentMethodPromptPay {
		if existing, _ := v.FindPendingPayment(ctx, p.UserID, p.Target(), p.Method); existing != nil {
			return payments.ErrDuplicatePending
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = v.now()
	p.UpdatedAt = p.CreatedAt
	v.st.payments[p.ID] = *p
	return nil
}

func (v *view) UpdatePendingQuote(_ context.Context, id uuid.UUID, amount decimal.Decimal, couponID *uuid.UUID, discount decimal.Decimal) error {
	p, ok := v.st.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return payments.ErrNotFound
	}
	p.Amount = amount
	p.CouponID = couponID
	p.DiscountAmount = discount
	p.UpdatedAt = v.now()
	v.st.payments[id] = p
	return nil
}

func (v *view) SetSlipURL(_ context.Context, id uuid.UUID, url string) error {
	p, ok := v.st.payments[id]
	if !ok {
		return nil
	}
	p.SlipURL = url
	v.st.payments[id] = p
	return nil
}

func (v *view) TransitionPayment(_ context.Context, id uuid.UUID, from []string, to, ref, reason string) (bool, error) {
	p, ok := v.st.payments[id]
	if !ok || !payments.Contains(payments.Allowed(from, to), p.Status) {
		return false, nil
	}
	p.Status = to
	if ref != "" {
		p.ExternalReference = ref
	}
	if to == models.PaymentStatusCompleted {
		p.FailureReason = ""
	} else if reason != "" {
		p.FailureReason = reason
	}
	p.UpdatedAt = v.now()
	v.st.payments[id] = p
	return true, nil
}

func (v *view) RecordRetry(_ context.Context, u payments.RetryUpdate) (bool, error) {
	from := u.From
	if u.To != "" {
		from = payments.Allowed(from, u.To)
	}
	p, ok := v.st.payments[u.PaymentID]
	if !ok || !payments.Contains(from, p.Status) {
		return false, nil
	}
	if u.MaxRetries > 0 && p.RetryCount >= u.MaxRetries {
		return false, nil
	}
	at := u.At
	if at.IsZero() {
		at = v.now()
	}
	p.RetryCount++
	p.LastRetryAt = &at
	if u.To != "" {
		p.Status = u.To
	}
	if u.FailureReason != "" {
		p.FailureReason = u.FailureReason
	}
	p.UpdatedAt = v.now()
	v.st.payments[u.PaymentID] = p
	return true, nil
}

func (v *view) ListPayments(_ context.Context, f payments.ListFilter) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range v.st.payments {
		if len(f.Statuses) > 0 && !payments.Contains(f.Statuses, p.Status) {
			continue
		}
		if f.Method != "" && p.Method != f.Method {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *view) LockPayment(context.Context, uuid.UUID) error { return nil }

func (v *view) GetCourse(_ context.Context, id uuid.UUID) (*models.Course, error) {
	c, ok := v.st.courses[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	return &c, nil
}

func (v *view) GetBundle(_ context.Context, id uuid.UUID) (*models.Bundle, error) {
	b, ok := v.st.bundles[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	b.CourseIDs = append([]uuid.UUID(nil), b.CourseIDs...)
	return &b, nil
}

func (v *view) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := v.st.users[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	return &u, nil
}

func (v *view) IsEnrolled(_ context.Context, userID, courseID uuid.UUID) (bool, error) {
	_, ok := v.st.enrollments[enrollKey{userID, courseID}]
	return ok, nil
}

func (v *view) Enroll(_ context.Context, userID, courseID uuid.UUID) (bool, error) {
	k := enrollKey{userID, courseID}
	if _, ok := v.st.enrollments[k]; ok {
		return false, nil
	}
	v.st.enrollments[k] = models.Enrollment{UserID: userID, CourseID: courseID, EnrolledAt: v.now()}
	return true, nil
}

func (v *view) GetCoupon(_ context.Context, id uuid.UUID) (*models.Coupon, error) {
	c, ok := v.st.coupons[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	return &c, nil
}

func (v *view) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	code = strings.TrimSpace(code)
	for _, c := range v.st.coupons {
		if strings.EqualFold(c.Code, code) {
			return &c, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (v *view) CountCouponUsage(_ context.Context, couponID, userID uuid.UUID) (int, error) {
	n := 0
	for _, u := range v.st.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (v *view) IncrementCouponUsage(_ context.Context, couponID uuid.UUID) (bool, error) {
	c, ok := v.st.coupons[couponID]
	if !ok {
		return false, nil
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return false, nil
	}
	c.UsageCount++
	v.st.coupons[couponID] = c
	return true, nil
}

func (v *view) InsertCouponUsage(_ context.Context, u *models.CouponUsage) error {
	u.ID = uuid.New()
	u.CreatedAt = v.now()
	v.st.usages = append(v.st.usages, *u)
	return nil
}

var _ payments.Store = (*Store)(nil)
