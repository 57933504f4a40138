package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/settlement"
	"github.com/aura-academy/backend/pkg/queue"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs map[queue.JobType][]any
	fail map[queue.JobType]error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[queue.JobType][]any{}, fail: map[queue.JobType]error{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, typ queue.JobType, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.fail[typ]; err != nil {
		return err
	}
	q.jobs[typ] = append(q.jobs[typ], payload)
	return nil
}

type userMap map[uuid.UUID]*models.User

func (m userMap) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

type panicUsers struct{}

func (panicUsers) GetUser(context.Context, uuid.UUID) (*models.User, error) { panic("boom") }

func settledEvent(userID uuid.UUID) settlement.SettledEvent {
	courseID := uuid.New()
	return settlement.SettledEvent{
		PaymentID: uuid.New(),
		UserID:    userID,
		Target:    models.CourseTarget(courseID),
		Amount:    decimal.RequireFromString("792"),
		Currency:  "THB",
		Method:    models.PaymentMethodPromptPay,
		Enrolled:  []uuid.UUID{courseID},
		SettledAt: time.Now(),
	}
}

func TestDispatcher_QueuesAllSideEffects(t *testing.T) {
	userID := uuid.New()
	q := newFakeQueue()
	d := NewDispatcher(q, userMap{userID: {ID: userID, Email: "student@example.com", Locale: "th"}}, nil)

	ev := settledEvent(userID)
	d.PaymentSettled(context.Background(), ev)
	d.Wait()

	if len(q.jobs[queue.JobTypeAnalytics]) != 1 || len(q.jobs[queue.JobTypeNotification]) != 1 || len(q.jobs[queue.JobTypeEmail]) != 1 {
		t.Fatalf("unexpected jobs: %+v", q.jobs)
	}
	a := q.jobs[queue.JobTypeAnalytics][0].(queue.AnalyticsPayload)
	if a.Amount != "792.00" || a.Metadata["target_type"] != "course" || a.Metadata["payment_id"] != ev.PaymentID.String() {
		t.Errorf("analytics payload = %+v", a)
	}
	n := q.jobs[queue.JobTypeNotification][0].(queue.NotificationPayload)
	if n.Title != "ชำระเงินสำเร็จ" {
		t.Errorf("title = %q, want thai", n.Title)
	}
	e := q.jobs[queue.JobTypeEmail][0].(queue.EmailPayload)
	if e.RecipientEmail != "student@example.com" || e.PaymentID != ev.PaymentID {
		t.Errorf("email payload = %+v", e)
	}
}

func TestDispatcher_EnglishLocale(t *testing.T) {
	userID := uuid.New()
	q := newFakeQueue()
	d := NewDispatcher(q, userMap{userID: {ID: userID, Locale: "en"}}, nil)
	d.PaymentSettled(context.Background(), settledEvent(userID))
	d.Wait()

	n := q.jobs[queue.JobTypeNotification][0].(queue.NotificationPayload)
	if n.Title != "Payment successful" {
		t.Errorf("title = %q", n.Title)
	}
	if len(q.jobs[queue.JobTypeEmail]) != 0 {
		t.Error("email queued for user without address")
	}
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	userID := uuid.New()
	q := newFakeQueue()
	q.fail[queue.JobTypeAnalytics] = errors.New("redis down")
	d := NewDispatcher(q, userMap{userID: {ID: userID, Email: "a@b.c"}}, nil)
	d.PaymentSettled(context.Background(), settledEvent(userID))
	d.Wait()

	if len(q.jobs[queue.JobTypeEmail]) != 1 {
		t.Error("analytics failure blocked email")
	}
}

func TestDispatcher_UnknownUserSkipsMessages(t *testing.T) {
	q := newFakeQueue()
	d := NewDispatcher(q, userMap{}, nil)
	d.PaymentSettled(context.Background(), settledEvent(uuid.New()))
	d.Wait()

	if len(q.jobs[queue.JobTypeAnalytics]) != 1 {
		t.Error("analytics should still be queued")
	}
	if len(q.jobs[queue.JobTypeNotification])+len(q.jobs[queue.JobTypeEmail]) != 0 {
		t.Error("messages queued without a user")
	}
}

func TestDispatcher_SurvivesCanceledCallerAndPanic(t *testing.T) {
	q := newFakeQueue()
	d := NewDispatcher(q, panicUsers{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.PaymentSettled(ctx, settledEvent(uuid.New()))
	d.Wait()

	if len(q.jobs[queue.JobTypeAnalytics]) != 1 {
		t.Error("canceled request context should not cancel side effects")
	}
}
