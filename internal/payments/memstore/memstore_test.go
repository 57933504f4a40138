package memstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/payments"
)

func TestTransitionPayment_FollowsStatusTable(t *testing.T) {
	ctx := context.Background()
	st := New()
	course := uuid.New()
	id := st.PutPayment(models.Payment{
		UserID:   uuid.New(),
		CourseID: &course,
		Amount:   decimal.NewFromInt(990),
		Currency: "THB",
		Method:   models.PaymentMethodPromptPay,
		Status:   models.PaymentStatusCompleted,
	})
	every := []string{models.PaymentStatusPending, models.PaymentStatusVerifying, models.PaymentStatusFailed, models.PaymentStatusCompleted}

	ok, err := st.TransitionPayment(ctx, id, every, models.PaymentStatusFailed, "", "late_rejection")
	if err != nil || ok {
		t.Fatalf("completed -> failed = %v, %v; want refused", ok, err)
	}
	ok, err = st.RecordRetry(ctx, payments.RetryUpdate{PaymentID: id, From: every, To: models.PaymentStatusFailed})
	if err != nil || ok {
		t.Fatalf("retry completed -> failed = %v, %v; want refused", ok, err)
	}
	if p, _ := st.Payment(id); p.Status != models.PaymentStatusCompleted || p.RetryCount != 0 {
		t.Errorf("payment = %s retries %d", p.Status, p.RetryCount)
	}
}
